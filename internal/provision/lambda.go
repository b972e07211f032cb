package provision

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"
)

type LambdaAPI interface {
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
}

type functionDriver struct {
	client       LambdaAPI
	logger       *zap.Logger
	readFile     func(string) ([]byte, error)
	roleAttempts int
	roleDelay    time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func (d *functionDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.FunctionSpec)

	readFile := d.readFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	code, err := readFile(spec.CodePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read function code: %w", err)
	}

	roleArn, err := resolver.Resolve(spec.RoleArn)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(spec.Environment))
	for _, key := range spec.EnvironmentKeys() {
		value, err := resolver.Resolve(spec.Environment[key])
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", key, err)
		}
		env[key] = value
	}

	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.FunctionName),
		Role:         aws.String(roleArn),
		Runtime:      lambdatypes.Runtime(spec.Runtime),
		Handler:      aws.String(spec.Handler),
		Code:         &lambdatypes.FunctionCode{ZipFile: code},
		Timeout:      aws.Int32(int32(spec.Timeout / time.Second)),
		Environment:  &lambdatypes.Environment{Variables: env},
	}
	if spec.MemoryMB > 0 {
		input.MemorySize = aws.Int32(spec.MemoryMB)
	}
	if spec.Architecture != "" {
		input.Architectures = []lambdatypes.Architecture{lambdatypes.Architecture(spec.Architecture)}
	}

	out, err := d.createWithRoleRetry(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create function: %w", err)
	}

	err = poll(ctx, d.pollInterval, d.pollTimeout, func(ctx context.Context) (bool, error) {
		got, err := d.client.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(spec.FunctionName)})
		if err != nil {
			return false, fmt.Errorf("failed to get function: %w", err)
		}
		switch got.Configuration.State {
		case lambdatypes.StateActive:
			return true, nil
		case lambdatypes.StateFailed:
			return false, fmt.Errorf("function %s failed: %s", spec.FunctionName, aws.ToString(got.Configuration.StateReason))
		default:
			return false, nil
		}
	})
	if err != nil {
		if delErr := d.delete(ctx, spec.FunctionName); delErr != nil {
			d.logger.Error("Failed to clean up function", zap.Error(delErr), zap.String("function", spec.FunctionName))
		}
		return nil, err
	}

	return map[string]string{
		stack.AttrName: aws.ToString(out.FunctionName),
		stack.AttrArn:  aws.ToString(out.FunctionArn),
	}, nil
}

// createWithRoleRetry retries while a freshly created execution role is still
// propagating through IAM.
func (d *functionDriver) createWithRoleRetry(ctx context.Context, input *lambda.CreateFunctionInput) (*lambda.CreateFunctionOutput, error) {
	attempts := d.roleAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := d.client.CreateFunction(ctx, input)
		if err == nil {
			return out, nil
		}
		if !isRolePropagationError(err) {
			return nil, err
		}
		lastErr = err
		d.logger.Info("Execution role not assumable yet, retrying",
			zap.Int("attempt", attempt),
			zap.String("function", aws.ToString(input.FunctionName)))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.roleDelay * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func isRolePropagationError(err error) bool {
	return hasErrorCode(err, "InvalidParameterValueException") && strings.Contains(err.Error(), "cannot be assumed")
}

func (d *functionDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	return d.delete(ctx, record.Attributes[stack.AttrName])
}

func (d *functionDriver) delete(ctx context.Context, name string) error {
	_, err := d.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil && !hasErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete function: %w", err)
	}
	return nil
}
