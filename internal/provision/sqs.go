package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type SQSAdminAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

type queueDriver struct {
	client SQSAdminAPI
	logger *zap.Logger
}

const attrDeadLetterURL = "dead_letter_url"

func (d *queueDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.QueueSpec)

	var sourceArn string
	if !spec.SourceArn.IsZero() {
		var err error
		if sourceArn, err = resolver.Resolve(spec.SourceArn); err != nil {
			return nil, err
		}
	}

	attrs := map[string]string{}
	queueAttrs := map[string]string{
		string(sqstypes.QueueAttributeNameReceiveMessageWaitTimeSeconds): "20",
		string(sqstypes.QueueAttributeNameVisibilityTimeout):             "120",
	}

	if spec.MaxReceiveCount > 0 {
		dlqURL, dlqArn, err := d.createDeadLetterQueue(ctx, spec.QueueName+"-dlq")
		if err != nil {
			return nil, err
		}
		attrs[attrDeadLetterURL] = dlqURL
		redrive, err := json.Marshal(map[string]string{
			"deadLetterTargetArn": dlqArn,
			"maxReceiveCount":     strconv.Itoa(spec.MaxReceiveCount),
		})
		if err != nil {
			d.cleanup(ctx, attrs)
			return nil, fmt.Errorf("failed to marshal redrive policy: %w", err)
		}
		queueAttrs[string(sqstypes.QueueAttributeNameRedrivePolicy)] = string(redrive)
	}

	out, err := d.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(spec.QueueName),
		Attributes: queueAttrs,
	})
	if err != nil {
		d.cleanup(ctx, attrs)
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	attrs[stack.AttrURL] = aws.ToString(out.QueueUrl)

	queueArn, err := d.configure(ctx, attrs[stack.AttrURL], sourceArn)
	if err != nil {
		d.cleanup(ctx, attrs)
		return nil, err
	}
	attrs[stack.AttrArn] = queueArn
	return attrs, nil
}

// createDeadLetterQueue creates the queue that receives messages the worker keeps
// failing on, retained for the SQS maximum of 14 days.
func (d *queueDriver) createDeadLetterQueue(ctx context.Context, name string) (string, string, error) {
	out, err := d.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameMessageRetentionPeriod): "1209600",
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create dead-letter queue: %w", err)
	}
	url := aws.ToString(out.QueueUrl)

	got, err := d.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		if delErr := d.delete(ctx, url); delErr != nil {
			d.logger.Error("Failed to clean up queue", zap.Error(delErr), zap.String("queue_url", url))
		}
		return "", "", fmt.Errorf("failed to get dead-letter queue attributes: %w", err)
	}
	return url, got.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

func (d *queueDriver) cleanup(ctx context.Context, attrs map[string]string) {
	if err := d.Delete(ctx, state.ResourceRecord{Attributes: attrs}); err != nil {
		d.logger.Error("Failed to clean up queue", zap.Error(err), zap.String("queue_url", attrs[stack.AttrURL]))
	}
}

func (d *queueDriver) configure(ctx context.Context, queueURL, sourceArn string) (string, error) {
	attrs, err := d.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue attributes: %w", err)
	}
	queueArn := attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]

	if sourceArn == "" {
		return queueArn, nil
	}
	policy := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "AllowBucketNotifications",
			Effect:    "Allow",
			Principal: map[string]any{"Service": "s3.amazonaws.com"},
			Action:    "sqs:SendMessage",
			Resource:  queueArn,
			Condition: map[string]any{
				"ArnLike": map[string]string{"aws:SourceArn": sourceArn},
			},
		}},
	}
	_, err = d.client.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(queueURL),
		Attributes: map[string]string{string(sqstypes.QueueAttributeNamePolicy): policy.String()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to set queue policy: %w", err)
	}
	return queueArn, nil
}

// Delete removes the queue before its dead-letter queue.
func (d *queueDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	for _, key := range []string{stack.AttrURL, attrDeadLetterURL} {
		if url := record.Attributes[key]; url != "" {
			if err := d.delete(ctx, url); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *queueDriver) delete(ctx context.Context, queueURL string) error {
	_, err := d.client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(queueURL)})
	if err != nil && !hasErrorCode(err, "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist") {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	return nil
}
