package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"
	"ivs-moderation/internal/templates"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used by the bucket drivers.
type S3API interface {
	s3.ListObjectsV2APIClient
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutBucketNotificationConfiguration(ctx context.Context, params *s3.PutBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error)
	PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	DeleteBucketPolicy(ctx context.Context, params *s3.DeleteBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketPolicyOutput, error)
}

const (
	attrAutoDelete  = "auto_delete_objects"
	attrBucket      = "bucket"
	attrFunctionArn = "function_arn"
	attrStatementID = "statement_id"
	attrKeys        = "keys"
)

type bucketDriver struct {
	client S3API
	region string
	logger *zap.Logger
}

func (d *bucketDriver) Create(ctx context.Context, res stack.Resource, _ stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.BucketSpec)

	input := &s3.CreateBucketInput{Bucket: aws.String(spec.BucketName)}
	if d.region != "" && d.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(d.region),
		}
	}
	if _, err := d.client.CreateBucket(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	if err := d.configure(ctx, spec); err != nil {
		if delErr := d.deleteBucket(ctx, spec.BucketName, false); delErr != nil {
			d.logger.Error("Failed to clean up bucket", zap.Error(delErr), zap.String("bucket", spec.BucketName))
		}
		return nil, err
	}

	arn := "arn:aws:s3:::" + spec.BucketName
	return map[string]string{
		stack.AttrName:       spec.BucketName,
		stack.AttrArn:        arn,
		stack.AttrObjectsArn: arn + "/*",
		stack.AttrDomainName: fmt.Sprintf("%s.s3.%s.amazonaws.com", spec.BucketName, d.region),
		attrAutoDelete:       strconv.FormatBool(spec.AutoDeleteObjects),
	}, nil
}

func (d *bucketDriver) configure(ctx context.Context, spec *stack.BucketSpec) error {
	if spec.BlockPublicAccess {
		_, err := d.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: aws.String(spec.BucketName),
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       aws.Bool(true),
				BlockPublicPolicy:     aws.Bool(true),
				IgnorePublicAcls:      aws.Bool(true),
				RestrictPublicBuckets: aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to block public access: %w", err)
		}
	}
	if spec.Versioned {
		_, err := d.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(spec.BucketName),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to enable versioning: %w", err)
		}
	}
	return nil
}

func (d *bucketDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	autoDelete, _ := strconv.ParseBool(record.Attributes[attrAutoDelete])
	return d.deleteBucket(ctx, record.Attributes[stack.AttrName], autoDelete)
}

func (d *bucketDriver) deleteBucket(ctx context.Context, bucket string, empty bool) error {
	if empty {
		if err := emptyBucket(ctx, d.client, bucket); err != nil {
			if hasErrorCode(err, "NoSuchBucket") {
				return nil
			}
			return err
		}
	}
	_, err := d.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !hasErrorCode(err, "NoSuchBucket") {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

func emptyBucket(ctx context.Context, client S3API, bucket string) error {
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		if err := deleteObjects(ctx, client, bucket, objects); err != nil {
			return err
		}
	}
	return nil
}

func deleteObjects(ctx context.Context, client S3API, bucket string, objects []s3types.ObjectIdentifier) error {
	_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

// LambdaPermissionAPI grants S3 the right to invoke the thumbnail handler.
type LambdaPermissionAPI interface {
	AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	RemovePermission(ctx context.Context, params *lambda.RemovePermissionInput, optFns ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error)
}

type notificationDriver struct {
	client S3API
	lambda LambdaPermissionAPI
}

func (d *notificationDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.BucketNotificationSpec)

	bucket, err := resolver.Resolve(spec.Bucket)
	if err != nil {
		return nil, err
	}
	bucketArn, err := resolver.Resolve(spec.BucketArn)
	if err != nil {
		return nil, err
	}

	events := make([]s3types.Event, 0, len(spec.Events))
	for _, e := range spec.Events {
		events = append(events, s3types.Event(e))
	}
	var filter *s3types.NotificationConfigurationFilter
	if spec.Suffix != "" {
		filter = &s3types.NotificationConfigurationFilter{
			Key: &s3types.S3KeyFilter{
				FilterRules: []s3types.FilterRule{{Name: s3types.FilterRuleNameSuffix, Value: aws.String(spec.Suffix)}},
			},
		}
	}

	attrs := map[string]string{
		stack.AttrID: bucket + "/notifications",
		attrBucket:   bucket,
	}
	notification := &s3types.NotificationConfiguration{}

	if !spec.FunctionArn.IsZero() {
		functionArn, err := resolver.Resolve(spec.FunctionArn)
		if err != nil {
			return nil, err
		}
		statementID := "s3-invoke-" + bucket
		_, err = d.lambda.AddPermission(ctx, &lambda.AddPermissionInput{
			FunctionName: aws.String(functionArn),
			StatementId:  aws.String(statementID),
			Action:       aws.String("lambda:InvokeFunction"),
			Principal:    aws.String("s3.amazonaws.com"),
			SourceArn:    aws.String(bucketArn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to allow s3 to invoke function: %w", err)
		}
		attrs[attrFunctionArn] = functionArn
		attrs[attrStatementID] = statementID
		notification.LambdaFunctionConfigurations = []s3types.LambdaFunctionConfiguration{{
			LambdaFunctionArn: aws.String(functionArn),
			Events:            events,
			Filter:            filter,
		}}
	}

	if !spec.QueueArn.IsZero() {
		queueArn, err := resolver.Resolve(spec.QueueArn)
		if err != nil {
			return nil, err
		}
		notification.QueueConfigurations = []s3types.QueueConfiguration{{
			QueueArn: aws.String(queueArn),
			Events:   events,
			Filter:   filter,
		}}
	}

	_, err = d.client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket:                    aws.String(bucket),
		NotificationConfiguration: notification,
	})
	if err != nil {
		if rmErr := d.removePermission(ctx, attrs); rmErr != nil {
			err = fmt.Errorf("%w (cleanup: %v)", err, rmErr)
		}
		return nil, fmt.Errorf("failed to configure bucket notifications: %w", err)
	}
	return attrs, nil
}

func (d *notificationDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	_, err := d.client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket:                    aws.String(record.Attributes[attrBucket]),
		NotificationConfiguration: &s3types.NotificationConfiguration{},
	})
	if err != nil && !hasErrorCode(err, "NoSuchBucket") {
		return fmt.Errorf("failed to clear bucket notifications: %w", err)
	}
	return d.removePermission(ctx, record.Attributes)
}

func (d *notificationDriver) removePermission(ctx context.Context, attrs map[string]string) error {
	if attrs[attrFunctionArn] == "" {
		return nil
	}
	_, err := d.lambda.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(attrs[attrFunctionArn]),
		StatementId:  aws.String(attrs[attrStatementID]),
	})
	if err != nil && !hasErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to remove invoke permission: %w", err)
	}
	return nil
}

// deploymentDriver uploads the demo site and its config.json.
type deploymentDriver struct {
	client S3API
}

func (d *deploymentDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.BucketDeploymentSpec)

	bucket, err := resolver.Resolve(spec.Bucket)
	if err != nil {
		return nil, err
	}
	playbackURL, err := resolver.Resolve(spec.PlaybackURL)
	if err != nil {
		return nil, err
	}

	files, err := templates.BuildSite(templates.SiteData{Title: spec.Title, PlaybackURL: playbackURL})
	if err != nil {
		return nil, fmt.Errorf("failed to build site: %w", err)
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(bucket),
			Key:          aws.String(f.Key),
			Body:         bytes.NewReader(f.Body),
			ContentType:  aws.String(f.ContentType),
			CacheControl: aws.String("no-cache"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", f.Key, err)
		}
		keys = append(keys, f.Key)
	}

	return map[string]string{
		stack.AttrID: bucket + "/site",
		attrBucket:   bucket,
		attrKeys:     strings.Join(keys, ","),
	}, nil
}

func (d *deploymentDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	keys := strings.Split(record.Attributes[attrKeys], ",")
	objects := make([]s3types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
	}
	if len(objects) == 0 {
		return nil
	}
	err := deleteObjects(ctx, d.client, record.Attributes[attrBucket], objects)
	if err != nil && !hasErrorCode(err, "NoSuchBucket") {
		return err
	}
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string         `json:"Sid,omitempty"`
	Effect    string         `json:"Effect"`
	Principal map[string]any `json:"Principal,omitempty"`
	Action    any            `json:"Action"`
	Resource  any            `json:"Resource,omitempty"`
	Condition map[string]any `json:"Condition,omitempty"`
}

func (p policyDocument) String() string {
	data, _ := json.Marshal(p)
	return string(data)
}

// cloudFrontReadPolicy lets one distribution read every object through its origin
// access control.
func cloudFrontReadPolicy(bucket, distributionArn string) string {
	return policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "AllowCloudFrontServicePrincipalReadOnly",
			Effect:    "Allow",
			Principal: map[string]any{"Service": "cloudfront.amazonaws.com"},
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::" + bucket + "/*",
			Condition: map[string]any{
				"StringEquals": map[string]string{"AWS:SourceArn": distributionArn},
			},
		}},
	}.String()
}
