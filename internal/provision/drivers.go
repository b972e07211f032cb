package provision

import (
	"time"

	"ivs-moderation/internal/stack"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// NewAWSDrivers wires one driver per resource kind against the AWS APIs.
func NewAWSDrivers(cfg aws.Config, logger *zap.Logger) map[stack.Kind]Driver {
	s3Client := s3.NewFromConfig(cfg)
	lambdaClient := lambda.NewFromConfig(cfg)
	ivsClient := ivs.NewFromConfig(cfg)

	return map[stack.Kind]Driver{
		stack.KindBucket: &bucketDriver{client: s3Client, region: cfg.Region, logger: logger},
		stack.KindRole:   &roleDriver{client: iam.NewFromConfig(cfg), logger: logger},
		stack.KindRecordingConfiguration: &recordingDriver{
			client:       ivsClient,
			logger:       logger,
			pollInterval: 2 * time.Second,
			pollTimeout:  2 * time.Minute,
		},
		stack.KindChannel:   &channelDriver{client: ivsClient},
		stack.KindStreamKey: &streamKeyDriver{client: ivsClient},
		stack.KindFunction: &functionDriver{
			client:       lambdaClient,
			logger:       logger,
			roleAttempts: 6,
			roleDelay:    5 * time.Second,
			pollInterval: 2 * time.Second,
			pollTimeout:  5 * time.Minute,
		},
		stack.KindQueue:              &queueDriver{client: sqs.NewFromConfig(cfg), logger: logger},
		stack.KindBucketNotification: &notificationDriver{client: s3Client, lambda: lambdaClient},
		stack.KindBucketDeployment:   &deploymentDriver{client: s3Client},
		stack.KindDistribution: &distributionDriver{
			client:       cloudfront.NewFromConfig(cfg),
			s3:           s3Client,
			logger:       logger,
			pollInterval: 30 * time.Second,
			pollTimeout:  30 * time.Minute,
		},
	}
}
