package stack

import (
	"fmt"
	"strings"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/types"
)

// Logical names of the moderation stack resources.
const (
	ThumbnailBucket        = "ThumbnailBucket"
	IvsRecordingRole       = "IvsRecordingRole"
	RecordingConfiguration = "RecordingConfiguration"
	Channel                = "Channel"
	StreamKey              = "StreamKey"
	FunctionRole           = "FunctionRole"
	ThumbnailHandler       = "ThumbnailHandler"
	ThumbnailQueue         = "ThumbnailQueue"
	ThumbnailNotification  = "ThumbnailNotification"
	SiteDeployment         = "SiteDeployment"
	Distribution           = "Distribution"
)

const objectCreatedEvent = "s3:ObjectCreated:*"

// BucketName derives the per-deployment bucket name.
func BucketName(prefix, deploymentID string) string {
	return strings.ToLower(fmt.Sprintf("%s-%s", prefix, deploymentID))
}

// NewModerationStack declares the live channel, thumbnail recording, thumbnail handler
// and demo website resources in dependency order.
func NewModerationStack(cfg config.StackConfig, handler config.HandlerConfig, deploymentID string) *Definition {
	d := &Definition{Name: cfg.Name, DeploymentID: deploymentID}

	removal := RemovalDestroy
	if cfg.RetainBucket {
		removal = RemovalRetain
	}
	d.Add(ThumbnailBucket, &BucketSpec{
		BucketName:        BucketName(cfg.BucketPrefix, deploymentID),
		BlockPublicAccess: true,
		RemovalPolicy:     removal,
		AutoDeleteObjects: removal == RemovalDestroy,
	})

	d.Add(IvsRecordingRole, &RoleSpec{
		RoleName:  roleName(cfg.Name, "ivs-recording", deploymentID),
		AssumedBy: "ivs.amazonaws.com",
		InlinePolicies: []InlinePolicy{{
			Name: "ThumbnailWrite",
			Statements: []Statement{
				{
					Effect:    "Allow",
					Actions:   []string{"s3:PutObject", "s3:PutObjectAcl"},
					Resources: []Value{RefTo(ThumbnailBucket, AttrObjectsArn)},
				},
				{
					Effect:    "Allow",
					Actions:   []string{"s3:GetBucketLocation", "s3:ListBucket"},
					Resources: []Value{RefTo(ThumbnailBucket, AttrArn)},
				},
			},
		}},
	})

	d.Add(RecordingConfiguration, &RecordingConfigurationSpec{
		Name:               cfg.Recording.Name,
		BucketName:         RefTo(ThumbnailBucket, AttrName),
		RenditionSelection: cfg.Recording.RenditionSelection,
		ThumbnailMode:      "INTERVAL",
		ThumbnailInterval:  cfg.Recording.ThumbnailInterval,
		ThumbnailStorage:   []string{"SEQUENTIAL"},
		ReconnectWindow:    cfg.Recording.ReconnectWindow,
	})

	d.Add(Channel, &ChannelSpec{
		Name:                      cfg.Channel.Name,
		LatencyMode:               cfg.Channel.LatencyMode,
		Type:                      cfg.Channel.Type,
		Authorized:                cfg.Channel.Authorized,
		RecordingConfigurationArn: RefTo(RecordingConfiguration, AttrArn),
	})

	d.Add(StreamKey, &StreamKeySpec{ChannelArn: RefTo(Channel, AttrArn)})

	notification := &BucketNotificationSpec{
		Bucket:    RefTo(ThumbnailBucket, AttrName),
		BucketArn: RefTo(ThumbnailBucket, AttrArn),
		Events:    []string{objectCreatedEvent},
		Suffix:    cfg.Notifications.Suffix,
	}
	// Thumbnails go either to the queue for the worker or to the function, never both.
	if cfg.Notifications.QueueName != "" {
		d.Add(ThumbnailQueue, &QueueSpec{
			QueueName:       cfg.Notifications.QueueName,
			SourceArn:       RefTo(ThumbnailBucket, AttrArn),
			MaxReceiveCount: cfg.Notifications.MaxReceiveCount,
		})
		notification.QueueArn = RefTo(ThumbnailQueue, AttrArn)
	} else {
		d.Add(FunctionRole, &RoleSpec{
			RoleName:        roleName(cfg.Name, "thumbnail-handler", deploymentID),
			AssumedBy:       "lambda.amazonaws.com",
			ManagedPolicies: []string{"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"},
			InlinePolicies: []InlinePolicy{{
				Name: "ThumbnailModeration",
				Statements: []Statement{
					{
						Effect:    "Allow",
						Actions:   []string{"s3:GetObject"},
						Resources: []Value{RefTo(ThumbnailBucket, AttrObjectsArn)},
					},
					{
						Effect:    "Allow",
						Actions:   []string{"ivs:PutMetadata"},
						Resources: []Value{RefTo(Channel, AttrArn)},
					},
					{
						Effect: "Allow",
						Actions: []string{
							"rekognition:DetectModerationLabels",
							"rekognition:DetectText",
							"rekognition:DetectFaces",
							"bedrock:InvokeModel",
						},
						Resources: []Value{Lit("*")},
					},
				},
			}},
		})

		d.Add(ThumbnailHandler, &FunctionSpec{
			FunctionName: cfg.Function.Name,
			CodePath:     cfg.Function.CodePath,
			Runtime:      cfg.Function.Runtime,
			Handler:      cfg.Function.Handler,
			Architecture: cfg.Function.Architecture,
			RoleArn:      RefTo(FunctionRole, AttrArn),
			Timeout:      cfg.Function.Timeout,
			MemoryMB:     cfg.Function.MemoryMB,
			Environment: map[string]Value{
				types.EnvBucketName:     RefTo(ThumbnailBucket, AttrName),
				types.EnvChannelArn:     RefTo(Channel, AttrArn),
				types.EnvAnalyzer:       Lit(handler.Analyzer),
				types.EnvBedrockModelID: Lit(handler.BedrockModelID),
				types.EnvMinConfidence:  Lit(fmt.Sprintf("%g", handler.MinConfidence)),
			},
		})

		notification.FunctionArn = RefTo(ThumbnailHandler, AttrArn)
	}
	d.Add(ThumbnailNotification, notification)

	d.Add(SiteDeployment, &BucketDeploymentSpec{
		Bucket:      RefTo(ThumbnailBucket, AttrName),
		PlaybackURL: RefTo(Channel, AttrPlaybackURL),
		Title:       cfg.Site.Title,
	})

	d.Add(Distribution, &DistributionSpec{
		Bucket:               RefTo(ThumbnailBucket, AttrName),
		OriginDomain:         RefTo(ThumbnailBucket, AttrDomainName),
		DefaultRootObject:    cfg.Distribution.DefaultRootObject,
		CachePolicyID:        cfg.Distribution.CachePolicyID,
		ViewerProtocolPolicy: "redirect-to-https",
		AllowedMethods:       []string{"GET", "HEAD"},
		PriceClass:           cfg.Distribution.PriceClass,
		Comment:              fmt.Sprintf("%s demo site", cfg.Name),
	})

	d.Output(types.OutputWebsiteURL, RefTo(Distribution, AttrDomainName), "The URL of the static website hosted on S3 and distributed by CloudFront")
	d.Output(types.OutputPlaybackURL, RefTo(Channel, AttrPlaybackURL), "IVS Channel Playback URL")
	d.Output(types.OutputChannelArn, RefTo(Channel, AttrArn), "The ARN of the IVS Channel")
	d.Output(types.OutputStreamKeyValue, RefTo(StreamKey, AttrValue), "The stream key of the IVS Channel")
	d.Output(types.OutputBucketName, RefTo(ThumbnailBucket, AttrName), "The S3 bucket where IVS thumbnails are stored")

	return d
}

// roleName keeps IAM role names unique per deployment and within the 64 character limit.
func roleName(stackName, purpose, deploymentID string) string {
	suffix := deploymentID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	name := fmt.Sprintf("%s-%s-%s", stackName, purpose, suffix)
	if len(name) > 64 {
		name = name[len(name)-64:]
	}
	return name
}
