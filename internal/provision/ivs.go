package provision

import (
	"context"
	"fmt"
	"time"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	ivstypes "github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"go.uber.org/zap"
)

type IVSAPI interface {
	CreateRecordingConfiguration(ctx context.Context, params *ivs.CreateRecordingConfigurationInput, optFns ...func(*ivs.Options)) (*ivs.CreateRecordingConfigurationOutput, error)
	GetRecordingConfiguration(ctx context.Context, params *ivs.GetRecordingConfigurationInput, optFns ...func(*ivs.Options)) (*ivs.GetRecordingConfigurationOutput, error)
	DeleteRecordingConfiguration(ctx context.Context, params *ivs.DeleteRecordingConfigurationInput, optFns ...func(*ivs.Options)) (*ivs.DeleteRecordingConfigurationOutput, error)
	CreateChannel(ctx context.Context, params *ivs.CreateChannelInput, optFns ...func(*ivs.Options)) (*ivs.CreateChannelOutput, error)
	DeleteChannel(ctx context.Context, params *ivs.DeleteChannelInput, optFns ...func(*ivs.Options)) (*ivs.DeleteChannelOutput, error)
	ListStreamKeys(ctx context.Context, params *ivs.ListStreamKeysInput, optFns ...func(*ivs.Options)) (*ivs.ListStreamKeysOutput, error)
	GetStreamKey(ctx context.Context, params *ivs.GetStreamKeyInput, optFns ...func(*ivs.Options)) (*ivs.GetStreamKeyOutput, error)
	CreateStreamKey(ctx context.Context, params *ivs.CreateStreamKeyInput, optFns ...func(*ivs.Options)) (*ivs.CreateStreamKeyOutput, error)
	DeleteStreamKey(ctx context.Context, params *ivs.DeleteStreamKeyInput, optFns ...func(*ivs.Options)) (*ivs.DeleteStreamKeyOutput, error)
}

type recordingDriver struct {
	client       IVSAPI
	logger       *zap.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func (d *recordingDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.RecordingConfigurationSpec)

	bucket, err := resolver.Resolve(spec.BucketName)
	if err != nil {
		return nil, err
	}

	storage := make([]ivstypes.ThumbnailConfigurationStorage, 0, len(spec.ThumbnailStorage))
	for _, s := range spec.ThumbnailStorage {
		storage = append(storage, ivstypes.ThumbnailConfigurationStorage(s))
	}

	out, err := d.client.CreateRecordingConfiguration(ctx, &ivs.CreateRecordingConfigurationInput{
		Name: aws.String(spec.Name),
		DestinationConfiguration: &ivstypes.DestinationConfiguration{
			S3: &ivstypes.S3DestinationConfiguration{BucketName: aws.String(bucket)},
		},
		RenditionConfiguration: &ivstypes.RenditionConfiguration{
			RenditionSelection: ivstypes.RenditionConfigurationRenditionSelection(spec.RenditionSelection),
		},
		ThumbnailConfiguration: &ivstypes.ThumbnailConfiguration{
			RecordingMode:         ivstypes.RecordingMode(spec.ThumbnailMode),
			Storage:               storage,
			TargetIntervalSeconds: aws.Int64(int64(spec.ThumbnailInterval / time.Second)),
		},
		RecordingReconnectWindowSeconds: int32(spec.ReconnectWindow / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recording configuration: %w", err)
	}
	arn := aws.ToString(out.RecordingConfiguration.Arn)

	// a channel cannot reference a configuration that is still CREATING
	err = poll(ctx, d.pollInterval, d.pollTimeout, func(ctx context.Context) (bool, error) {
		got, err := d.client.GetRecordingConfiguration(ctx, &ivs.GetRecordingConfigurationInput{Arn: aws.String(arn)})
		if err != nil {
			return false, fmt.Errorf("failed to get recording configuration: %w", err)
		}
		switch got.RecordingConfiguration.State {
		case ivstypes.RecordingConfigurationStateActive:
			return true, nil
		case ivstypes.RecordingConfigurationStateCreateFailed:
			return false, fmt.Errorf("recording configuration %s failed to create", arn)
		default:
			return false, nil
		}
	})
	if err != nil {
		if delErr := d.delete(ctx, arn); delErr != nil {
			d.logger.Error("Failed to clean up recording configuration", zap.Error(delErr), zap.String("arn", arn))
		}
		return nil, err
	}

	return map[string]string{stack.AttrArn: arn}, nil
}

func (d *recordingDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	return d.delete(ctx, record.Attributes[stack.AttrArn])
}

func (d *recordingDriver) delete(ctx context.Context, arn string) error {
	_, err := d.client.DeleteRecordingConfiguration(ctx, &ivs.DeleteRecordingConfigurationInput{Arn: aws.String(arn)})
	if err != nil && !hasErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete recording configuration: %w", err)
	}
	return nil
}

type channelDriver struct {
	client IVSAPI
}

func (d *channelDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.ChannelSpec)

	input := &ivs.CreateChannelInput{
		Name:        aws.String(spec.Name),
		Authorized:  spec.Authorized,
		LatencyMode: ivstypes.ChannelLatencyMode(spec.LatencyMode),
		Type:        ivstypes.ChannelType(spec.Type),
	}
	if !spec.RecordingConfigurationArn.IsZero() {
		arn, err := resolver.Resolve(spec.RecordingConfigurationArn)
		if err != nil {
			return nil, err
		}
		input.RecordingConfigurationArn = aws.String(arn)
	}

	out, err := d.client.CreateChannel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return map[string]string{
		stack.AttrArn:            aws.ToString(out.Channel.Arn),
		stack.AttrPlaybackURL:    aws.ToString(out.Channel.PlaybackUrl),
		stack.AttrIngestEndpoint: aws.ToString(out.Channel.IngestEndpoint),
	}, nil
}

func (d *channelDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	_, err := d.client.DeleteChannel(ctx, &ivs.DeleteChannelInput{Arn: aws.String(record.Attributes[stack.AttrArn])})
	if err != nil && !hasErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

// streamKeyDriver adopts the key IVS creates alongside a channel and only creates one
// when the channel has none.
type streamKeyDriver struct {
	client IVSAPI
}

func (d *streamKeyDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.StreamKeySpec)

	channelArn, err := resolver.Resolve(spec.ChannelArn)
	if err != nil {
		return nil, err
	}

	existing, err := d.client.ListStreamKeys(ctx, &ivs.ListStreamKeysInput{ChannelArn: aws.String(channelArn)})
	if err != nil {
		return nil, fmt.Errorf("failed to list stream keys: %w", err)
	}
	if len(existing.StreamKeys) > 0 {
		got, err := d.client.GetStreamKey(ctx, &ivs.GetStreamKeyInput{Arn: existing.StreamKeys[0].Arn})
		if err != nil {
			return nil, fmt.Errorf("failed to get stream key: %w", err)
		}
		return map[string]string{
			stack.AttrArn:   aws.ToString(got.StreamKey.Arn),
			stack.AttrValue: aws.ToString(got.StreamKey.Value),
		}, nil
	}

	out, err := d.client.CreateStreamKey(ctx, &ivs.CreateStreamKeyInput{ChannelArn: aws.String(channelArn)})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream key: %w", err)
	}
	return map[string]string{
		stack.AttrArn:   aws.ToString(out.StreamKey.Arn),
		stack.AttrValue: aws.ToString(out.StreamKey.Value),
	}, nil
}

func (d *streamKeyDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	_, err := d.client.DeleteStreamKey(ctx, &ivs.DeleteStreamKeyInput{Arn: aws.String(record.Attributes[stack.AttrArn])})
	if err != nil && !hasErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete stream key: %w", err)
	}
	return nil
}
