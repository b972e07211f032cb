package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/types"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	ivstypes "github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Outcome mirrors the status a Lambda caller sees for one invocation.
type Outcome struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Retryable reports whether redelivering the event could succeed. Unprocessable
// thumbnails (422) are not retried.
func (o Outcome) Retryable() bool {
	return o.StatusCode >= http.StatusInternalServerError
}

// Handler analyzes new thumbnails and publishes the result to the live channel.
type Handler struct {
	analyzer   Analyzer
	publisher  *Publisher
	bucketName string
	logger     *zap.Logger
}

func NewHandler(analyzer Analyzer, publisher *Publisher, bucketName string, logger *zap.Logger) *Handler {
	return &Handler{
		analyzer:   analyzer,
		publisher:  publisher,
		bucketName: bucketName,
		logger:     logger,
	}
}

// NewHandlerFromConfig builds a handler with AWS clients for the configured analyzer.
func NewHandlerFromConfig(cfg config.HandlerConfig, awsCfg aws.Config, logger *zap.Logger) (*Handler, error) {
	if cfg.ChannelArn == "" {
		return nil, fmt.Errorf("%s is not set", types.EnvChannelArn)
	}

	analyzer, err := NewAnalyzer(cfg, Clients{
		Rekognition: rekognition.NewFromConfig(awsCfg),
		Bedrock:     bedrockruntime.NewFromConfig(awsCfg),
		S3:          s3.NewFromConfig(awsCfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	publisher := NewPublisher(ivs.NewFromConfig(awsCfg), cfg.ChannelArn)
	return NewHandler(analyzer, publisher, cfg.BucketName, logger), nil
}

// HandleEvent processes every record of a bucket notification and returns the
// worst outcome.
func (h *Handler) HandleEvent(ctx context.Context, event events.S3Event) (Outcome, error) {
	result := Outcome{StatusCode: http.StatusOK, Body: "No thumbnails to process"}
	processed := false

	for _, record := range event.Records {
		outcome := h.HandleRecord(ctx, record)
		if outcome.StatusCode == 0 {
			continue
		}
		if !processed || outcome.StatusCode > result.StatusCode {
			result = outcome
		}
		processed = true
	}
	return result, nil
}

// HandleRecord analyzes a single thumbnail. A zero outcome means the record was skipped.
func (h *Handler) HandleRecord(ctx context.Context, record events.S3EventRecord) Outcome {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		h.logger.Warn("Invalid object key", zap.String("key", record.S3.Object.Key), zap.Error(err))
		key = record.S3.Object.Key
	}
	bucket := record.S3.Bucket.Name
	if bucket == "" {
		bucket = h.bucketName
	}

	if !imageExtensions[strings.ToLower(path.Ext(key))] {
		h.logger.Debug("Skipping non-image object", zap.String("bucket", bucket), zap.String("key", key))
		return Outcome{}
	}

	logger := h.logger.With(zap.String("bucket", bucket), zap.String("key", key))
	logger.Info("Analyzing thumbnail")

	analysis, err := h.analyzer.Analyze(ctx, Image{Bucket: bucket, Key: key})
	if err != nil {
		logger.Error("Failed to analyze thumbnail", zap.Error(err))
		return failure(err)
	}

	cue := types.Cue{
		Type:        types.CueTypeRekognition,
		Image:       key,
		Objects:     analysis.ObjectList(),
		Title:       path.Base(key),
		Description: analysis.Description,
	}

	payload, err := h.publisher.Publish(ctx, cue)
	if err != nil {
		var notBroadcasting *ivstypes.ChannelNotBroadcasting
		if errors.As(err, &notBroadcasting) {
			logger.Info("Channel is not broadcasting, dropping cue")
			return Outcome{StatusCode: http.StatusBadRequest, Body: "Channel is not broadcasting"}
		}
		logger.Error("Failed to publish cue", zap.Error(err))
		return failure(err)
	}

	logger.Info("Metadata inserted", zap.Int("bytes", len(payload)))
	return Outcome{StatusCode: http.StatusOK, Body: "Metadata inserted successfully"}
}

func failure(err error) Outcome {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUnprocessable) {
		status = http.StatusUnprocessableEntity
	}
	return Outcome{StatusCode: status, Body: "Error: " + err.Error()}
}
