package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ivs-moderation/internal/config"
)

const (
	AnalyzerModeration = "moderation"
	AnalyzerText       = "text"
	AnalyzerFaces      = "faces"
	AnalyzerBedrock    = "bedrock"
)

// ErrUnprocessable marks failures that repeat on every delivery of the same
// thumbnail, so the event should not be retried.
var ErrUnprocessable = errors.New("thumbnail cannot be processed")

// Image identifies a thumbnail in S3.
type Image struct {
	Bucket string
	Key    string
}

// Analysis is what an analyzer found in a thumbnail.
type Analysis struct {
	Description string
	Objects     []string
}

// ObjectList flattens the detected objects into the single string carried by a cue.
func (a Analysis) ObjectList() string {
	return strings.Join(a.Objects, ", ")
}

type Analyzer interface {
	Analyze(ctx context.Context, img Image) (Analysis, error)
}

// Clients carries the AWS APIs the analyzers may need. Only the ones used by the
// selected analyzer have to be set.
type Clients struct {
	Rekognition RekognitionAPI
	Bedrock     BedrockAPI
	S3          S3GetObjectAPI
}

// NewAnalyzer returns the analyzer named by cfg.Analyzer.
func NewAnalyzer(cfg config.HandlerConfig, clients Clients) (Analyzer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Analyzer))
	if name == "" {
		name = AnalyzerModeration
	}

	switch name {
	case AnalyzerModeration, AnalyzerText, AnalyzerFaces:
		if clients.Rekognition == nil {
			return nil, fmt.Errorf("analyzer %s needs a rekognition client", name)
		}
	case AnalyzerBedrock:
		if clients.Bedrock == nil || clients.S3 == nil {
			return nil, fmt.Errorf("analyzer %s needs bedrock and s3 clients", name)
		}
	}

	switch name {
	case AnalyzerModeration:
		return &ModerationAnalyzer{client: clients.Rekognition, minConfidence: cfg.MinConfidence}, nil
	case AnalyzerText:
		return &TextAnalyzer{client: clients.Rekognition}, nil
	case AnalyzerFaces:
		return &FaceAnalyzer{client: clients.Rekognition}, nil
	case AnalyzerBedrock:
		return &BedrockAnalyzer{runtime: clients.Bedrock, s3: clients.S3, modelID: cfg.BedrockModelID}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", cfg.Analyzer)
	}
}
