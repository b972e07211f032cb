package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"ivs-moderation/internal/types"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	ivstypes "github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubAnalyzer struct {
	analysis Analysis
	err      error
	seen     []Image
}

func (a *stubAnalyzer) Analyze(_ context.Context, img Image) (Analysis, error) {
	a.seen = append(a.seen, img)
	return a.analysis, a.err
}

type fakeMetadata struct {
	payloads []string
	channel  string
	err      error
}

func (f *fakeMetadata) PutMetadata(_ context.Context, in *ivs.PutMetadataInput, _ ...func(*ivs.Options)) (*ivs.PutMetadataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channel = aws.ToString(in.ChannelArn)
	f.payloads = append(f.payloads, aws.ToString(in.Metadata))
	return &ivs.PutMetadataOutput{}, nil
}

func s3Event(bucket string, keys ...string) events.S3Event {
	var ev events.S3Event
	for _, k := range keys {
		var rec events.S3EventRecord
		rec.EventSource = "aws:s3"
		rec.EventName = "ObjectCreated:Put"
		rec.S3.Bucket.Name = bucket
		rec.S3.Object.Key = k
		ev.Records = append(ev.Records, rec)
	}
	return ev
}

func newTestHandler(analyzer Analyzer, meta *fakeMetadata) *Handler {
	return NewHandler(analyzer, NewPublisher(meta, "arn:aws:ivs:eu-central-1:123456789012:channel/abc"), "fallback-bucket", zap.NewNop())
}

func TestHandleEventPublishesCue(t *testing.T) {
	analyzer := &stubAnalyzer{analysis: Analysis{Description: "Moderation", Objects: []string{"Violence 91.0%", "Weapons 88.5%"}}}
	meta := &fakeMetadata{}
	h := newTestHandler(analyzer, meta)

	key := "ivs/v1/123/abc/2024/1/1/10/0/xyz/media/thumbnails/thumb+0.jpg"
	outcome, err := h.HandleEvent(context.Background(), s3Event("thumbs", key))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %+v", outcome)
	}

	if len(analyzer.seen) != 1 || analyzer.seen[0].Bucket != "thumbs" {
		t.Fatalf("unexpected analyzer input %+v", analyzer.seen)
	}
	wantKey := "ivs/v1/123/abc/2024/1/1/10/0/xyz/media/thumbnails/thumb 0.jpg"
	if analyzer.seen[0].Key != wantKey {
		t.Fatalf("expected decoded key %q, got %q", wantKey, analyzer.seen[0].Key)
	}

	if len(meta.payloads) != 1 {
		t.Fatalf("expected one payload, got %d", len(meta.payloads))
	}
	var cue types.Cue
	if err := json.Unmarshal([]byte(meta.payloads[0]), &cue); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if cue.Type != types.CueTypeRekognition {
		t.Errorf("type = %q", cue.Type)
	}
	if cue.Image != wantKey {
		t.Errorf("image = %q", cue.Image)
	}
	if cue.Title != "thumb 0.jpg" {
		t.Errorf("title = %q", cue.Title)
	}
	if cue.Objects != "Violence 91.0%, Weapons 88.5%" {
		t.Errorf("objects = %q", cue.Objects)
	}
	if cue.Description != "Moderation" {
		t.Errorf("description = %q", cue.Description)
	}
}

func TestHandleEventSkipsNonImages(t *testing.T) {
	analyzer := &stubAnalyzer{}
	meta := &fakeMetadata{}
	h := newTestHandler(analyzer, meta)

	outcome, err := h.HandleEvent(context.Background(), s3Event("thumbs", "index.html", "config.json"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.StatusCode != http.StatusOK || len(analyzer.seen) != 0 || len(meta.payloads) != 0 {
		t.Fatalf("expected nothing processed, got %+v with %d analyses", outcome, len(analyzer.seen))
	}
}

func TestHandleEventUsesConfiguredBucketWhenMissing(t *testing.T) {
	analyzer := &stubAnalyzer{}
	h := newTestHandler(analyzer, &fakeMetadata{})

	if _, err := h.HandleEvent(context.Background(), s3Event("", "thumb.png")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if analyzer.seen[0].Bucket != "fallback-bucket" {
		t.Fatalf("expected fallback bucket, got %q", analyzer.seen[0].Bucket)
	}
}

func TestHandleEventOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		analyzeErr error
		publishErr error
		wantStatus int
		retryable  bool
	}{
		{
			name:       "not broadcasting",
			publishErr: &ivstypes.ChannelNotBroadcasting{Message: aws.String("offline")},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "publish failure",
			publishErr: errors.New("throttled"),
			wantStatus: http.StatusInternalServerError,
			retryable:  true,
		},
		{
			name:       "analysis failure",
			analyzeErr: errors.New("access denied"),
			wantStatus: http.StatusInternalServerError,
			retryable:  true,
		},
		{
			name:       "unparsable analysis",
			analyzeErr: fmt.Errorf("%w: failed to parse model answer", ErrUnprocessable),
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubAnalyzer{err: tt.analyzeErr}, &fakeMetadata{err: tt.publishErr})
			outcome, err := h.HandleEvent(context.Background(), s3Event("thumbs", "a.jpg"))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if outcome.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %+v", tt.wantStatus, outcome)
			}
			if outcome.Retryable() != tt.retryable {
				t.Fatalf("retryable = %v", outcome.Retryable())
			}
		})
	}
}

func TestOversizedKeyIsNotRetried(t *testing.T) {
	meta := &fakeMetadata{}
	h := newTestHandler(&stubAnalyzer{}, meta)

	key := strings.Repeat("k", types.MaxMetadataBytes) + ".jpg"
	outcome, err := h.HandleEvent(context.Background(), s3Event("thumbs", key))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.StatusCode != http.StatusUnprocessableEntity || outcome.Retryable() {
		t.Fatalf("expected a final 422, got %+v", outcome)
	}
	if len(meta.payloads) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestHandleEventReportsWorstOutcome(t *testing.T) {
	analyzer := &stubAnalyzer{}
	meta := &fakeMetadata{}
	h := newTestHandler(analyzer, meta)

	outcome, _ := h.HandleEvent(context.Background(), s3Event("thumbs", "a.jpg", "b.jpg"))
	if outcome.StatusCode != http.StatusOK || len(meta.payloads) != 2 {
		t.Fatalf("expected both published, got %+v and %d payloads", outcome, len(meta.payloads))
	}

	analyzer.err = errors.New("boom")
	outcome, _ = h.HandleEvent(context.Background(), s3Event("thumbs", "a.jpg", "skip.txt"))
	if outcome.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %+v", outcome)
	}
}

func TestHandleRecordLogsSkippedKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := NewHandler(&stubAnalyzer{}, NewPublisher(&fakeMetadata{}, "arn"), "", zap.New(core))

	var rec events.S3EventRecord
	rec.S3.Bucket.Name = "thumbs"
	rec.S3.Object.Key = "site/script.js"
	if outcome := h.HandleRecord(context.Background(), rec); outcome.StatusCode != 0 {
		t.Fatalf("expected skipped record, got %+v", outcome)
	}
	if logs.FilterMessage("Skipping non-image object").Len() != 1 {
		t.Fatalf("expected skip to be logged")
	}
}

func TestPublishedMetadataFitsLimit(t *testing.T) {
	objects := make([]string, 200)
	for i := range objects {
		objects[i] = "Explicit Nudity/Graphic \"Content\" 99.9%"
	}
	analyzer := &stubAnalyzer{analysis: Analysis{
		Description: strings.Repeat("é", 700),
		Objects:     objects,
	}}
	meta := &fakeMetadata{}
	h := newTestHandler(analyzer, meta)

	outcome, _ := h.HandleEvent(context.Background(), s3Event("thumbs", "thumb.jpg"))
	if outcome.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %+v", outcome)
	}
	payload := meta.payloads[0]
	if len(payload) > types.MaxMetadataBytes {
		t.Fatalf("payload is %d bytes", len(payload))
	}
	var cue types.Cue
	if err := json.Unmarshal([]byte(payload), &cue); err != nil {
		t.Fatalf("truncated payload is not JSON: %v", err)
	}
	if cue.Title != "thumb.jpg" || cue.Image != "thumb.jpg" {
		t.Fatalf("identity fields must survive truncation, got %+v", cue)
	}
}

func TestEncodeCue(t *testing.T) {
	tests := []struct {
		name    string
		cue     types.Cue
		limit   int
		wantErr bool
	}{
		{name: "fits", cue: types.Cue{Type: "rekognition", Objects: "cat"}, limit: 1024},
		{name: "objects trimmed", cue: types.Cue{Type: "rekognition", Objects: strings.Repeat("x", 2000)}, limit: 100},
		{name: "escaped characters", cue: types.Cue{Type: "rekognition", Description: strings.Repeat("<\"\n", 500)}, limit: 64},
		{name: "image too long", cue: types.Cue{Type: "rekognition", Image: strings.Repeat("k", 200)}, limit: 64, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeCue(tt.cue, tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrUnprocessable) {
					t.Fatalf("expected ErrUnprocessable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(data) > tt.limit {
				t.Fatalf("encoded %d bytes over limit %d", len(data), tt.limit)
			}
			if !json.Valid(data) {
				t.Fatalf("invalid JSON %s", data)
			}
		})
	}
}
