package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"ivs-moderation/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeRekognition struct {
	labels        []rektypes.ModerationLabel
	text          []rektypes.TextDetection
	faces         []rektypes.FaceDetail
	minConfidence *float32
}

func (f *fakeRekognition) DetectModerationLabels(_ context.Context, in *rekognition.DetectModerationLabelsInput, _ ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error) {
	f.minConfidence = in.MinConfidence
	return &rekognition.DetectModerationLabelsOutput{ModerationLabels: f.labels}, nil
}

func (f *fakeRekognition) DetectText(_ context.Context, _ *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	return &rekognition.DetectTextOutput{TextDetections: f.text}, nil
}

func (f *fakeRekognition) DetectFaces(_ context.Context, _ *rekognition.DetectFacesInput, _ ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	return &rekognition.DetectFacesOutput{FaceDetails: f.faces}, nil
}

var testImage = Image{Bucket: "thumbs", Key: "a/b/thumb0.jpg"}

func TestModerationAnalyzer(t *testing.T) {
	client := &fakeRekognition{labels: []rektypes.ModerationLabel{
		{Name: aws.String("Weapons"), ParentName: aws.String("Violence"), Confidence: aws.Float32(88.3)},
		{Name: aws.String("Violence"), ParentName: aws.String(""), Confidence: aws.Float32(91)},
	}}
	analyzer := &ModerationAnalyzer{client: client, minConfidence: 60}

	got, err := analyzer.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Description != "Moderation" {
		t.Errorf("description = %q", got.Description)
	}
	if got.ObjectList() != "Violence/Weapons 88.3%, Violence 91.0%" {
		t.Errorf("objects = %q", got.ObjectList())
	}
	if aws.ToFloat32(client.minConfidence) != 60 {
		t.Errorf("min confidence not passed through")
	}
}

func TestTextAnalyzerKeepsLinesAndCaps(t *testing.T) {
	long := strings.Repeat("a", 700)
	client := &fakeRekognition{text: []rektypes.TextDetection{
		{DetectedText: aws.String("BREAKING NEWS"), Type: rektypes.TextTypesLine},
		{DetectedText: aws.String("BREAKING"), Type: rektypes.TextTypesWord},
		{DetectedText: aws.String(long), Type: rektypes.TextTypesLine},
	}}

	got, err := (&TextAnalyzer{client: client}).Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(got.Objects) != 1 {
		t.Fatalf("expected a single text object, got %d", len(got.Objects))
	}
	if !strings.HasPrefix(got.Objects[0], "BREAKING NEWS a") {
		t.Errorf("unexpected text %q", got.Objects[0][:20])
	}
	if len(got.Objects[0]) != maxTextLength {
		t.Errorf("expected text capped at %d, got %d", maxTextLength, len(got.Objects[0]))
	}
}

func TestFaceAnalyzer(t *testing.T) {
	client := &fakeRekognition{}
	analyzer := &FaceAnalyzer{client: client}

	got, err := analyzer.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("analyze without faces: %v", err)
	}
	if got.Description != "No face detected" || len(got.Objects) != 0 {
		t.Fatalf("unexpected empty analysis %+v", got)
	}

	client.faces = []rektypes.FaceDetail{{
		AgeRange: &rektypes.AgeRange{Low: aws.Int32(25), High: aws.Int32(32)},
		Emotions: []rektypes.Emotion{
			{Type: rektypes.EmotionNameHappy, Confidence: aws.Float32(97.5)},
			{Type: rektypes.EmotionNameCalm, Confidence: aws.Float32(1.3)},
		},
	}}
	got, err = analyzer.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Description != "Face detection: between 25 and 32 years old" {
		t.Errorf("description = %q", got.Description)
	}
	if got.ObjectList() != "HAPPY 97.5%, CALM 1.3%" {
		t.Errorf("objects = %q", got.ObjectList())
	}
}

type fakeBedrock struct {
	request  []byte
	modelID  string
	response string
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.request = in.Body
	f.modelID = aws.ToString(in.ModelId)
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.response)}, nil
}

type fakeObjects struct{}

func (fakeObjects) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("jpeg-bytes")))}, nil
}

func TestBedrockAnalyzer(t *testing.T) {
	runtime := &fakeBedrock{
		response: `{"content":[{"type":"text","text":"\"objects\": [\"microphone\", \"desk\"], \"description\": \"A presenter at a desk.\"}"}]}`,
	}
	analyzer := &BedrockAnalyzer{runtime: runtime, s3: fakeObjects{}, modelID: "anthropic.claude-3-haiku-20240307-v1:0"}

	got, err := analyzer.Analyze(context.Background(), testImage)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Description != "A presenter at a desk." || got.ObjectList() != "microphone, desk" {
		t.Fatalf("unexpected analysis %+v", got)
	}
	if runtime.modelID != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Errorf("model = %q", runtime.modelID)
	}

	var req struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(runtime.request, &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if len(req.Messages) != 2 || req.Messages[1].Role != "assistant" || string(req.Messages[1].Content) != `"{"` {
		t.Fatalf("expected prefilled assistant turn, got %s", runtime.request)
	}
	if !strings.Contains(string(req.Messages[0].Content), `"media_type":"image/jpeg"`) {
		t.Fatalf("expected jpeg image source, got %s", req.Messages[0].Content)
	}
}

func TestParseBedrockResponseErrors(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"content":[]}`,
		`{"content":[{"type":"text","text":"I cannot help with that."}]}`,
	} {
		if _, err := parseBedrockResponse([]byte(body)); !errors.Is(err, ErrUnprocessable) {
			t.Errorf("expected ErrUnprocessable for %s, got %v", body, err)
		}
	}
}

func TestParseBedrockResponseContinuations(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "continues the prefilled brace", text: `"objects": ["desk"], "description": "An office."}`},
		{name: "leading whitespace", text: "\n  \"objects\": [\"desk\"], \"description\": \"An office.\"}"},
		{name: "restates the whole object", text: `{"objects": ["desk"], "description": "An office."}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(map[string]any{
				"content": []map[string]string{{"type": "text", "text": tt.text}},
			})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			got, err := parseBedrockResponse(body)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Description != "An office." || got.ObjectList() != "desk" {
				t.Fatalf("unexpected analysis %+v", got)
			}
		})
	}
}

func TestNewAnalyzer(t *testing.T) {
	clients := Clients{Rekognition: &fakeRekognition{}, Bedrock: &fakeBedrock{}, S3: fakeObjects{}}

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: "*moderation.ModerationAnalyzer"},
		{name: "moderation", want: "*moderation.ModerationAnalyzer"},
		{name: "TEXT", want: "*moderation.TextAnalyzer"},
		{name: "faces", want: "*moderation.FaceAnalyzer"},
		{name: "bedrock", want: "*moderation.BedrockAnalyzer"},
		{name: "labels", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NewAnalyzer(config.HandlerConfig{Analyzer: tt.name}, clients)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.name, err)
			continue
		}
		if typeName(got) != tt.want {
			t.Errorf("%q: got %s, want %s", tt.name, typeName(got), tt.want)
		}
	}

	if _, err := NewAnalyzer(config.HandlerConfig{Analyzer: "bedrock"}, Clients{}); err == nil {
		t.Errorf("expected error without bedrock clients")
	}
}

func typeName(a Analyzer) string {
	switch a.(type) {
	case *ModerationAnalyzer:
		return "*moderation.ModerationAnalyzer"
	case *TextAnalyzer:
		return "*moderation.TextAnalyzer"
	case *FaceAnalyzer:
		return "*moderation.FaceAnalyzer"
	case *BedrockAnalyzer:
		return "*moderation.BedrockAnalyzer"
	}
	return "unknown"
}
