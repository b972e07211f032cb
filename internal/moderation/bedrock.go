package moderation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const bedrockPrompt = `Given an image, provide the following in JSON format:
{
  "objects": ["object1", "object2", "object3"],
  "description": "A detailed description of the overall image content."
}
The "objects" list should contain the names of the major objects or elements present in the image. The "description" should be a concise yet comprehensive textual summary of the image content.`

type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// BedrockAnalyzer asks a multimodal model to list the objects in a frame and describe it.
type BedrockAnalyzer struct {
	runtime BedrockAPI
	s3      S3GetObjectAPI
	modelID string
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type bedrockContent struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Source *bedrockSource `json:"source,omitempty"`
}

type bedrockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockResponse struct {
	Content []bedrockContent `json:"content"`
}

type bedrockAnswer struct {
	Objects     []string `json:"objects"`
	Description string   `json:"description"`
}

func (a *BedrockAnalyzer) Analyze(ctx context.Context, img Image) (Analysis, error) {
	obj, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(img.Bucket),
		Key:    aws.String(img.Key),
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to get image: %w", err)
	}
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to read image: %w", err)
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1000,
		Temperature:      0.4,
		Messages: []bedrockMessage{
			{
				Role: "user",
				Content: []bedrockContent{
					{
						Type: "image",
						Source: &bedrockSource{
							Type:      "base64",
							MediaType: mediaType(img.Key),
							Data:      base64.StdEncoding.EncodeToString(data),
						},
					},
					{Type: "text", Text: bedrockPrompt},
				},
			},
			// prefilled so the model answers with the JSON object directly
			{Role: "assistant", Content: "{"},
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to marshal model request: %w", err)
	}

	out, err := a.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to invoke model %s: %w", a.modelID, err)
	}

	return parseBedrockResponse(out.Body)
}

func parseBedrockResponse(body []byte) (Analysis, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Analysis{}, fmt.Errorf("%w: failed to unmarshal model response: %v", ErrUnprocessable, err)
	}
	if len(resp.Content) == 0 {
		return Analysis{}, fmt.Errorf("%w: model response has no content", ErrUnprocessable)
	}

	// The answer continues the prefilled "{", so it starts with the first key. An
	// object member cannot begin with "{", so a leading brace means the model
	// restated the whole object.
	text := strings.TrimSpace(resp.Content[0].Text)
	if !strings.HasPrefix(text, "{") {
		text = "{" + text
	}
	var answer bedrockAnswer
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		return Analysis{}, fmt.Errorf("%w: failed to parse model answer: %v", ErrUnprocessable, err)
	}
	return Analysis{Description: answer.Description, Objects: answer.Objects}, nil
}

func mediaType(key string) string {
	if strings.EqualFold(path.Ext(key), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}
