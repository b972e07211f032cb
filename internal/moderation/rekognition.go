package moderation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// maxTextLength caps the detected text carried in a cue.
const maxTextLength = 600

type RekognitionAPI interface {
	DetectModerationLabels(ctx context.Context, params *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

func s3Image(img Image) *rektypes.Image {
	return &rektypes.Image{
		S3Object: &rektypes.S3Object{
			Bucket: aws.String(img.Bucket),
			Name:   aws.String(img.Key),
		},
	}
}

// ModerationAnalyzer reports the moderation labels Rekognition assigns to a frame.
type ModerationAnalyzer struct {
	client        RekognitionAPI
	minConfidence float32
}

func (a *ModerationAnalyzer) Analyze(ctx context.Context, img Image) (Analysis, error) {
	input := &rekognition.DetectModerationLabelsInput{Image: s3Image(img)}
	if a.minConfidence > 0 {
		input.MinConfidence = aws.Float32(a.minConfidence)
	}

	out, err := a.client.DetectModerationLabels(ctx, input)
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to detect moderation labels: %w", err)
	}

	analysis := Analysis{Description: "Moderation"}
	for _, label := range out.ModerationLabels {
		name := aws.ToString(label.Name)
		if parent := aws.ToString(label.ParentName); parent != "" {
			name = parent + "/" + name
		}
		analysis.Objects = append(analysis.Objects, fmt.Sprintf("%s %.1f%%", name, aws.ToFloat32(label.Confidence)))
	}
	return analysis, nil
}

// TextAnalyzer reports the lines of text visible in a frame.
type TextAnalyzer struct {
	client RekognitionAPI
}

func (a *TextAnalyzer) Analyze(ctx context.Context, img Image) (Analysis, error) {
	out, err := a.client.DetectText(ctx, &rekognition.DetectTextInput{Image: s3Image(img)})
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to detect text: %w", err)
	}

	var lines []string
	for _, d := range out.TextDetections {
		// words repeat the content of their line
		if d.Type != rektypes.TextTypesLine {
			continue
		}
		lines = append(lines, aws.ToString(d.DetectedText))
	}

	analysis := Analysis{Description: "text identified"}
	if text := truncateRunes(strings.Join(lines, " "), maxTextLength); text != "" {
		analysis.Objects = []string{text}
	}
	return analysis, nil
}

// FaceAnalyzer reports the estimated age range and emotions of the first face.
type FaceAnalyzer struct {
	client RekognitionAPI
}

func (a *FaceAnalyzer) Analyze(ctx context.Context, img Image) (Analysis, error) {
	out, err := a.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      s3Image(img),
		Attributes: []rektypes.Attribute{rektypes.AttributeAll},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to detect faces: %w", err)
	}

	if len(out.FaceDetails) == 0 {
		return Analysis{Description: "No face detected"}, nil
	}

	face := out.FaceDetails[0]
	analysis := Analysis{Description: "Face detection"}
	if face.AgeRange != nil {
		analysis.Description = fmt.Sprintf("Face detection: between %d and %d years old",
			aws.ToInt32(face.AgeRange.Low), aws.ToInt32(face.AgeRange.High))
	}
	for _, e := range face.Emotions {
		analysis.Objects = append(analysis.Objects, fmt.Sprintf("%s %.1f%%", e.Type, aws.ToFloat32(e.Confidence)))
	}
	return analysis, nil
}

// truncateRunes keeps at most n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
