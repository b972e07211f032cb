package playback

import (
	"encoding/json"
	"fmt"

	"ivs-moderation/internal/types"
)

// Cue is a decoded timed metadata payload. Each variant knows how it changes the
// overlay.
type Cue interface {
	apply(o *OverlayState)
}

// RekognitionCue carries the analysis of one thumbnail.
type RekognitionCue struct {
	Image       string
	Objects     string
	Title       string
	Description string
}

func (c RekognitionCue) apply(o *OverlayState) {
	o.Visible = true
	o.Image = c.Image
	o.Objects = c.Objects
	o.Title = c.Title
	o.Description = c.Description
}

// UnknownCue is any payload with an unrecognized type. It leaves the overlay alone.
type UnknownCue struct {
	Type string
}

func (UnknownCue) apply(*OverlayState) {}

// DecodeCue parses cue text into its variant.
func DecodeCue(text string) (Cue, error) {
	var raw types.Cue
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode cue: %w", err)
	}

	switch raw.Type {
	case types.CueTypeRekognition:
		return RekognitionCue{
			Image:       raw.Image,
			Objects:     raw.Objects,
			Title:       raw.Title,
			Description: raw.Description,
		}, nil
	default:
		return UnknownCue{Type: raw.Type}, nil
	}
}
