package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"ivs-moderation/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
)

type MetadataAPI interface {
	PutMetadata(ctx context.Context, params *ivs.PutMetadataInput, optFns ...func(*ivs.Options)) (*ivs.PutMetadataOutput, error)
}

// Publisher inserts cues into a live channel as timed metadata.
type Publisher struct {
	client     MetadataAPI
	channelArn string
}

func NewPublisher(client MetadataAPI, channelArn string) *Publisher {
	return &Publisher{client: client, channelArn: channelArn}
}

// Publish encodes the cue within the metadata size limit and sends it. It returns
// the payload that was sent.
func (p *Publisher) Publish(ctx context.Context, cue types.Cue) (string, error) {
	payload, err := EncodeCue(cue, types.MaxMetadataBytes)
	if err != nil {
		return "", err
	}
	_, err = p.client.PutMetadata(ctx, &ivs.PutMetadataInput{
		ChannelArn: aws.String(p.channelArn),
		Metadata:   aws.String(string(payload)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put metadata: %w", err)
	}
	return string(payload), nil
}

// EncodeCue marshals the cue, shortening objects, then description, then title
// until the encoded form fits in limit bytes.
func EncodeCue(cue types.Cue, limit int) ([]byte, error) {
	for {
		data, err := json.Marshal(cue)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cue: %w", err)
		}
		over := len(data) - limit
		if over <= 0 {
			return data, nil
		}

		switch {
		case cue.Objects != "":
			cue.Objects = dropTail(cue.Objects, over)
		case cue.Description != "":
			cue.Description = dropTail(cue.Description, over)
		case cue.Title != "":
			cue.Title = dropTail(cue.Title, over)
		default:
			return nil, fmt.Errorf("%w: cue for %s exceeds %d bytes", ErrUnprocessable, cue.Image, limit)
		}
	}
}

// dropTail removes at least n bytes from the end of s without splitting a rune.
// JSON escaping never makes a character shorter, so the encoded form shrinks by at
// least as much.
func dropTail(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	cut := len(s) - n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
