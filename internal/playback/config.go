package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ivs-moderation/internal/types"
)

var ErrMissingPlaybackURL = errors.New("playback URL is missing in the config file")

// maxConfigBytes bounds the config.json body read from the site.
const maxConfigBytes = 64 << 10

// FetchConfig downloads config.json and returns the playback URL it carries.
func FetchConfig(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}

	var cfg types.PlaybackConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxConfigBytes)).Decode(&cfg); err != nil {
		return "", fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.PlaybackURL == "" {
		return "", ErrMissingPlaybackURL
	}
	return cfg.PlaybackURL, nil
}
