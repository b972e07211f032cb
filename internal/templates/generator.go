package templates

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"ivs-moderation/internal/types"
)

//go:embed site
var siteFS embed.FS

const (
	ConfigKey            = "config.json"
	IndexKey             = "index.html"
	defaultPlayerVersion = "1.34.0"
)

var ErrMissingPlaybackURL = errors.New("playback url is empty")

type SiteData struct {
	Title         string
	PlaybackURL   string
	PlayerVersion string
}

// File is one object of the demo site bundle.
type File struct {
	Key         string
	ContentType string
	Body        []byte
}

// GenerateConfig renders config.json for the given playback URL.
func GenerateConfig(playbackURL string) ([]byte, error) {
	if strings.TrimSpace(playbackURL) == "" {
		return nil, ErrMissingPlaybackURL
	}
	data, err := json.Marshal(types.PlaybackConfig{PlaybackURL: playbackURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// BuildSite renders the index page and returns it together with the static assets
// and config.json.
func BuildSite(data SiteData) ([]File, error) {
	configJSON, err := GenerateConfig(data.PlaybackURL)
	if err != nil {
		return nil, err
	}

	files, err := Assets(data)
	if err != nil {
		return nil, err
	}
	return append(files, File{Key: ConfigKey, ContentType: "application/json", Body: configJSON}), nil
}

// Assets renders the index page and returns it with the static assets, without
// config.json.
func Assets(data SiteData) ([]File, error) {
	if data.PlayerVersion == "" {
		data.PlayerVersion = defaultPlayerVersion
	}

	tmpl, err := template.ParseFS(siteFS, "site/index.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	var index bytes.Buffer
	if err := tmpl.Execute(&index, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	files := []File{
		{Key: IndexKey, ContentType: "text/html; charset=utf-8", Body: index.Bytes()},
	}
	for _, asset := range []struct{ name, contentType string }{
		{"script.js", "application/javascript"},
		{"style.css", "text/css; charset=utf-8"},
	} {
		body, err := siteFS.ReadFile("site/" + asset.name)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset %s: %w", asset.name, err)
		}
		files = append(files, File{Key: asset.name, ContentType: asset.contentType, Body: body})
	}

	return files, nil
}

// WriteSite writes the bundle under dir.
func WriteSite(files []File, dir string) error {
	for _, f := range files {
		outputPath := filepath.Join(dir, filepath.FromSlash(f.Key))
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(outputPath, f.Body, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Key, err)
		}
	}
	return nil
}
