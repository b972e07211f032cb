package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("AWS_REGION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stack.Recording.ThumbnailInterval != 5*time.Second {
		t.Fatalf("expected 5s interval, got %v", cfg.Stack.Recording.ThumbnailInterval)
	}
	if cfg.Stack.Channel.LatencyMode != "LOW" {
		t.Fatalf("expected LOW latency, got %q", cfg.Stack.Channel.LatencyMode)
	}
	if cfg.Handler.Analyzer != "moderation" {
		t.Fatalf("expected moderation analyzer, got %q", cfg.Handler.Analyzer)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
aws:
  region: us-west-2
stack:
  name: DemoStack
  recording:
    thumbnail_interval: 10s
  function:
    timeout: 2m
handler:
  analyzer: text
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("AWS_REGION", "")
	t.Setenv("CHANNEL_ARN", "arn:aws:ivs:us-west-2:123456789012:channel/abc")
	t.Setenv("MIN_CONFIDENCE", "75.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AWS.Region != "us-west-2" {
		t.Fatalf("expected region from file, got %q", cfg.AWS.Region)
	}
	if cfg.Stack.Name != "DemoStack" {
		t.Fatalf("expected stack name from file, got %q", cfg.Stack.Name)
	}
	if cfg.Stack.Recording.ThumbnailInterval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %v", cfg.Stack.Recording.ThumbnailInterval)
	}
	if cfg.Stack.Function.Timeout != 2*time.Minute {
		t.Fatalf("expected 2m timeout, got %v", cfg.Stack.Function.Timeout)
	}
	// untouched defaults survive a partial file
	if cfg.Stack.Channel.Type != "STANDARD" {
		t.Fatalf("expected default channel type, got %q", cfg.Stack.Channel.Type)
	}
	if cfg.Handler.Analyzer != "text" {
		t.Fatalf("expected text analyzer, got %q", cfg.Handler.Analyzer)
	}
	if cfg.Handler.ChannelArn == "" {
		t.Fatalf("expected channel arn from env")
	}
	if cfg.Handler.MinConfidence != 75.5 {
		t.Fatalf("expected min confidence 75.5, got %v", cfg.Handler.MinConfidence)
	}
}

func TestLoadRejectsBadMinConfidence(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("MIN_CONFIDENCE", "high")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-numeric MIN_CONFIDENCE")
	}
}
