package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ivs-moderation/internal/playback"
	"ivs-moderation/internal/state"
	"ivs-moderation/internal/templates"
	"ivs-moderation/internal/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type nopPlayer struct{}

func (nopPlayer) SetSource(string) {}

func newTestRouter(t *testing.T, source PlaybackSource, logger *zap.Logger) http.Handler {
	t.Helper()
	controller := playback.NewController(nopPlayer{}, nil, "", logger)
	handler, err := NewHandler(source, templates.SiteData{Title: "Moderation"}, controller, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return NewRouter(handler, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestRouter(t, StaticSource("u"), zap.NewNop()), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestRouter(t, StaticSource("u"), zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestConfigFromStaticSource(t *testing.T) {
	rec := do(t, newTestRouter(t, StaticSource("https://example/live.m3u8"), zap.NewNop()), http.MethodGet, "/config.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var cfg types.PlaybackConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("config.json: %v", err)
	}
	if cfg.PlaybackURL != "https://example/live.m3u8" {
		t.Fatalf("playbackUrl = %q", cfg.PlaybackURL)
	}
}

func TestConfigFromDeployment(t *testing.T) {
	store := state.NewMemoryStore()
	source := DeploymentSource{Store: store, StackName: "ModerationStack"}
	h := newTestRouter(t, source, zap.NewNop())

	if rec := do(t, h, http.MethodGet, "/config.json", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before deploy, got %d", rec.Code)
	}

	err := store.SaveDeployment(context.Background(), &state.Deployment{
		StackName: "ModerationStack",
		Status:    state.StatusComplete,
		Outputs:   map[string]string{types.OutputPlaybackURL: "https://deployed/live.m3u8"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/config.json", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://deployed/live.m3u8") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestConfigFetchedByController(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, StaticSource("https://example/live.m3u8"), zap.NewNop()))
	defer srv.Close()

	c := playback.NewController(nopPlayer{}, srv.Client(), srv.URL+"/config.json", zap.NewNop())
	if got := c.Load(context.Background()); got != "https://example/live.m3u8" {
		t.Fatalf("controller loaded %q", got)
	}
}

func TestServesSite(t *testing.T) {
	h := newTestRouter(t, StaticSource("u"), zap.NewNop())

	rec := do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("index: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := do(t, h, http.MethodGet, "/script.js", ""); rec.Code != http.StatusOK {
		t.Fatalf("script.js: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/missing.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rec.Code)
	}
}

func TestCuePreview(t *testing.T) {
	h := newTestRouter(t, StaticSource("u"), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/api/cues", `{"type":"rekognition","image":"x","objects":"y","title":"t","description":"d"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	var overlay playback.OverlayState
	if err := json.Unmarshal(rec.Body.Bytes(), &overlay); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	want := playback.OverlayState{Visible: true, Image: "x", Objects: "y", Title: "t", Description: "d"}
	if overlay != want {
		t.Fatalf("overlay = %+v", overlay)
	}

	// malformed and unknown cues are accepted and leave the overlay alone
	for _, body := range []string{`{"type":"unknown"}`, `not json`} {
		rec := do(t, h, http.MethodPost, "/api/cues", body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s: status %d", body, rec.Code)
		}
	}
	rec = do(t, h, http.MethodGet, "/api/overlay", "")
	overlay = playback.OverlayState{}
	if err := json.Unmarshal(rec.Body.Bytes(), &overlay); err != nil || overlay != want {
		t.Fatalf("overlay changed to %+v (%v)", overlay, err)
	}

	if rec := do(t, h, http.MethodDelete, "/api/overlay", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/cues", strings.Repeat("x", types.MaxMetadataBytes+1))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized cue: %d", rec.Code)
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newTestRouter(t, StaticSource("u"), zap.New(core))

	do(t, h, http.MethodGet, "/healthz", "")

	entries := logs.FilterMessage("Request served").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/healthz" || fields["status"] != int64(http.StatusOK) {
		t.Fatalf("unexpected fields %v", fields)
	}
}
