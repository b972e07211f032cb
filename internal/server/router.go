package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ivs-moderation/internal/playback"
	"ivs-moderation/internal/state"
	"ivs-moderation/internal/templates"
	"ivs-moderation/internal/types"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxCueBytes = types.MaxMetadataBytes

// PlaybackSource tells the server which playback URL to advertise in config.json.
type PlaybackSource interface {
	PlaybackURL(ctx context.Context) (string, error)
}

// StaticSource always returns the same URL.
type StaticSource string

func (s StaticSource) PlaybackURL(context.Context) (string, error) {
	if s == "" {
		return "", playback.ErrMissingPlaybackURL
	}
	return string(s), nil
}

// DeploymentSource reads the playback URL from the recorded stack outputs.
type DeploymentSource struct {
	Store     state.Store
	StackName string
}

func (s DeploymentSource) PlaybackURL(ctx context.Context) (string, error) {
	deployment, err := s.Store.GetDeployment(ctx, s.StackName)
	if err != nil {
		return "", fmt.Errorf("failed to get deployment %s: %w", s.StackName, err)
	}
	if deployment.Status != state.StatusComplete {
		return "", fmt.Errorf("deployment %s is %s", s.StackName, deployment.Status)
	}
	url := deployment.Outputs[types.OutputPlaybackURL]
	if url == "" {
		return "", playback.ErrMissingPlaybackURL
	}
	return url, nil
}

// Handler serves the demo site and a preview of the overlay driven by posted cues.
type Handler struct {
	source  PlaybackSource
	assets  map[string]templates.File
	overlay *playback.Controller
	logger  *zap.Logger
}

func NewHandler(source PlaybackSource, site templates.SiteData, overlay *playback.Controller, logger *zap.Logger) (*Handler, error) {
	files, err := templates.Assets(site)
	if err != nil {
		return nil, fmt.Errorf("failed to build site: %w", err)
	}
	assets := make(map[string]templates.File, len(files))
	for _, f := range files {
		assets[f.Key] = f
	}
	return &Handler{source: source, assets: assets, overlay: overlay, logger: logger}, nil
}

func NewRouter(handler *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) })
	r.Get("/"+templates.ConfigKey, handler.config)

	r.Route("/api", func(r chi.Router) {
		r.Get("/overlay", handler.getOverlay)
		r.Post("/cues", handler.postCue)
		r.Delete("/overlay", handler.clearOverlay)
	})

	r.Get("/", handler.asset)
	r.Get("/{file}", handler.asset)
	return r
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	url, err := h.source.PlaybackURL(r.Context())
	if err != nil {
		h.logger.Warn("Playback URL unavailable", zap.Error(err))
		status := http.StatusServiceUnavailable
		if errors.Is(err, state.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "playback url unavailable")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, types.PlaybackConfig{PlaybackURL: url})
}

func (h *Handler) asset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if name == "" {
		name = templates.IndexKey
	}
	f, ok := h.assets[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(f.Body)
}

func (h *Handler) getOverlay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.overlay.Overlay())
}

// postCue feeds the request body to the overlay exactly as the player would hand
// over a timed metadata cue.
func (h *Handler) postCue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCueBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read cue")
		return
	}
	if len(body) > maxCueBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("cue exceeds %d bytes", maxCueBytes))
		return
	}

	h.overlay.HandleMetadataCue(strings.TrimSpace(string(body)), 0)
	writeJSON(w, http.StatusAccepted, h.overlay.Overlay())
}

func (h *Handler) clearOverlay(w http.ResponseWriter, _ *http.Request) {
	h.overlay.ClearOverlay()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// NewHTTPServer wraps the router with the timeouts used by playback-server.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
