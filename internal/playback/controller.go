package playback

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackPlaybackURL is used when config.json cannot be loaded. Playback visibly
// fails instead of the page breaking.
const FallbackPlaybackURL = ""

type PlayerState string

const (
	StateIdle      PlayerState = "Idle"
	StateReady     PlayerState = "Ready"
	StateBuffering PlayerState = "Buffering"
	StatePlaying   PlayerState = "Playing"
	StateEnded     PlayerState = "Ended"
)

// Player is the part of the video player the controller drives.
type Player interface {
	SetSource(url string)
}

// OverlayState is what the moderation overlay currently shows.
type OverlayState struct {
	Visible     bool   `json:"visible"`
	Image       string `json:"image"`
	Objects     string `json:"objects"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Controller wires a player to its config source and renders metadata cues into the
// overlay. Player events may arrive on any goroutine.
type Controller struct {
	player      Player
	client      *http.Client
	configURL   string
	fallbackURL string
	logger      *zap.Logger

	mu      sync.Mutex
	overlay OverlayState
	state   PlayerState
}

func NewController(player Player, client *http.Client, configURL string, logger *zap.Logger) *Controller {
	return &Controller{
		player:      player,
		client:      client,
		configURL:   configURL,
		fallbackURL: FallbackPlaybackURL,
		logger:      logger,
		state:       StateIdle,
	}
}

// Load fetches the playback URL and hands it to the player, falling back on any
// failure. It returns the source that was set.
func (c *Controller) Load(ctx context.Context) string {
	url, err := FetchConfig(ctx, c.client, c.configURL)
	if err != nil {
		c.logger.Error("Error loading or processing config",
			zap.Error(err),
			zap.String("config_url", c.configURL))
		url = c.fallbackURL
	}
	c.player.SetSource(url)
	return url
}

func (c *Controller) HandleStateChange(state PlayerState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.logger.Info("Player state changed", zap.String("state", string(state)))
}

func (c *Controller) HandleError(errType, source string) {
	c.logger.Warn("Player error", zap.String("type", errType), zap.String("source", source))
}

// HandleMetadataCue applies a cue to the overlay. Malformed cues are logged and
// otherwise ignored.
func (c *Controller) HandleMetadataCue(text string, position time.Duration) {
	c.logger.Info("Received metadata cue",
		zap.String("text", text),
		zap.Duration("position", position))

	cue, err := DecodeCue(text)
	if err != nil {
		c.logger.Warn("Ignoring malformed metadata cue", zap.Error(err))
		return
	}
	if unknown, ok := cue.(UnknownCue); ok {
		c.logger.Debug("Ignoring unrecognized metadata cue", zap.String("type", unknown.Type))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cue.apply(&c.overlay)
}

// ClearOverlay hides the overlay and empties its fields.
func (c *Controller) ClearOverlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = OverlayState{}
}

func (c *Controller) Overlay() OverlayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlay
}

func (c *Controller) State() PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
