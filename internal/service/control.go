package service

import (
	"context"
	"log/slog"

	"github.com/tejashwikalptaru/encore/internal/domain"
)

// Controller is the single surface host code uses to drive the player.
// It exposes the latest snapshot and the playback commands.
//
// Using a Controller that was not built by the player provider is a
// programming error and panics with *domain.ConfigurationError.
type Controller struct {
	logger   *slog.Logger
	store    *PlayerStore
	autoplay *AutoplayOrchestrator
}

// NewController creates the control surface over the store and orchestrator.
func NewController(logger *slog.Logger, store *PlayerStore, autoplay *AutoplayOrchestrator) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:   logger.With(slog.String("component", "control")),
		store:    store,
		autoplay: autoplay,
	}
}

func (c *Controller) mustBeInitialized(op string) {
	if c == nil || c.store == nil {
		panic(domain.NewConfigurationError(op, "controller used outside an initialized player"))
	}
}

// userAction stops the fade-in before a user command takes effect.
func (c *Controller) userAction() {
	if c.autoplay != nil {
		c.autoplay.Interrupt()
	}
}

// State returns the latest snapshot.
func (c *Controller) State() domain.PlayerState {
	c.mustBeInitialized("State")
	return c.store.Snapshot()
}

// Err returns the last playback or initialization error, or nil.
func (c *Controller) Err() error {
	c.mustBeInitialized("Err")
	return c.store.Err()
}

// Play starts or resumes playback.
func (c *Controller) Play() error {
	c.mustBeInitialized("Play")
	return c.store.Play()
}

// Pause pauses playback.
func (c *Controller) Pause() error {
	c.mustBeInitialized("Pause")
	c.userAction()
	return c.store.Pause()
}

// TogglePlayPause pauses when playing and plays otherwise.
func (c *Controller) TogglePlayPause() error {
	c.mustBeInitialized("TogglePlayPause")
	if c.store.Snapshot().IsPlaying {
		return c.Pause()
	}
	return c.Play()
}

// SetVolume sets and persists the volume. Values outside [0, 1] are clamped.
func (c *Controller) SetVolume(volume float64) error {
	c.mustBeInitialized("SetVolume")
	c.userAction()
	return c.store.SetVolume(volume)
}

// SeekTo moves the playback position to seconds.
func (c *Controller) SeekTo(seconds float64) error {
	c.mustBeInitialized("SeekTo")
	c.userAction()
	return c.store.Seek(seconds)
}

// LoadTrack loads and plays track.
func (c *Controller) LoadTrack(track domain.Track) {
	c.mustBeInitialized("LoadTrack")
	c.userAction()
	c.store.LoadTrack(track)
}

// Next plays the following playlist track.
func (c *Controller) Next() {
	c.mustBeInitialized("Next")
	c.userAction()
	c.store.Next()
}

// Previous plays the preceding playlist track.
func (c *Controller) Previous() {
	c.mustBeInitialized("Previous")
	c.userAction()
	c.store.Previous()
}

// SetPlaylist replaces the playlist.
func (c *Controller) SetPlaylist(tracks []domain.Track) {
	c.mustBeInitialized("SetPlaylist")
	c.store.SetPlaylist(tracks)
}

// SetPlaylistRecords builds tracks from content records and replaces the
// playlist. It returns how many records were dropped as invalid.
func (c *Controller) SetPlaylistRecords(records []domain.TrackRecord) int {
	c.mustBeInitialized("SetPlaylistRecords")
	tracks, dropped := domain.NewTracks(records)
	if dropped > 0 {
		c.logger.Warn("dropped invalid track records", slog.Int("dropped", dropped))
	}
	c.store.SetPlaylist(tracks)
	return dropped
}

// JumpToTrack plays the playlist track at index.
func (c *Controller) JumpToTrack(index int) error {
	c.mustBeInitialized("JumpToTrack")
	c.userAction()
	return c.store.JumpToTrack(index)
}

// Subscribe registers fn for every snapshot.
func (c *Controller) Subscribe(fn func(domain.PlayerState)) domain.SubscriptionID {
	c.mustBeInitialized("Subscribe")
	return c.store.Subscribe(fn)
}

// Unsubscribe removes a snapshot subscriber.
func (c *Controller) Unsubscribe(id domain.SubscriptionID) {
	c.mustBeInitialized("Unsubscribe")
	c.store.Unsubscribe(id)
}

type controllerKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Controller) context.Context {
	return context.WithValue(ctx, controllerKey{}, c)
}

// FromContext returns the controller carried by ctx.
func FromContext(ctx context.Context) (*Controller, bool) {
	c, ok := ctx.Value(controllerKey{}).(*Controller)
	return c, ok && c != nil
}

// MustFromContext returns the controller carried by ctx and panics with
// *domain.ConfigurationError when there is none.
func MustFromContext(ctx context.Context) *Controller {
	c, ok := FromContext(ctx)
	if !ok {
		panic(domain.NewConfigurationError("MustFromContext", "no player controller in context"))
	}
	return c
}
