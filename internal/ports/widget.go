// Package ports define interfaces for dependency inversion.
// These interfaces allow the core player logic to remain independent of the embed backend.
package ports

import (
	"context"

	"github.com/tejashwikalptaru/encore/internal/domain"
)

// EmbedRuntime is the externally loaded runtime that knows how to build widgets.
// For a browser this is the injected player script; for mpv it is the spawned process.
//
// Implementations must be thread-safe.
type EmbedRuntime interface {
	// IsLoaded returns true when the runtime is already available (e.g., cached).
	IsLoaded() bool

	// Load makes the runtime available. It blocks until the runtime is usable,
	// the load fails, or ctx is done. Loading an already loaded runtime is a no-op.
	Load(ctx context.Context) error

	// Container looks up the widget mount point by id.
	// ok is false while the container has not been mounted yet.
	Container(id string) (container Container, ok bool)

	// NewWidget creates a widget bound to the container.
	// The widget reports readiness through opts.Events.OnReady.
	NewWidget(container Container, opts WidgetOptions) (Widget, error)

	// Close releases the runtime itself.
	Close() error
}

// Container is the mount point a widget renders into.
type Container interface {
	// ID returns the container identifier.
	ID() string

	// Reset clears whatever a previous widget left behind.
	Reset() error
}

// WidgetEvents are the native callbacks of the embed widget.
// Callbacks may be invoked from any goroutine, including from inside widget methods.
type WidgetEvents struct {
	OnReady       func()
	OnStateChange func(state domain.WidgetState)
	OnError       func(code int)
}

// WidgetOptions is the option bag passed to the widget constructor.
type WidgetOptions struct {
	VideoID    string
	Width      int
	Height     int
	PlayerVars map[string]int
	Events     WidgetEvents
}

// Widget is one instance of the embeddable playback widget.
// Volume is expressed in percent (0-100) like the embed API.
type Widget interface {
	PlayVideo() error
	PauseVideo() error
	SeekTo(seconds float64, allowSeekAhead bool) error
	SetVolume(percent int) error
	GetVolume() (int, error)
	GetCurrentTime() (float64, error)
	GetDuration() (float64, error)
	GetPlayerState() (domain.WidgetState, error)

	// LoadVideoByID loads the item and starts playback.
	LoadVideoByID(mediaID string) error

	// CueVideoByID loads the item without starting playback.
	CueVideoByID(mediaID string) error

	// Destroy tears the widget down. Later calls return domain.ErrWidgetDestroyed.
	Destroy() error
}
