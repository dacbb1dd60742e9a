// Package service provides business logic for the encore player.
// Services coordinate between the domain layer and adapters (embed runtime, storage, event bus).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// EngineOptions configures the playback engine.
type EngineOptions struct {
	// ContainerID is the id of the mount point the widget renders into
	ContainerID string

	// Width and Height are passed to the widget constructor
	Width  int
	Height int

	// PlayerVars are the widget's player parameters
	PlayerVars map[string]int

	Timing Timing
}

// DefaultPlayerVars returns the widget parameters the player always uses:
// no autoplay, no native controls, inline playback.
func DefaultPlayerVars() map[string]int {
	return map[string]int{
		"autoplay":       0,
		"controls":       0,
		"disablekb":      1,
		"fs":             0,
		"modestbranding": 1,
		"playsinline":    1,
		"rel":            0,
	}
}

// PlaybackEngine wraps the embed widget behind a small command API and turns its
// callbacks into lifecycle events.
//
// Responsibilities:
//   - Load the embed runtime once and wait for the container to be mounted
//   - Create exactly one live widget and destroy the previous one on re-init
//   - Translate native widget states into engine states and events
//   - Retry failed items before declaring them failed
//
// Thread-safety: All methods are safe for concurrent use. The lock is never held
// while calling the widget or publishing events.
type PlaybackEngine struct {
	logger  *slog.Logger
	runtime ports.EmbedRuntime
	bus     ports.EventBus
	opts    EngineOptions
	timers  *timerSet

	mu           sync.Mutex
	state        domain.EngineState
	started      bool
	closed       bool
	widget       ports.Widget
	generation   uint64
	readyPending bool
	pollAttempts int
	initErr      error
	readyCh      chan struct{}
	readyClosed  bool
	cancelLoad   context.CancelFunc
	loadWg       sync.WaitGroup

	// current item
	mediaID    string
	cued       bool
	retries    int
	endedFired bool
}

// NewPlaybackEngine creates an engine in the Uninitialized state.
// Nothing happens until Start is called.
func NewPlaybackEngine(logger *slog.Logger, runtime ports.EmbedRuntime, bus ports.EventBus, opts EngineOptions) *PlaybackEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PlayerVars == nil {
		opts.PlayerVars = DefaultPlayerVars()
	}
	return &PlaybackEngine{
		logger:  logger.With(slog.String("component", "engine")),
		runtime: runtime,
		bus:     bus,
		opts:    opts,
		timers:  newTimerSet(),
		state:   domain.EngineUninitialized,
		readyCh: make(chan struct{}),
	}
}

// Start begins initialization. When the runtime is already loaded the script
// stage completes synchronously; otherwise it is loaded in the background.
// Calling Start more than once has no effect.
func (e *PlaybackEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.transition(domain.EngineScriptLoading)

	if e.runtime.IsLoaded() {
		e.transition(domain.EngineScriptLoaded)
		e.initialize()
		return
	}

	loadCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancelLoad = cancel
	e.loadWg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.loadWg.Done()
		defer cancel()

		if err := e.runtime.Load(loadCtx); err != nil {
			if e.isClosed() {
				return
			}
			e.logger.Error("failed to load embed runtime", slog.Any("error", err))
			e.fail(domain.NewInitializationError("script", err))
			return
		}
		e.transition(domain.EngineScriptLoaded)
		e.initialize()
	}()
}

// Reinitialize destroys the current widget and builds a new one in the same
// container. The current item is cued again once the new widget is ready.
func (e *PlaybackEngine) Reinitialize() {
	e.mu.Lock()
	if e.closed || !e.started {
		e.mu.Unlock()
		return
	}
	e.pollAttempts = 0
	e.mu.Unlock()

	e.initialize()
}

// initialize looks the container up, polling until it is mounted.
func (e *PlaybackEngine) initialize() {
	if e.isClosed() {
		return
	}

	container, ok := e.runtime.Container(e.opts.ContainerID)
	if !ok {
		e.mu.Lock()
		e.pollAttempts++
		attempts := e.pollAttempts
		e.mu.Unlock()

		limit := e.opts.Timing.ContainerPollLimit
		if limit > 0 && attempts >= limit {
			e.logger.Error("widget container never appeared",
				slog.String("container", e.opts.ContainerID),
				slog.Int("attempts", attempts))
			e.fail(domain.NewInitializationError("container", domain.ErrContainerNotFound))
			return
		}
		if attempts == 1 {
			e.logger.Debug("waiting for widget container", slog.String("container", e.opts.ContainerID))
		}
		e.timers.after(e.opts.Timing.ContainerPollInterval, e.initialize)
		return
	}

	e.createWidget(container)
}

// createWidget replaces any live widget with a fresh one bound to container.
func (e *PlaybackEngine) createWidget(container ports.Container) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	old := e.widget
	e.widget = nil
	e.generation++
	gen := e.generation
	e.readyPending = false
	mediaID := e.mediaID
	e.mu.Unlock()

	e.transition(domain.EnginePlayerInitializing)

	if old != nil {
		if err := old.Destroy(); err != nil && !errors.Is(err, domain.ErrWidgetDestroyed) {
			e.logger.Warn("failed to destroy previous widget", slog.Any("error", err))
		}
	}
	if err := container.Reset(); err != nil {
		e.logger.Warn("failed to reset widget container", slog.Any("error", err))
	}

	widget, err := e.runtime.NewWidget(container, ports.WidgetOptions{
		VideoID:    mediaID,
		Width:      e.opts.Width,
		Height:     e.opts.Height,
		PlayerVars: e.opts.PlayerVars,
		Events:     e.eventsFor(gen),
	})
	if err != nil {
		e.logger.Error("failed to create widget", slog.Any("error", err))
		e.fail(domain.NewInitializationError("widget", err))
		return
	}

	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		_ = widget.Destroy()
		return
	}
	e.widget = widget
	pending := e.readyPending
	e.mu.Unlock()

	if pending {
		e.handleReady(gen)
	}
}

// eventsFor binds widget callbacks to one widget generation so callbacks of a
// destroyed widget are ignored.
func (e *PlaybackEngine) eventsFor(gen uint64) ports.WidgetEvents {
	return ports.WidgetEvents{
		OnReady:       func() { e.handleReady(gen) },
		OnStateChange: func(state domain.WidgetState) { e.handleWidgetState(gen, state) },
		OnError:       func(code int) { e.handleWidgetError(gen, code) },
	}
}

func (e *PlaybackEngine) handleReady(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		return
	}
	if e.widget == nil {
		// Ready fired before NewWidget returned
		e.readyPending = true
		e.mu.Unlock()
		return
	}
	e.readyPending = false
	from := e.state
	e.state = domain.EngineReady
	e.mu.Unlock()

	e.logger.Info("player ready")
	e.publishTransition(from, domain.EngineReady)
	e.closeReady()
	e.bus.Publish(domain.NewEngineReadyEvent())
}

func (e *PlaybackEngine) handleWidgetState(gen uint64, ws domain.WidgetState) {
	e.mu.Lock()
	if e.closed || gen != e.generation || !e.state.IsReady() {
		e.mu.Unlock()
		return
	}
	from := e.state
	mediaID := e.mediaID

	switch ws {
	case domain.WidgetPlaying:
		e.retries = 0
		e.endedFired = false
		if from == domain.EnginePlaying {
			e.mu.Unlock()
			return
		}
		e.state = domain.EnginePlaying
		e.mu.Unlock()

		e.publishTransition(from, domain.EnginePlaying)
		e.bus.Publish(domain.NewPlaybackStateChangedEvent(mediaID, true))

	case domain.WidgetPaused:
		if from == domain.EnginePaused {
			e.mu.Unlock()
			return
		}
		e.state = domain.EnginePaused
		e.mu.Unlock()

		e.publishTransition(from, domain.EnginePaused)
		e.bus.Publish(domain.NewPlaybackStateChangedEvent(mediaID, false))

	case domain.WidgetEnded:
		if e.endedFired {
			e.mu.Unlock()
			return
		}
		e.endedFired = true
		e.state = domain.EngineEnded
		e.mu.Unlock()

		e.publishTransition(from, domain.EngineEnded)
		// Advancing from inside the widget's dispatch would re-enter it.
		e.timers.after(e.opts.Timing.EndedDeferral, func() {
			if e.isClosed() {
				return
			}
			e.bus.Publish(domain.NewTrackEndedEvent(mediaID))
		})

	default:
		// Buffering, cued and unstarted carry no logical state
		e.mu.Unlock()
	}
}

func (e *PlaybackEngine) handleWidgetError(gen uint64, code int) {
	e.mu.Lock()
	if e.closed || gen != e.generation || e.mediaID == "" {
		e.mu.Unlock()
		return
	}
	mediaID := e.mediaID
	cue := e.cued

	// Already reported; only a new load leaves the error state.
	if e.state == domain.EngineError {
		e.mu.Unlock()
		e.logger.Debug("widget error after failure ignored",
			slog.String("media_id", mediaID),
			slog.Int("code", code))
		return
	}

	if e.retries >= e.opts.Timing.MaxRetries {
		from := e.state
		e.state = domain.EngineError
		retries := e.retries
		e.mu.Unlock()

		err := domain.NewWidgetError("load", mediaID, code,
			fmt.Sprintf("%s after %d retries", describeWidgetError(code), retries), domain.ErrRetriesExhausted)
		e.logger.Error("playback failed",
			slog.String("media_id", mediaID),
			slog.Int("code", code),
			slog.Int("retries", retries))
		e.publishTransition(from, domain.EngineError)
		e.bus.Publish(domain.NewPlaybackFailedEvent(mediaID, err))
		return
	}

	e.retries++
	attempt := e.retries
	e.mu.Unlock()

	e.logger.Warn("playback error, retrying",
		slog.String("media_id", mediaID),
		slog.Int("code", code),
		slog.Int("attempt", attempt))
	e.bus.Publish(domain.NewPlaybackErrorEvent(mediaID, code, attempt))

	e.timers.after(e.opts.Timing.RetryDelay, func() {
		e.mu.Lock()
		if e.closed || gen != e.generation || e.mediaID != mediaID || e.widget == nil {
			e.mu.Unlock()
			return
		}
		widget := e.widget
		e.endedFired = false
		e.mu.Unlock()

		var err error
		if cue {
			err = widget.CueVideoByID(mediaID)
		} else {
			err = widget.LoadVideoByID(mediaID)
		}
		if err != nil && !errors.Is(err, domain.ErrWidgetDestroyed) {
			e.logger.Warn("retry failed", slog.String("media_id", mediaID), slog.Any("error", err))
		}
	})
}

// describeWidgetError maps the embed player's error codes to text.
func describeWidgetError(code int) string {
	switch code {
	case 2:
		return "invalid media id"
	case 5:
		return "media cannot be played by the player"
	case 100:
		return "media not found or removed"
	case 101, 150:
		return "media owner does not allow embedding"
	default:
		return "unknown player error"
	}
}

// AwaitReady blocks until the engine is ready, failed or was destroyed.
func (e *PlaybackEngine) AwaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.readyCh:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.initErr != nil:
		return e.initErr
	case e.closed:
		return domain.ErrEngineClosed
	default:
		return nil
	}
}

// State returns the lifecycle state.
func (e *PlaybackEngine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsReady reports whether the widget accepts commands.
func (e *PlaybackEngine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready()
}

// ready must be called with e.mu held.
func (e *PlaybackEngine) ready() bool {
	return !e.closed && e.initErr == nil && e.widget != nil && e.state.IsReady()
}

// MediaID returns the item most recently loaded or cued.
func (e *PlaybackEngine) MediaID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mediaID
}

// command runs fn against the live widget. Before Ready it is a silent no-op.
func (e *PlaybackEngine) command(op string, fn func(w ports.Widget) error) error {
	e.mu.Lock()
	if !e.ready() {
		e.mu.Unlock()
		return nil
	}
	widget := e.widget
	mediaID := e.mediaID
	e.mu.Unlock()

	if err := fn(widget); err != nil {
		if errors.Is(err, domain.ErrWidgetDestroyed) {
			return nil
		}
		return domain.NewWidgetError(op, mediaID, 0, err.Error(), err)
	}
	return nil
}

// Play resumes playback. It may fail with domain.ErrAutoplayBlocked.
func (e *PlaybackEngine) Play() error {
	return e.command("play", func(w ports.Widget) error { return w.PlayVideo() })
}

// Pause pauses playback.
func (e *PlaybackEngine) Pause() error {
	return e.command("pause", func(w ports.Widget) error { return w.PauseVideo() })
}

// Seek jumps to seconds, allowing the widget to fetch unbuffered data.
func (e *PlaybackEngine) Seek(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	return e.command("seek", func(w ports.Widget) error { return w.SeekTo(seconds, true) })
}

// SetVolume sets the volume from a [0, 1] value. The widget works in percent.
func (e *PlaybackEngine) SetVolume(volume float64) error {
	percent := int(math.Round(domain.ClampVolume(volume) * 100))
	return e.command("volume", func(w ports.Widget) error { return w.SetVolume(percent) })
}

// Load loads mediaID and starts playing it.
func (e *PlaybackEngine) Load(mediaID string) error {
	return e.loadItem("load", mediaID, false)
}

// Cue loads mediaID without starting playback.
func (e *PlaybackEngine) Cue(mediaID string) error {
	return e.loadItem("cue", mediaID, true)
}

func (e *PlaybackEngine) loadItem(op, mediaID string, cue bool) error {
	if mediaID == "" {
		return domain.NewValidationError("media_id", mediaID, "media id cannot be empty")
	}

	e.mu.Lock()
	if !e.ready() {
		e.mu.Unlock()
		return nil
	}
	if mediaID != e.mediaID {
		e.retries = 0
	}
	e.mediaID = mediaID
	e.cued = cue
	e.endedFired = false
	// A new item starts from Ready so its first Playing is never debounced.
	from := e.state
	e.state = domain.EngineReady
	e.mu.Unlock()

	e.publishTransition(from, domain.EngineReady)

	e.logger.Debug("loading media", slog.String("media_id", mediaID), slog.Bool("cue", cue))
	return e.command(op, func(w ports.Widget) error {
		if cue {
			return w.CueVideoByID(mediaID)
		}
		return w.LoadVideoByID(mediaID)
	})
}

// CurrentTime returns the playback position in seconds, or 0 before Ready.
func (e *PlaybackEngine) CurrentTime() (float64, error) {
	return e.query(func(w ports.Widget) (float64, error) { return w.GetCurrentTime() })
}

// Duration returns the item length in seconds. It may be 0 right after a load.
func (e *PlaybackEngine) Duration() (float64, error) {
	return e.query(func(w ports.Widget) (float64, error) { return w.GetDuration() })
}

func (e *PlaybackEngine) query(fn func(w ports.Widget) (float64, error)) (float64, error) {
	e.mu.Lock()
	if !e.ready() {
		e.mu.Unlock()
		return 0, nil
	}
	widget := e.widget
	e.mu.Unlock()

	value, err := fn(widget)
	if errors.Is(err, domain.ErrWidgetDestroyed) {
		return 0, nil
	}
	return value, err
}

// Destroy tears down the widget and cancels every pending timer.
// Later commands are no-ops. Destroy is idempotent.
func (e *PlaybackEngine) Destroy() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	widget := e.widget
	e.widget = nil
	e.generation++
	cancel := e.cancelLoad
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.timers.stopAll()
	e.loadWg.Wait()
	e.closeReady()

	if widget != nil {
		if err := widget.Destroy(); err != nil && !errors.Is(err, domain.ErrWidgetDestroyed) {
			return fmt.Errorf("failed to destroy widget: %w", err)
		}
	}
	e.logger.Debug("engine destroyed")
	return nil
}

func (e *PlaybackEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// transition moves to state and publishes the change.
func (e *PlaybackEngine) transition(to domain.EngineState) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = to
	e.mu.Unlock()

	e.publishTransition(from, to)
}

func (e *PlaybackEngine) publishTransition(from, to domain.EngineState) {
	if from == to {
		return
	}
	e.logger.Debug("engine state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	e.bus.Publish(domain.NewEngineStateChangedEvent(from, to))
}

// fail records a terminal initialization error.
func (e *PlaybackEngine) fail(err error) {
	e.mu.Lock()
	if e.closed || e.initErr != nil {
		e.mu.Unlock()
		return
	}
	e.initErr = err
	from := e.state
	e.state = domain.EngineError
	e.mu.Unlock()

	e.publishTransition(from, domain.EngineError)
	e.closeReady()
	e.bus.Publish(domain.NewEngineFailedEvent(err))
}

func (e *PlaybackEngine) closeReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.readyClosed {
		e.readyClosed = true
		close(e.readyCh)
	}
}
