package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// AutoplayOrchestrator starts playback with a volume fade-in the first time
// both the engine and the playlist are ready in a session, and advances to the
// next track when one ends.
//
// The fade-in runs once per session. A marker in session storage keeps it from
// running again when the player is rebuilt within the same session.
//
// Thread-safety: All methods are safe for concurrent use.
type AutoplayOrchestrator struct {
	// Dependencies (injected)
	ctx     context.Context
	logger  *slog.Logger
	store   *PlayerStore
	prefs   *PreferenceService
	session ports.Storage
	bus     ports.EventBus
	timing  Timing
	timers  *timerSet

	// State
	mu                  sync.Mutex
	ready               bool
	playlistInitialized bool
	gate                domain.Gate
	autoplayed          bool
	fading              bool
	fadeGen             uint64
	fadeVolume          float64
	halted              bool
	closed              bool
	subs                []domain.SubscriptionID
}

// NewAutoplayOrchestrator creates the orchestrator. It must subscribe after the
// store, so the store has already applied an event when the orchestrator reacts.
func NewAutoplayOrchestrator(
	ctx context.Context,
	logger *slog.Logger,
	store *PlayerStore,
	prefs *PreferenceService,
	session ports.Storage,
	bus ports.EventBus,
	timing Timing,
) *AutoplayOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &AutoplayOrchestrator{
		ctx:     ctx,
		logger:  logger.With(slog.String("component", "autoplay")),
		store:   store,
		prefs:   prefs,
		session: session,
		bus:     bus,
		timing:  timing,
		timers:  newTimerSet(),
		gate:    domain.WaitingForBoth,
	}

	if marker, err := session.GetItem(ctx, SessionMarkerKey); err == nil && string(marker) == "true" {
		o.autoplayed = true
		o.logger.Debug("fade-in already ran in this session")
	}

	o.subs = []domain.SubscriptionID{
		bus.Subscribe(domain.EventEngineReady, o.onEngineReady),
		bus.Subscribe(domain.EventPlaylistUpdated, o.onPlaylistUpdated),
		bus.Subscribe(domain.EventTrackEnded, o.onTrackEnded),
		bus.Subscribe(domain.EventPlaybackFailed, o.onPlaybackFailed),
		bus.Subscribe(domain.EventTrackLoaded, o.onTrackLoaded),
		bus.Subscribe(domain.EventVolumeSynced, o.onVolumeSynced),
	}

	return o
}

// Gate returns the current readiness gate.
func (o *AutoplayOrchestrator) Gate() domain.Gate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gate
}

// Fading reports whether the fade-in ramp is running.
func (o *AutoplayOrchestrator) Fading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fading
}

// Halted reports whether auto-advance stopped after a terminal failure.
func (o *AutoplayOrchestrator) Halted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}

func (o *AutoplayOrchestrator) onEngineReady(domain.Event) {
	o.mu.Lock()
	o.ready = true
	o.mu.Unlock()
	o.evaluate()
}

func (o *AutoplayOrchestrator) onPlaylistUpdated(event domain.Event) {
	e, ok := event.(domain.PlaylistUpdatedEvent)
	if !ok || len(e.Playlist) == 0 {
		return
	}
	o.mu.Lock()
	o.playlistInitialized = true
	o.mu.Unlock()
	o.evaluate()
}

// evaluate starts the fade-in on the transition into BothSatisfied.
func (o *AutoplayOrchestrator) evaluate() {
	o.mu.Lock()
	previous := o.gate
	o.gate = domain.EvaluateGate(o.ready, o.playlistInitialized)
	entered := previous != domain.BothSatisfied && o.gate == domain.BothSatisfied
	if !entered || o.autoplayed || o.closed {
		o.mu.Unlock()
		return
	}
	o.autoplayed = true
	o.fading = true
	o.fadeGen++
	gen := o.fadeGen
	o.fadeVolume = 0
	o.mu.Unlock()

	if err := o.session.SetItem(o.ctx, SessionMarkerKey, []byte("true")); err != nil {
		o.logger.Debug("failed to write session marker", slog.Any("error", err))
	}
	o.startFade(gen)
}

func (o *AutoplayOrchestrator) startFade(gen uint64) {
	target := o.timing.FadeTarget
	o.logger.Info("starting fade-in", slog.Float64("target", target), slog.Int("steps", o.timing.FadeSteps))
	o.bus.Publish(domain.NewAutoplayStartedEvent(target))

	if err := o.store.RampVolume(0); err != nil {
		o.logger.Debug("failed to mute before fade-in", slog.Any("error", err))
	}
	if err := o.store.Play(); err != nil {
		o.fallback(gen, err)
		return
	}
	o.scheduleStep(gen, 1)
}

func (o *AutoplayOrchestrator) scheduleStep(gen uint64, step int) {
	o.timers.after(o.timing.FadeStepInterval, func() { o.fadeStep(gen, step) })
}

func (o *AutoplayOrchestrator) fadeStep(gen uint64, step int) {
	steps := o.timing.FadeSteps
	if steps < 1 {
		steps = 1
	}
	volume := o.timing.FadeTarget * float64(step) / float64(steps)

	o.mu.Lock()
	if o.closed || !o.fading || gen != o.fadeGen {
		o.mu.Unlock()
		return
	}
	o.fadeVolume = volume
	last := step >= steps
	if last {
		o.fading = false
	}
	o.mu.Unlock()

	if err := o.store.RampVolume(volume); err != nil {
		o.logger.Debug("fade-in step failed", slog.Int("step", step), slog.Any("error", err))
	}

	if !last {
		o.scheduleStep(gen, step+1)
		return
	}

	o.logger.Info("fade-in completed", slog.Float64("volume", volume))
	o.prefs.MarkVisited(o.ctx)
	o.bus.Publish(domain.NewAutoplayCompletedEvent(volume, false))
}

// fallback leaves the player paused at the persisted volume when the fade-in
// could not start playback. Blocked autoplay is expected and not surfaced.
func (o *AutoplayOrchestrator) fallback(gen uint64, err error) {
	o.mu.Lock()
	if gen != o.fadeGen {
		o.mu.Unlock()
		return
	}
	o.fading = false
	o.mu.Unlock()

	volume := o.prefs.Current().Volume
	if rampErr := o.store.RampVolume(volume); rampErr != nil {
		o.logger.Debug("failed to restore volume", slog.Any("error", rampErr))
	}

	if errors.Is(err, domain.ErrAutoplayBlocked) {
		o.logger.Info("autoplay blocked, waiting for the user")
	} else {
		o.logger.Warn("fade-in could not start playback", slog.Any("error", err))
		o.store.SurfaceError(err)
	}

	o.prefs.MarkVisited(o.ctx)
	o.bus.Publish(domain.NewAutoplayBlockedEvent(err))
}

// Interrupt cancels a running fade-in, leaving the volume where it is.
// User changes to volume, pause, seek or track call it.
func (o *AutoplayOrchestrator) Interrupt() {
	o.mu.Lock()
	if !o.fading {
		o.mu.Unlock()
		return
	}
	o.fading = false
	o.fadeGen++
	volume := o.fadeVolume
	o.mu.Unlock()

	o.logger.Debug("fade-in interrupted", slog.Float64("volume", volume))
	o.prefs.MarkVisited(o.ctx)
	o.bus.Publish(domain.NewAutoplayCompletedEvent(volume, true))
}

func (o *AutoplayOrchestrator) onTrackEnded(domain.Event) {
	o.mu.Lock()
	if o.closed || o.halted {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.store.Advance()
}

func (o *AutoplayOrchestrator) onPlaybackFailed(event domain.Event) {
	o.mu.Lock()
	o.halted = true
	o.mu.Unlock()

	if e, ok := event.(domain.PlaybackFailedEvent); ok {
		o.logger.Warn("auto-advance stopped after playback failure", slog.String("media_id", e.MediaID))
	}
}

func (o *AutoplayOrchestrator) onTrackLoaded(event domain.Event) {
	e, ok := event.(domain.TrackLoadedEvent)
	if !ok || !e.User {
		return
	}
	o.mu.Lock()
	o.halted = false
	o.mu.Unlock()
	o.Interrupt()
}

func (o *AutoplayOrchestrator) onVolumeSynced(event domain.Event) {
	e, ok := event.(domain.VolumeSyncedEvent)
	if !ok {
		return
	}
	o.mu.Lock()
	unchanged := o.fading && e.Volume == o.fadeVolume
	o.mu.Unlock()
	if unchanged {
		return
	}
	o.Interrupt()
}

// Shutdown stops the ramp and detaches from the bus.
func (o *AutoplayOrchestrator) Shutdown() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.fading = false
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	o.timers.stopAll()
	for _, id := range subs {
		o.bus.Unsubscribe(id)
	}
	return nil
}
