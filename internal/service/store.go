package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// loadMode says how a track load was requested.
type loadMode int

const (
	loadUser loadMode = iota // control surface; starts playback
	loadAuto                 // auto-advance; starts playback
	loadCue                  // implicit initial load; playback left to the orchestrator
)

// PlayerStore owns the session state: current track, playlist, volume and
// playback flags. Every mutation produces a new snapshot that is published as a
// StateChangedEvent before the mutating call returns.
//
// Responsibilities:
//   - Select tracks from the playlist and load them into the engine
//   - Follow engine events to keep the playback flags current
//   - Poll the playback position while playing
//   - Persist volume and position through the preference service
//
// Thread-safety: All methods are safe for concurrent use. The lock is released
// before calling the engine, the preference service or the bus.
type PlayerStore struct {
	// Dependencies (injected)
	ctx    context.Context
	logger *slog.Logger
	engine *PlaybackEngine
	prefs  *PreferenceService
	bus    ports.EventBus
	timing Timing
	timers *timerSet

	// State
	state    domain.PlayerState
	playlist domain.Playlist
	lastErr  error
	subs     []domain.SubscriptionID

	// Concurrency control
	mu          sync.Mutex
	closed      bool
	stopUpdate  chan struct{}
	tickRunning bool
	tickWg      sync.WaitGroup
}

// NewPlayerStore creates the store and subscribes it to engine events.
// It must be created before any other subscriber that reacts to the same
// events, so the state is current when they run.
func NewPlayerStore(
	ctx context.Context,
	logger *slog.Logger,
	engine *PlaybackEngine,
	prefs *PreferenceService,
	bus ports.EventBus,
	timing Timing,
) *PlayerStore {
	if logger == nil {
		logger = slog.Default()
	}

	stored := prefs.Current()
	s := &PlayerStore{
		ctx:      ctx,
		logger:   logger.With(slog.String("component", "store")),
		engine:   engine,
		prefs:    prefs,
		bus:      bus,
		timing:   timing,
		timers:   newTimerSet(),
		playlist: domain.NewPlaylist(),
		state: domain.PlayerState{
			Volume:       stored.Volume,
			HasVisited:   prefs.HasVisited() || stored.HasVisited,
			CurrentIndex: -1,
			Lifecycle:    engine.State(),
		},
	}

	s.subs = []domain.SubscriptionID{
		bus.Subscribe(domain.EventEngineStateChanged, s.onEngineStateChanged),
		bus.Subscribe(domain.EventEngineReady, s.onEngineReady),
		bus.Subscribe(domain.EventEngineFailed, s.onEngineFailed),
		bus.Subscribe(domain.EventPlaybackStateChanged, s.onPlaybackStateChanged),
		bus.Subscribe(domain.EventPlaybackFailed, s.onPlaybackFailed),
		bus.Subscribe(domain.EventVolumeSynced, s.onVolumeSynced),
	}

	s.logger.Debug("store initialized", slog.Float64("volume", stored.Volume))
	return s
}

// snapshotLocked bumps the version and returns a deep copy of the state.
// Must be called with s.mu held.
func (s *PlayerStore) snapshotLocked() domain.PlayerState {
	s.state.Version++
	s.state.Playlist = s.playlist.Tracks
	s.state.CurrentIndex = s.playlist.Index
	return s.state.Clone()
}

func (s *PlayerStore) publish(snapshot domain.PlayerState) {
	s.bus.Publish(domain.NewStateChangedEvent(snapshot))
}

// mutate applies fn to the state and publishes the resulting snapshot.
func (s *PlayerStore) mutate(fn func(st *domain.PlayerState)) domain.PlayerState {
	s.mu.Lock()
	if s.closed {
		snapshot := s.state.Clone()
		s.mu.Unlock()
		return snapshot
	}
	fn(&s.state)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot
}

// Snapshot returns a copy of the current state.
func (s *PlayerStore) Snapshot() domain.PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Playlist = s.playlist.Tracks
	st.CurrentIndex = s.playlist.Index
	return st.Clone()
}

// Err returns the last surfaced error, or nil.
func (s *PlayerStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers fn for every snapshot.
func (s *PlayerStore) Subscribe(fn func(domain.PlayerState)) domain.SubscriptionID {
	return s.bus.Subscribe(domain.EventStateChanged, func(event domain.Event) {
		if e, ok := event.(domain.StateChangedEvent); ok {
			fn(e.State)
		}
	})
}

// Unsubscribe removes a snapshot subscriber.
func (s *PlayerStore) Unsubscribe(id domain.SubscriptionID) {
	s.bus.Unsubscribe(id)
}

// SetPlaylist replaces the playlist. The loaded track stays selected when it
// is part of the new list. When nothing was loaded yet the first track is cued.
func (s *PlayerStore) SetPlaylist(tracks []domain.Track) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	currentID := ""
	if s.state.Track != nil {
		currentID = s.state.Track.ID
	}
	s.playlist = s.playlist.Replace(tracks, currentID)
	first, hasFirst := s.playlist.Current()
	autoload := s.state.Track == nil && hasFirst
	index := s.playlist.Index
	list := append([]domain.Track(nil), s.playlist.Tracks...)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("playlist updated", slog.Int("tracks", len(list)), slog.Int("index", index))
	s.publish(snapshot)

	// Cue before announcing the playlist so the orchestrator sees a loaded track.
	if autoload {
		s.load(first, index, loadCue)
	}
	s.bus.Publish(domain.NewPlaylistUpdatedEvent(list, index))
}

// LoadTrack loads track and starts playing it. The playlist position follows
// when the track is part of the playlist. No-op before the engine is ready.
func (s *PlayerStore) LoadTrack(track domain.Track) {
	s.mu.Lock()
	index := s.playlist.IndexOf(track.ID)
	s.mu.Unlock()

	s.load(track, index, loadUser)
}

// Next loads the following track, wrapping to the first. No-op on an empty playlist.
func (s *PlayerStore) Next() {
	s.step(func(p domain.Playlist) int { return p.NextIndex(p.Index) }, loadUser)
}

// Previous loads the preceding track, wrapping to the last. No-op on an empty playlist.
func (s *PlayerStore) Previous() {
	s.step(func(p domain.Playlist) int {
		if p.Index < 0 {
			return p.PreviousIndex(0)
		}
		return p.PreviousIndex(p.Index)
	}, loadUser)
}

// Advance moves to the next track after the current one ended.
func (s *PlayerStore) Advance() {
	s.step(func(p domain.Playlist) int { return p.NextIndex(p.Index) }, loadAuto)
}

func (s *PlayerStore) step(pick func(p domain.Playlist) int, mode loadMode) {
	s.mu.Lock()
	if s.closed || s.playlist.Len() == 0 {
		s.mu.Unlock()
		return
	}
	index := pick(s.playlist)
	track := s.playlist.Tracks[index]
	s.mu.Unlock()

	s.load(track, index, mode)
}

// JumpToTrack loads the track at index.
func (s *PlayerStore) JumpToTrack(index int) error {
	s.mu.Lock()
	if index < 0 || index >= s.playlist.Len() {
		n := s.playlist.Len()
		s.mu.Unlock()
		return domain.NewServiceError("PlayerStore", "JumpToTrack",
			fmt.Sprintf("index %d out of range for %d tracks", index, n), domain.ErrInvalidIndex)
	}
	track := s.playlist.Tracks[index]
	s.mu.Unlock()

	s.load(track, index, loadUser)
	return nil
}

// load points the state at track and hands it to the engine.
func (s *PlayerStore) load(track domain.Track, index int, mode loadMode) {
	if !s.engine.IsReady() {
		s.mu.Lock()
		if index >= 0 && index < s.playlist.Len() {
			s.playlist.Index = index
		}
		s.mu.Unlock()
		s.logger.Debug("engine not ready, load deferred", slog.String("track", track.ID))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if index >= 0 && index < s.playlist.Len() {
		s.playlist.Index = index
	}
	loaded := track
	loaded.Tags = append([]string(nil), track.Tags...)
	s.state.Track = &loaded
	s.state.CurrentTime = 0
	s.state.Duration = 0
	if track.DurationSeconds != nil {
		s.state.Duration = *track.DurationSeconds
	}
	s.state.IsPlaying = false
	s.state.IsPaused = true
	s.state.Error = ""
	s.lastErr = nil
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.stopTicker()
	s.logger.Info("loading track",
		slog.String("track", track.ID),
		slog.String("title", track.Title),
		slog.Int("index", index))

	s.bus.Publish(domain.NewTrackLoadedEvent(loaded, index, mode == loadUser))
	s.publish(snapshot)

	var err error
	if mode == loadCue {
		err = s.engine.Cue(track.ExternalMediaID)
	} else {
		err = s.engine.Load(track.ExternalMediaID)
	}
	if err != nil {
		s.SurfaceError(err)
		return
	}

	trackID := track.ID
	s.timers.after(s.timing.DurationRequeryDelay, func() { s.requeryDuration(trackID) })
}

// requeryDuration reads the widget's duration, which is often 0 right after a load.
func (s *PlayerStore) requeryDuration(trackID string) {
	s.mu.Lock()
	if s.closed || s.state.Track == nil || s.state.Track.ID != trackID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	duration, err := s.engine.Duration()
	if err != nil || duration <= 0 {
		return
	}

	s.mu.Lock()
	if s.closed || s.state.Track == nil || s.state.Track.ID != trackID || s.state.Duration == duration {
		s.mu.Unlock()
		return
	}
	s.state.Duration = duration
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
}

// Play resumes playback. When nothing is loaded the current playlist track is
// loaded instead. It may fail with domain.ErrAutoplayBlocked.
func (s *PlayerStore) Play() error {
	s.mu.Lock()
	current, hasCurrent := s.playlist.Current()
	needsLoad := s.state.Track == nil && hasCurrent
	index := s.playlist.Index
	s.mu.Unlock()

	if needsLoad {
		s.load(current, index, loadUser)
		return nil
	}
	return s.engine.Play()
}

// Pause pauses playback.
func (s *PlayerStore) Pause() error {
	return s.engine.Pause()
}

// Seek moves the playback position and persists it.
func (s *PlayerStore) Seek(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	s.mu.Lock()
	if s.state.Duration > 0 && seconds > s.state.Duration {
		seconds = s.state.Duration
	}
	loaded := s.state.Track != nil
	s.mu.Unlock()

	if !loaded {
		return nil
	}
	if err := s.engine.Seek(seconds); err != nil {
		return err
	}

	s.mutate(func(st *domain.PlayerState) { st.CurrentTime = seconds })
	s.prefs.SavePosition(s.ctx, seconds)
	return nil
}

// SetVolume changes and persists the volume. Values are clamped to [0, 1].
func (s *PlayerStore) SetVolume(volume float64) error {
	volume = domain.ClampVolume(volume)
	err := s.applyVolume(volume)
	s.prefs.SaveVolume(s.ctx, volume)
	return err
}

// RampVolume changes the volume without persisting it (fade-in steps).
func (s *PlayerStore) RampVolume(volume float64) error {
	return s.applyVolume(domain.ClampVolume(volume))
}

// ApplySyncedVolume applies a volume chosen in another instance. It is never
// written back and does not touch the position.
func (s *PlayerStore) ApplySyncedVolume(volume float64) {
	if err := s.applyVolume(domain.ClampVolume(volume)); err != nil {
		s.logger.Debug("failed to apply synced volume", slog.Any("error", err))
	}
}

func (s *PlayerStore) applyVolume(volume float64) error {
	s.mutate(func(st *domain.PlayerState) { st.Volume = volume })
	return s.engine.SetVolume(volume)
}

// SurfaceError records err in the state without changing playback.
func (s *PlayerStore) SurfaceError(err error) {
	if err == nil {
		return
	}
	s.logger.Warn("player error", slog.Any("error", err))
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.mutate(func(st *domain.PlayerState) { st.Error = err.Error() })
}

// Event handlers

func (s *PlayerStore) onEngineStateChanged(event domain.Event) {
	e, ok := event.(domain.EngineStateChangedEvent)
	if !ok {
		return
	}

	if e.To == domain.EngineEnded {
		s.stopTicker()
		s.mutate(func(st *domain.PlayerState) {
			st.Lifecycle = e.To
			st.IsPlaying = false
			st.IsPaused = true
			if st.Duration > 0 {
				st.CurrentTime = st.Duration
			}
		})
		return
	}
	s.mutate(func(st *domain.PlayerState) { st.Lifecycle = e.To })
}

func (s *PlayerStore) onEngineReady(domain.Event) {
	s.mu.Lock()
	volume := s.state.Volume
	current, hasCurrent := s.playlist.Current()
	needsCue := s.state.Track == nil && hasCurrent
	index := s.playlist.Index
	s.mu.Unlock()

	if err := s.engine.SetVolume(volume); err != nil {
		s.logger.Debug("failed to apply volume on ready", slog.Any("error", err))
	}
	s.mutate(func(st *domain.PlayerState) { st.IsReady = true })

	// The playlist arrived before the widget
	if needsCue {
		s.load(current, index, loadCue)
	}
}

func (s *PlayerStore) onEngineFailed(event domain.Event) {
	e, ok := event.(domain.EngineFailedEvent)
	if !ok {
		return
	}
	s.SurfaceError(e.Error)
}

func (s *PlayerStore) onPlaybackStateChanged(event domain.Event) {
	e, ok := event.(domain.PlaybackStateChangedEvent)
	if !ok {
		return
	}

	if e.Playing {
		s.mu.Lock()
		s.lastErr = nil
		s.mu.Unlock()
		s.mutate(func(st *domain.PlayerState) {
			st.IsPlaying = true
			st.IsPaused = false
			st.Error = ""
		})
		s.startTicker()
		return
	}

	s.stopTicker()
	s.mutate(func(st *domain.PlayerState) {
		st.IsPlaying = false
		st.IsPaused = true
	})
}

func (s *PlayerStore) onPlaybackFailed(event domain.Event) {
	e, ok := event.(domain.PlaybackFailedEvent)
	if !ok {
		return
	}

	s.stopTicker()
	s.mu.Lock()
	s.lastErr = e.Error
	s.mu.Unlock()
	s.mutate(func(st *domain.PlayerState) {
		st.IsPlaying = false
		st.IsPaused = true
		st.Error = e.Error.Error()
	})
}

func (s *PlayerStore) onVolumeSynced(event domain.Event) {
	e, ok := event.(domain.VolumeSyncedEvent)
	if !ok {
		return
	}
	s.ApplySyncedVolume(e.Volume)
}

// startTicker starts the position polling goroutine.
func (s *PlayerStore) startTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.tickRunning {
		return
	}
	s.tickRunning = true
	stop := make(chan struct{})
	s.stopUpdate = stop
	s.tickWg.Add(1)

	go func() {
		defer s.tickWg.Done()

		ticker := time.NewTicker(s.timing.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(stop)
			case <-stop:
				return
			}
		}
	}()
}

// stopTicker signals the polling goroutine to exit. It does not wait, so it is
// safe to call from handlers that run on the ticker goroutine itself.
func (s *PlayerStore) stopTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tickRunning {
		return
	}
	close(s.stopUpdate)
	s.tickRunning = false
}

// tick reads the position from the engine and persists it.
func (s *PlayerStore) tick(stop chan struct{}) {
	position, err := s.engine.CurrentTime()
	if err != nil {
		s.logger.Debug("failed to read position", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	knownDuration := s.state.Duration > 0
	s.mu.Unlock()

	duration := 0.0
	if !knownDuration {
		duration, _ = s.engine.Duration()
	}

	s.mu.Lock()
	if s.closed || !s.state.IsPlaying || s.stopUpdate != stop || !s.tickRunning {
		s.mu.Unlock()
		return
	}
	if s.state.Duration <= 0 && duration > 0 {
		s.state.Duration = duration
	}
	if s.state.Duration > 0 && position > s.state.Duration {
		position = s.state.Duration
	}
	s.state.CurrentTime = position
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	s.prefs.SavePosition(s.ctx, position)
}

// Shutdown stops the ticker and every pending timer and detaches from the bus.
func (s *PlayerStore) Shutdown() error {
	s.stopTicker()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.timers.stopAll()
	s.tickWg.Wait()

	for _, id := range subs {
		s.bus.Unsubscribe(id)
	}
	return nil
}

// Verify that PlayerStore implements the expected interface patterns
var _ interface {
	SetPlaylist([]domain.Track)
	LoadTrack(domain.Track)
	Next()
	Previous()
	JumpToTrack(int) error
	Play() error
	Pause() error
	Seek(float64) error
	SetVolume(float64) error
	Snapshot() domain.PlayerState
	Shutdown() error
} = (*PlayerStore)(nil)
