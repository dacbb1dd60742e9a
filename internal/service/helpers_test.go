package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/adapter/embed/fake"
	"github.com/tejashwikalptaru/encore/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

const (
	testContainerID = "player"
	waitFor         = 2 * time.Second
	pollEvery       = 2 * time.Millisecond
)

// fastTiming keeps every delay in the low milliseconds.
func fastTiming() Timing {
	return Timing{
		ContainerPollInterval: 5 * time.Millisecond,
		DurationRequeryDelay:  20 * time.Millisecond,
		RetryDelay:            5 * time.Millisecond,
		MaxRetries:            3,
		EndedDeferral:         10 * time.Millisecond,
		TickInterval:          5 * time.Millisecond,
		FadeSteps:             5,
		FadeStepInterval:      5 * time.Millisecond,
		FadeTarget:            0.3,
	}
}

// Helper to create test tracks
func testTracks(ids ...string) []domain.Track {
	tracks := make([]domain.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, domain.Track{
			ID:              id,
			Title:           "Song " + id,
			Artist:          "Test Artist",
			ExternalMediaID: "media-" + id,
		})
	}
	return tracks
}

// eventRecorder keeps every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func newEventRecorder(bus ports.EventBus) *eventRecorder {
	r := &eventRecorder{}
	bus.SubscribeAll(func(e domain.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) ofType(eventType domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Event
	for _, e := range r.events {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) count(eventType domain.EventType) int {
	return len(r.ofType(eventType))
}

func (r *eventRecorder) snapshots() []domain.PlayerState {
	var out []domain.PlayerState
	for _, e := range r.ofType(domain.EventStateChanged) {
		out = append(out, e.(domain.StateChangedEvent).State)
	}
	return out
}

func (r *eventRecorder) engineStates() []domain.EngineState {
	var out []domain.EngineState
	for _, e := range r.ofType(domain.EventEngineStateChanged) {
		out = append(out, e.(domain.EngineStateChangedEvent).To)
	}
	return out
}

// harness wires the whole player on the fake runtime and memory storage.
// Adjust runtime, storages or timing before calling build.
type harness struct {
	t       *testing.T
	timing  Timing
	runtime *fake.Runtime
	bus     *eventbus.SyncEventBus
	hub     *memory.Hub
	storage *memory.Storage
	session *memory.Storage
	events  *eventRecorder

	engine   *PlaybackEngine
	prefs    *PreferenceService
	store    *PlayerStore
	autoplay *AutoplayOrchestrator
	control  *Controller

	once sync.Once
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	runtime := fake.NewRuntime()
	runtime.SetLoaded(true)
	runtime.Mount(testContainerID)

	hub := memory.NewHub()
	bus := eventbus.NewSyncEventBus()
	h := &harness{
		t:       t,
		timing:  fastTiming(),
		runtime: runtime,
		bus:     bus,
		hub:     hub,
		storage: hub.Storage(""),
		session: memory.NewStorage(),
		events:  newEventRecorder(bus),
	}
	t.Cleanup(h.shutdown)
	return h
}

// build creates the services in provider order.
func (h *harness) build() *harness {
	log := logger.NewTestLogger()
	ctx := context.Background()

	h.engine = NewPlaybackEngine(log, h.runtime, h.bus, EngineOptions{
		ContainerID: testContainerID,
		Timing:      h.timing,
	})
	h.prefs = NewPreferenceService(ctx, log, h.storage, h.bus)
	h.store = NewPlayerStore(ctx, log, h.engine, h.prefs, h.bus, h.timing)
	h.autoplay = NewAutoplayOrchestrator(ctx, log, h.store, h.prefs, h.session, h.bus, h.timing)
	h.control = NewController(log, h.store, h.autoplay)
	return h
}

// skipFadeIn marks the session as already autoplayed.
func (h *harness) skipFadeIn() *harness {
	require.NoError(h.t, h.session.SetItem(context.Background(), SessionMarkerKey, []byte("true")))
	return h
}

func (h *harness) start() *harness {
	h.engine.Start(context.Background())
	return h
}

// startReady starts the engine and waits for Ready.
func (h *harness) startReady() *harness {
	h.t.Helper()
	h.start()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(h.t, h.engine.AwaitReady(ctx))
	require.Eventually(h.t, func() bool { return h.store.Snapshot().IsReady }, waitFor, pollEvery)
	return h
}

func (h *harness) widget() *fake.Widget {
	h.t.Helper()
	w := h.runtime.Current()
	require.NotNil(h.t, w, "no widget created")
	return w
}

// storedPreferences decodes the persisted record.
func (h *harness) storedPreferences() (domain.Preferences, bool) {
	data, err := h.storage.GetItem(context.Background(), PreferencesKey)
	if err != nil {
		return domain.Preferences{}, false
	}
	var prefs domain.Preferences
	require.NoError(h.t, json.Unmarshal(data, &prefs))
	return prefs, true
}

func (h *harness) shutdown() {
	h.once.Do(func() {
		if h.autoplay != nil {
			_ = h.autoplay.Shutdown()
		}
		if h.store != nil {
			_ = h.store.Shutdown()
		}
		if h.engine != nil {
			_ = h.engine.Destroy()
		}
		if h.prefs != nil {
			_ = h.prefs.Shutdown()
		}
		_ = h.bus.Close()
	})
}
