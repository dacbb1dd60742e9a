// Package fake provides an in-memory implementation of the embed runtime and widget.
// It simulates the asynchronous, callback-driven behavior of a real embed player and
// is used for testing services and for running the engine without a media backend.
package fake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// DefaultDuration is the length reported for media without a configured duration.
const DefaultDuration = 180.0

// Runtime is a fake embed runtime.
//
// Thread-safety: This implementation is thread-safe.
type Runtime struct {
	logger *slog.Logger

	mu         sync.Mutex
	loaded     bool
	loadCalls  int
	loadDelay  time.Duration
	failLoad   error
	containers map[string]*Container
	widgets    []*Widget
	durations  map[string]float64
	broken     map[string]int

	// Behavior configuration (for testing error scenarios)
	manualReady     bool
	autoplayBlocked bool
	lazyDuration    bool
	failWidget      error
}

// NewRuntime creates a fake runtime that is not loaded and has no containers.
func NewRuntime() *Runtime {
	return &Runtime{
		containers: make(map[string]*Container),
		durations:  make(map[string]float64),
		broken:     make(map[string]int),
	}
}

// SetLogger sets the logger for this runtime.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetLoaded marks the runtime as already available (cached script).
func (r *Runtime) SetLoaded(loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = loaded
}

// SetLoadDelay makes Load take the given time.
func (r *Runtime) SetLoadDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadDelay = d
}

// SetFailLoad configures Load to fail with err (nil clears it).
func (r *Runtime) SetFailLoad(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLoad = err
}

// SetFailWidget configures NewWidget to fail with err (nil clears it).
func (r *Runtime) SetFailWidget(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWidget = err
}

// SetManualReady stops widgets from announcing readiness on their own.
// Tests then call Widget.FireReady.
func (r *Runtime) SetManualReady(manual bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manualReady = manual
}

// SetAutoplayBlocked makes PlayVideo fail with domain.ErrAutoplayBlocked.
func (r *Runtime) SetAutoplayBlocked(blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoplayBlocked = blocked
}

// SetLazyDuration makes widgets report a zero duration on the first query after a load.
func (r *Runtime) SetLazyDuration(lazy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazyDuration = lazy
}

// SetDuration configures the duration reported for a media id.
func (r *Runtime) SetDuration(mediaID string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[mediaID] = seconds
}

// SetBroken makes every load or cue of mediaID report the error code instead
// of playing. A code of 0 repairs the item.
func (r *Runtime) SetBroken(mediaID string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code == 0 {
		delete(r.broken, mediaID)
		return
	}
	r.broken[mediaID] = code
}

// Mount makes a container available for lookup.
func (r *Runtime) Mount(id string) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.containers[id]; ok {
		return c
	}
	c := &Container{id: id}
	r.containers[id] = c
	return c
}

// Unmount removes a container.
func (r *Runtime) Unmount(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// IsLoaded returns true if the runtime is available.
func (r *Runtime) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Load simulates fetching the runtime.
func (r *Runtime) Load(ctx context.Context) error {
	r.mu.Lock()
	r.loadCalls++
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	delay := r.loadDelay
	failure := r.failLoad
	r.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if failure != nil {
		return failure
	}

	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// LoadCalls returns how many times Load was invoked (for testing).
func (r *Runtime) LoadCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadCalls
}

// Container looks up a mounted container.
func (r *Runtime) Container(id string) (ports.Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// NewWidget creates a fake widget. Unless manual readiness is configured,
// OnReady fires from a separate goroutine shortly after construction.
func (r *Runtime) NewWidget(container ports.Container, opts ports.WidgetOptions) (ports.Widget, error) {
	r.mu.Lock()
	if !r.loaded {
		r.mu.Unlock()
		return nil, domain.ErrRuntimeNotLoaded
	}
	if r.failWidget != nil {
		err := r.failWidget
		r.mu.Unlock()
		return nil, err
	}

	c, _ := container.(*Container)
	w := &Widget{
		runtime:   r,
		events:    opts.Events,
		container: c,
		state:     domain.WidgetUnstarted,
		volume:    100,
	}
	if c != nil {
		c.attach(w)
	}
	r.widgets = append(r.widgets, w)
	manual := r.manualReady
	r.mu.Unlock()

	if opts.VideoID != "" {
		_ = w.CueVideoByID(opts.VideoID)
	}

	if !manual {
		go w.FireReady()
	}

	return w, nil
}

// Widgets returns every widget created so far (for testing).
func (r *Runtime) Widgets() []*Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Widget(nil), r.widgets...)
}

// Current returns the most recently created widget, or nil.
func (r *Runtime) Current() *Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.widgets) == 0 {
		return nil
	}
	return r.widgets[len(r.widgets)-1]
}

// Close marks the runtime unloaded.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	return nil
}

func (r *Runtime) durationFor(mediaID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.durations[mediaID]; ok {
		return d
	}
	return DefaultDuration
}

func (r *Runtime) brokenCode(mediaID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broken[mediaID]
}

func (r *Runtime) behavior() (autoplayBlocked, lazyDuration bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoplayBlocked, r.lazyDuration
}

// Container is a fake mount point.
type Container struct {
	mu     sync.Mutex
	id     string
	child  *Widget
	resets int
}

// ID returns the container id.
func (c *Container) ID() string {
	return c.id
}

// Reset detaches whatever widget was rendered into the container.
func (c *Container) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.child = nil
	c.resets++
	return nil
}

// Resets returns how many times the container was cleared (for testing).
func (c *Container) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func (c *Container) attach(w *Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.child = w
}

// Verify interface implementations
var (
	_ ports.EmbedRuntime = (*Runtime)(nil)
	_ ports.Container    = (*Container)(nil)
)
