package fake

import (
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// Widget is a fake embed widget. Callbacks are invoked synchronously from
// inside the command that caused them, after the widget lock is released.
type Widget struct {
	runtime   *Runtime
	events    ports.WidgetEvents
	container *Container

	mu           sync.Mutex
	mediaID      string
	state        domain.WidgetState
	volume       int
	position     float64
	duration     float64
	durationHeld bool
	destroyed    bool
	readyFired   bool

	loads   []string
	cues    []string
	plays   int
	pauses  int
	seeks   []float64
	volumes []int
}

// FireReady invokes OnReady once.
func (w *Widget) FireReady() {
	w.mu.Lock()
	if w.destroyed || w.readyFired {
		w.mu.Unlock()
		return
	}
	w.readyFired = true
	w.mu.Unlock()

	if w.events.OnReady != nil {
		w.events.OnReady()
	}
}

// PlayVideo starts playback of the loaded item.
func (w *Widget) PlayVideo() error {
	blocked, _ := w.runtime.behavior()

	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return domain.ErrWidgetDestroyed
	}
	w.plays++
	if blocked {
		w.mu.Unlock()
		return domain.ErrAutoplayBlocked
	}
	if w.mediaID == "" {
		w.mu.Unlock()
		return nil
	}
	w.state = domain.WidgetPlaying
	w.mu.Unlock()

	w.emitState(domain.WidgetPlaying)
	return nil
}

// PauseVideo pauses playback.
func (w *Widget) PauseVideo() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return domain.ErrWidgetDestroyed
	}
	w.pauses++
	if w.state != domain.WidgetPlaying && w.state != domain.WidgetBuffering {
		w.mu.Unlock()
		return nil
	}
	w.state = domain.WidgetPaused
	w.mu.Unlock()

	w.emitState(domain.WidgetPaused)
	return nil
}

// SeekTo moves the playback position.
func (w *Widget) SeekTo(seconds float64, _ bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.ErrWidgetDestroyed
	}
	if seconds < 0 {
		seconds = 0
	}
	if w.duration > 0 && seconds > w.duration {
		seconds = w.duration
	}
	w.position = seconds
	w.seeks = append(w.seeks, seconds)
	return nil
}

// SetVolume sets the volume in percent.
func (w *Widget) SetVolume(percent int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.ErrWidgetDestroyed
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	w.volume = percent
	w.volumes = append(w.volumes, percent)
	return nil
}

// GetVolume returns the volume in percent.
func (w *Widget) GetVolume() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return 0, domain.ErrWidgetDestroyed
	}
	return w.volume, nil
}

// GetCurrentTime returns the playback position in seconds.
func (w *Widget) GetCurrentTime() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return 0, domain.ErrWidgetDestroyed
	}
	return w.position, nil
}

// GetDuration returns the media length. With lazy durations configured the
// first query after a load reports 0.
func (w *Widget) GetDuration() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return 0, domain.ErrWidgetDestroyed
	}
	if w.durationHeld {
		w.durationHeld = false
		return 0, nil
	}
	return w.duration, nil
}

// GetPlayerState returns the native widget state.
func (w *Widget) GetPlayerState() (domain.WidgetState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.WidgetUnstarted, domain.ErrWidgetDestroyed
	}
	return w.state, nil
}

// LoadVideoByID loads the item and starts playing it.
func (w *Widget) LoadVideoByID(mediaID string) error {
	blocked, _ := w.runtime.behavior()
	if err := w.load(mediaID, false); err != nil {
		return err
	}

	w.emitState(domain.WidgetBuffering)
	if code := w.runtime.brokenCode(mediaID); code != 0 {
		w.setState(domain.WidgetUnstarted)
		w.emitError(code)
		return nil
	}
	if blocked {
		w.setState(domain.WidgetUnstarted)
		w.emitState(domain.WidgetUnstarted)
		return nil
	}
	w.setState(domain.WidgetPlaying)
	w.emitState(domain.WidgetPlaying)
	return nil
}

// CueVideoByID loads the item without starting playback.
func (w *Widget) CueVideoByID(mediaID string) error {
	if err := w.load(mediaID, true); err != nil {
		return err
	}
	if code := w.runtime.brokenCode(mediaID); code != 0 {
		w.setState(domain.WidgetUnstarted)
		w.emitError(code)
		return nil
	}
	w.emitState(domain.WidgetCued)
	return nil
}

func (w *Widget) load(mediaID string, cue bool) error {
	duration := w.runtime.durationFor(mediaID)
	_, lazy := w.runtime.behavior()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.ErrWidgetDestroyed
	}
	w.mediaID = mediaID
	w.position = 0
	w.duration = duration
	w.durationHeld = lazy
	if cue {
		w.cues = append(w.cues, mediaID)
		w.state = domain.WidgetCued
	} else {
		w.loads = append(w.loads, mediaID)
		w.state = domain.WidgetBuffering
	}
	return nil
}

// Destroy tears the widget down.
func (w *Widget) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.ErrWidgetDestroyed
	}
	w.destroyed = true
	w.state = domain.WidgetUnstarted
	return nil
}

// SimulateError reports a native error code for the loaded item.
func (w *Widget) SimulateError(code int) {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.emitError(code)
}

func (w *Widget) emitError(code int) {
	if w.events.OnError != nil {
		w.events.OnError(code)
	}
}

// SimulateEnded moves the position to the end and reports the Ended state.
func (w *Widget) SimulateEnded() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.position = w.duration
	w.state = domain.WidgetEnded
	w.mu.Unlock()

	w.emitState(domain.WidgetEnded)
}

// SimulateState reports an arbitrary native state (e.g., buffering).
func (w *Widget) SimulateState(state domain.WidgetState) {
	w.setState(state)
	w.emitState(state)
}

// Advance moves the playback position forward by seconds.
func (w *Widget) Advance(seconds float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.position += seconds
	if w.duration > 0 && w.position > w.duration {
		w.position = w.duration
	}
}

// Destroyed reports whether Destroy was called.
func (w *Widget) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// MediaID returns the loaded media id.
func (w *Widget) MediaID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mediaID
}

// Loads returns the media ids passed to LoadVideoByID.
func (w *Widget) Loads() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.loads...)
}

// Cues returns the media ids passed to CueVideoByID.
func (w *Widget) Cues() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cues...)
}

// Plays returns how many times PlayVideo was called.
func (w *Widget) Plays() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.plays
}

// Pauses returns how many times PauseVideo was called.
func (w *Widget) Pauses() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pauses
}

// Seeks returns every accepted seek position.
func (w *Widget) Seeks() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]float64(nil), w.seeks...)
}

// Volumes returns every volume applied, in order.
func (w *Widget) Volumes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.volumes...)
}

// Volume returns the current volume in percent without the destroyed check.
func (w *Widget) Volume() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.volume
}

// State returns the native state without the destroyed check.
func (w *Widget) State() domain.WidgetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Widget) setState(state domain.WidgetState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

func (w *Widget) emitState(state domain.WidgetState) {
	if w.events.OnStateChange != nil {
		w.events.OnStateChange(state)
	}
}

// Verify interface implementation
var _ ports.Widget = (*Widget)(nil)
