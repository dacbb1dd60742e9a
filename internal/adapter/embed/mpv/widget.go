package mpv

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

const watchURL = "https://www.youtube.com/watch?v="

// resolveMediaTarget turns a media id into something mpv can open.
// URLs and file paths pass through; bare ids are played through mpv's ytdl hook.
func resolveMediaTarget(mediaID string) (string, error) {
	id := strings.TrimSpace(mediaID)
	if id == "" {
		return "", errors.New("empty media id")
	}
	// A leading dash would be parsed as an mpv option.
	if strings.HasPrefix(id, "-") {
		return "", fmt.Errorf("media id %q looks like a flag", id)
	}

	if u, err := url.Parse(id); err == nil && u.Scheme != "" && u.Host != "" {
		switch u.Scheme {
		case "http", "https", "ytdl":
			return id, nil
		default:
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
	}

	if filepath.IsAbs(id) || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") {
		return id, nil
	}

	return watchURL + url.QueryEscape(id), nil
}

// Widget drives one mpv playback session.
type Widget struct {
	logger   *slog.Logger
	client   *client
	events   ports.WidgetEvents
	listener *listener

	mu        sync.Mutex
	state     domain.WidgetState
	cue       bool
	loaded    bool
	mediaID   string
	destroyed bool
	readyOnce sync.Once
}

func newWidget(c *client, socketPath string, events ports.WidgetEvents, logger *slog.Logger) (*Widget, error) {
	w := &Widget{
		logger: logger,
		client: c,
		events: events,
		state:  domain.WidgetUnstarted,
	}

	l, err := startListener(socketPath, w.handle, logger)
	if err != nil {
		return nil, err
	}
	w.listener = l
	return w, nil
}

// fireReady announces readiness once.
func (w *Widget) fireReady() {
	w.readyOnce.Do(func() {
		if w.isDestroyed() {
			return
		}
		if w.events.OnReady != nil {
			w.events.OnReady()
		}
	})
}

func (w *Widget) handle(sig signal) {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}

	var (
		emit  bool
		state domain.WidgetState
		code  = -1
	)
	switch sig.kind {
	case signalStartFile:
		w.loaded = false
		w.state, state, emit = domain.WidgetBuffering, domain.WidgetBuffering, true
	case signalFileLoaded:
		w.loaded = true
		state = stateFor(w.cue)
		w.state, emit = state, true
	case signalPause:
		if w.loaded {
			w.state, state, emit = domain.WidgetPaused, domain.WidgetPaused, true
		}
	case signalResume:
		if w.loaded {
			w.cue = false
			w.state, state, emit = domain.WidgetPlaying, domain.WidgetPlaying, true
		}
	case signalEnded:
		w.loaded = false
		w.state, state, emit = domain.WidgetEnded, domain.WidgetEnded, true
	case signalError:
		w.loaded = false
		code = sig.code
	}
	w.mu.Unlock()

	if emit && w.events.OnStateChange != nil {
		w.events.OnStateChange(state)
	}
	if code >= 0 && w.events.OnError != nil {
		w.events.OnError(code)
	}
}

func (w *Widget) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// PlayVideo resumes playback.
func (w *Widget) PlayVideo() error {
	if w.isDestroyed() {
		return domain.ErrWidgetDestroyed
	}
	return w.client.setProperty("pause", false)
}

// PauseVideo pauses playback.
func (w *Widget) PauseVideo() error {
	if w.isDestroyed() {
		return domain.ErrWidgetDestroyed
	}
	return w.client.setProperty("pause", true)
}

// SeekTo jumps to an absolute position in seconds.
func (w *Widget) SeekTo(seconds float64, _ bool) error {
	if w.isDestroyed() {
		return domain.ErrWidgetDestroyed
	}
	_, err := w.client.command("seek", math.Max(0, seconds), "absolute")
	return err
}

// SetVolume sets mpv's volume (0-100).
func (w *Widget) SetVolume(percent int) error {
	if w.isDestroyed() {
		return domain.ErrWidgetDestroyed
	}
	return w.client.setProperty("volume", min(max(percent, 0), 100))
}

// GetVolume returns mpv's volume rounded to percent.
func (w *Widget) GetVolume() (int, error) {
	if w.isDestroyed() {
		return 0, domain.ErrWidgetDestroyed
	}
	v, err := w.client.floatProperty("volume")
	if err != nil {
		return 0, err
	}
	return int(math.Round(v)), nil
}

// GetCurrentTime returns the playback position.
func (w *Widget) GetCurrentTime() (float64, error) {
	if w.isDestroyed() {
		return 0, domain.ErrWidgetDestroyed
	}
	return w.client.floatProperty("time-pos")
}

// GetDuration returns the media length. mpv reports 0 until the stream is probed.
func (w *Widget) GetDuration() (float64, error) {
	if w.isDestroyed() {
		return 0, domain.ErrWidgetDestroyed
	}
	return w.client.floatProperty("duration")
}

// GetPlayerState returns the state derived from mpv events.
func (w *Widget) GetPlayerState() (domain.WidgetState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return domain.WidgetUnstarted, domain.ErrWidgetDestroyed
	}
	return w.state, nil
}

// LoadVideoByID replaces the current file and starts playing.
func (w *Widget) LoadVideoByID(mediaID string) error {
	return w.load(mediaID, false)
}

// CueVideoByID replaces the current file and leaves it paused.
func (w *Widget) CueVideoByID(mediaID string) error {
	return w.load(mediaID, true)
}

func (w *Widget) load(mediaID string, cue bool) error {
	target, err := resolveMediaTarget(mediaID)
	if err != nil {
		return domain.NewWidgetError("load", mediaID, codeInvalidParameter, err.Error(), err)
	}

	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return domain.ErrWidgetDestroyed
	}
	w.cue = cue
	w.mediaID = mediaID
	w.mu.Unlock()

	if err := w.client.setProperty("pause", cue); err != nil {
		return err
	}
	if _, err := w.client.command("loadfile", target, "replace"); err != nil {
		return domain.NewWidgetError("load", mediaID, codePlaybackFailed, "loadfile rejected", err)
	}

	w.logger.Debug("mpv loadfile", slog.String("target", target), slog.Bool("cue", cue))
	return nil
}

// Destroy stops playback and detaches from mpv events.
func (w *Widget) Destroy() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return domain.ErrWidgetDestroyed
	}
	w.destroyed = true
	w.mu.Unlock()

	w.listener.stop()
	if _, err := w.client.command("stop"); err != nil {
		w.logger.Debug("mpv stop on destroy failed", slog.Any("error", err))
	}
	return nil
}

// Verify interface implementation
var _ ports.Widget = (*Widget)(nil)
