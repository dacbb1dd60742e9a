package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
)

// observed properties, keyed by observer id
const (
	observePause = 1
)

// signalKind classifies what an mpv message means for the widget.
type signalKind int

const (
	signalNone signalKind = iota
	signalStartFile
	signalFileLoaded
	signalPause
	signalResume
	signalEnded
	signalError
)

// signal is the widget-level meaning of one mpv message.
type signal struct {
	kind signalKind
	code int
}

// Error codes reported through OnError, numbered like the embed player API.
const (
	codeInvalidParameter = 2
	codePlaybackFailed   = 5
	codeNotFound         = 100
)

// translate maps one line from mpv to a widget signal.
func translate(line []byte) signal {
	var msg ipcMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return signal{}
	}

	switch msg.Event {
	case "start-file":
		return signal{kind: signalStartFile}
	case "file-loaded":
		return signal{kind: signalFileLoaded}
	case "end-file":
		switch msg.Reason {
		case "eof":
			return signal{kind: signalEnded}
		case "error":
			return signal{kind: signalError, code: errorCode(msg.FileError)}
		}
	case "property-change":
		if msg.Name != "pause" {
			return signal{}
		}
		var paused bool
		if err := json.Unmarshal(msg.Data, &paused); err != nil {
			return signal{}
		}
		if paused {
			return signal{kind: signalPause}
		}
		return signal{kind: signalResume}
	}
	return signal{}
}

// errorCode maps mpv's file_error text to an embed error code.
func errorCode(fileError string) int {
	switch fileError {
	case "loading failed", "no such file or directory":
		return codeNotFound
	case "unrecognized file format", "invalid parameter":
		return codeInvalidParameter
	default:
		return codePlaybackFailed
	}
}

// listener holds a persistent connection on which property observers are
// registered and events are read.
type listener struct {
	logger *slog.Logger
	conn   net.Conn
	handle func(signal)

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func startListener(socketPath string, handle func(signal), logger *slog.Logger) (*listener, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("event listener connect: %w", err)
	}

	// Observers are scoped to the connection that registered them.
	payload, err := json.Marshal(ipcCommand{Command: []any{"observe_property", observePause, "pause"}})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("observe pause: %w", err)
	}

	l := &listener{logger: logger, conn: conn, handle: handle}
	l.wg.Add(1)
	go l.readLoop()

	logger.Debug("mpv event listener started", slog.String("socket", socketPath))
	return l, nil
}

func (l *listener) readLoop() {
	defer l.wg.Done()

	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		sig := translate(scanner.Bytes())
		if sig.kind == signalNone {
			continue
		}
		l.handle(sig)
	}
	if err := scanner.Err(); err != nil {
		l.logger.Debug("mpv event listener stopped", slog.Any("error", err))
	}
}

// stop closes the connection. The read loop exits on its own; stop may be
// called from inside a handler.
func (l *listener) stop() {
	l.stopOnce.Do(func() {
		_ = l.conn.Close()
	})
}

// wait blocks until the read loop has exited.
func (l *listener) wait() {
	l.wg.Wait()
}

// stateFor returns the widget state a load reaches once the file is loaded.
func stateFor(cue bool) domain.WidgetState {
	if cue {
		return domain.WidgetCued
	}
	return domain.WidgetPlaying
}
