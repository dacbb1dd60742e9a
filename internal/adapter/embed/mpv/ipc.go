package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

const (
	maxRetries   = 3
	retryDelay   = 100 * time.Millisecond
	dialTimeout  = 500 * time.Millisecond
	readDeadline = time.Second
)

// errPropertyUnavailable is mpv's answer for properties without a value,
// e.g. duration while nothing is loaded.
var errPropertyUnavailable = errors.New("property unavailable")

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// ipcMessage is one line received from mpv. Replies carry a request id and
// an error string, events carry an event name.
type ipcMessage struct {
	Event     string          `json:"event,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        int64           `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	FileError string          `json:"file_error,omitempty"`
}

// client sends one-shot commands over a fresh connection per request.
type client struct {
	socketPath string
	nextID     atomic.Int64
}

func newClient(socketPath string) *client {
	return &client{socketPath: socketPath}
}

// ping reports whether the socket accepts connections.
func (c *client) ping() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// command sends a JSON-IPC command, retrying transient connection errors.
func (c *client) command(args ...any) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}

		data, err := c.send(args)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, errPropertyUnavailable) {
			return nil, err
		}
		var mpvErr *commandError
		if errors.As(err, &mpvErr) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("ipc command failed after %d attempts: %w", maxRetries, lastErr)
}

// commandError is an error reported by mpv itself. It is not retried.
type commandError struct {
	Command string
	Message string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("mpv %s: %s", e.Command, e.Message)
}

func (c *client) send(args []any) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	id := c.nextID.Add(1)
	payload, err := json.Marshal(ipcCommand{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	// mpv requires newline-delimited JSON
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	// Events are broadcast to every client, so skip lines until our reply shows up.
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}

		var msg ipcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Event != "" || msg.RequestID != id {
			continue
		}

		switch msg.Error {
		case "", "success":
			return msg.Data, nil
		case errPropertyUnavailable.Error():
			return nil, errPropertyUnavailable
		default:
			name, _ := args[0].(string)
			return nil, &commandError{Command: name, Message: msg.Error}
		}
	}
}

func (c *client) setProperty(name string, value any) error {
	_, err := c.command("set_property", name, value)
	return err
}

// floatProperty reads a numeric property. Unavailable properties read as 0.
func (c *client) floatProperty(name string) (float64, error) {
	data, err := c.command("get_property", name)
	if errors.Is(err, errPropertyUnavailable) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return 0, nil
	}
	return value, nil
}
