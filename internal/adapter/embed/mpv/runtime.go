// Package mpv implements the embed runtime on top of an mpv process driven
// over its JSON IPC socket. Loading the runtime spawns mpv in idle mode; the
// IPC socket accepting connections plays the role of the mounted container.
package mpv

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// DefaultContainerID is the container id the runtime answers to by default.
const DefaultContainerID = "encore-player"

const shutdownTimeout = 2 * time.Second

// Options configures the mpv runtime.
type Options struct {
	// Binary is the mpv executable (default "mpv")
	Binary string

	// SocketPath is the IPC socket. A random path in the temp dir is used when empty.
	SocketPath string

	// ContainerID is the only container id Container resolves
	ContainerID string

	// Video enables the video output; audio only by default
	Video bool

	// ExtraArgs are appended to the mpv command line
	ExtraArgs []string
}

// Runtime owns the mpv process.
//
// Thread-safety: This implementation is thread-safe.
type Runtime struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	client *client
}

// NewRuntime creates a runtime. The process is not started until Load.
func NewRuntime(opts Options, logger *slog.Logger) (*Runtime, error) {
	if opts.Binary == "" {
		opts.Binary = "mpv"
	}
	if opts.ContainerID == "" {
		opts.ContainerID = DefaultContainerID
	}
	if opts.SocketPath == "" {
		suffix := make([]byte, 4)
		if _, err := rand.Read(suffix); err != nil {
			return nil, fmt.Errorf("generate socket name: %w", err)
		}
		opts.SocketPath = filepath.Join(os.TempDir(), fmt.Sprintf("encore-%x.sock", suffix))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runtime{
		opts:   opts,
		logger: logger.With(slog.String("component", "mpv")),
		client: newClient(opts.SocketPath),
	}, nil
}

// SocketPath returns the IPC socket path.
func (r *Runtime) SocketPath() string {
	return r.opts.SocketPath
}

// args builds the mpv command line.
func (r *Runtime) args() []string {
	args := []string{
		"--idle=yes",
		"--no-terminal",
		"--really-quiet",
		"--keep-open=no",
		fmt.Sprintf("--input-ipc-server=%s", r.opts.SocketPath),
	}
	if !r.opts.Video {
		args = append(args, "--no-video")
	} else {
		args = append(args, "--force-window=yes")
	}
	return append(args, r.opts.ExtraArgs...)
}

// IsLoaded returns true while the mpv process is running.
func (r *Runtime) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Runtime) runningLocked() bool {
	if r.cmd == nil {
		return false
	}
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// Load spawns mpv. It returns once the process started; the IPC socket
// appears shortly afterwards and is detected through Container.
func (r *Runtime) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Leftover sockets from a crashed run would shadow the new one.
	_ = os.Remove(r.opts.SocketPath)

	cmd := exec.Command(r.opts.Binary, r.args()...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	r.cmd = cmd
	r.exited = exited
	r.logger.Info("mpv started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("socket", r.opts.SocketPath))
	return nil
}

// Container returns the IPC container once the socket accepts connections.
func (r *Runtime) Container(id string) (ports.Container, bool) {
	if id != r.opts.ContainerID {
		return nil, false
	}
	if !r.IsLoaded() || !r.client.ping() {
		return nil, false
	}
	return &container{id: id, client: r.client}, true
}

// NewWidget attaches a widget to the running mpv instance.
func (r *Runtime) NewWidget(c ports.Container, opts ports.WidgetOptions) (ports.Widget, error) {
	if !r.IsLoaded() {
		return nil, domain.ErrRuntimeNotLoaded
	}
	if _, ok := c.(*container); !ok {
		return nil, fmt.Errorf("container %q does not belong to the mpv runtime", c.ID())
	}

	w, err := newWidget(r.client, r.opts.SocketPath, opts.Events, r.logger)
	if err != nil {
		return nil, err
	}

	if opts.VideoID != "" {
		if err := w.CueVideoByID(opts.VideoID); err != nil {
			r.logger.Warn("initial cue failed", slog.String("media_id", opts.VideoID), slog.Any("error", err))
		}
	}

	go w.fireReady()
	return w, nil
}

// Close asks mpv to quit, kills it when it does not, and removes the socket.
func (r *Runtime) Close() error {
	r.mu.Lock()
	cmd, exited := r.cmd, r.exited
	r.cmd = nil
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if _, err := r.client.command("quit"); err != nil {
		r.logger.Debug("mpv quit command failed", slog.Any("error", err))
	}

	var err error
	select {
	case <-exited:
	case <-time.After(shutdownTimeout):
		r.logger.Warn("mpv did not quit in time, killing it")
		err = killProcess(cmd)
		<-exited
	}

	if rmErr := os.Remove(r.opts.SocketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		r.logger.Debug("remove socket failed", slog.Any("error", rmErr))
	}
	return err
}

// container is the IPC socket seen as a mount point.
type container struct {
	id     string
	client *client
}

func (c *container) ID() string {
	return c.id
}

// Reset stops whatever is playing and empties mpv's playlist.
func (c *container) Reset() error {
	if _, err := c.client.command("stop"); err != nil {
		return err
	}
	_, err := c.client.command("playlist-clear")
	return err
}

// Verify interface implementations
var (
	_ ports.EmbedRuntime = (*Runtime)(nil)
	_ ports.Container    = (*container)(nil)
)
