package mpv

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// fakeMPV answers JSON IPC requests the way mpv does.
type fakeMPV struct {
	socket string
	ln     net.Listener

	mu       sync.Mutex
	commands [][]any
	props    map[string]any
	conns    []net.Conn
	noisy    bool
	failing  map[string]string

	wg sync.WaitGroup
}

func startFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	f := &fakeMPV{
		socket:  socket,
		ln:      ln,
		props:   map[string]any{},
		failing: map[string]string{},
	}
	f.wg.Add(1)
	go f.serve()
	t.Cleanup(f.close)
	return f
}

func (f *fakeMPV) serve() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *fakeMPV) handle(conn net.Conn) {
	defer f.wg.Done()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd ipcCommand
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil || len(cmd.Command) == 0 {
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, cmd.Command)
		name, _ := cmd.Command[0].(string)
		reply := map[string]any{"request_id": cmd.RequestID, "error": "success"}
		switch {
		case f.failing[name] != "":
			reply["error"] = f.failing[name]
		case name == "get_property":
			prop, _ := cmd.Command[1].(string)
			if v, ok := f.props[prop]; ok {
				reply["data"] = v
			} else {
				reply["error"] = "property unavailable"
			}
		case name == "set_property":
			prop, _ := cmd.Command[1].(string)
			f.props[prop] = cmd.Command[2]
		}
		noisy := f.noisy
		f.mu.Unlock()

		if noisy {
			_, _ = conn.Write([]byte(`{"event":"idle"}` + "\n"))
		}
		line, _ := json.Marshal(reply)
		if _, err := conn.Write(append(line, '\n')); err != nil {
			return
		}
	}
}

// broadcast sends an event line to every connected client.
func (f *fakeMPV) broadcast(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_, _ = conn.Write([]byte(line + "\n"))
	}
}

func (f *fakeMPV) sent(name string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [][]any
	for _, cmd := range f.commands {
		if cmd[0] == name {
			out = append(out, cmd)
		}
	}
	return out
}

func (f *fakeMPV) close() {
	_ = f.ln.Close()
	f.mu.Lock()
	for _, conn := range f.conns {
		_ = conn.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func TestResolveMediaTarget(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare id", "dQw4w9WgXcQ", watchURL + "dQw4w9WgXcQ", false},
		{"trimmed", "  abc ", watchURL + "abc", false},
		{"https url", "https://example.com/a.mp3", "https://example.com/a.mp3", false},
		{"absolute path", "/music/a.flac", "/music/a.flac", false},
		{"relative path", "./a.mp3", "./a.mp3", false},
		{"escaped id", "a b&c", watchURL + "a+b%26c", false},
		{"empty", "  ", "", true},
		{"flag injection", "--script=evil.lua", "", true},
		{"unsupported scheme", "ftp://example.com/a.mp3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveMediaTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		line string
		want signal
	}{
		{`{"event":"start-file"}`, signal{kind: signalStartFile}},
		{`{"event":"file-loaded"}`, signal{kind: signalFileLoaded}},
		{`{"event":"end-file","reason":"eof"}`, signal{kind: signalEnded}},
		{`{"event":"end-file","reason":"stop"}`, signal{}},
		{`{"event":"end-file","reason":"error","file_error":"loading failed"}`, signal{kind: signalError, code: codeNotFound}},
		{`{"event":"end-file","reason":"error","file_error":"weird"}`, signal{kind: signalError, code: codePlaybackFailed}},
		{`{"event":"property-change","id":1,"name":"pause","data":true}`, signal{kind: signalPause}},
		{`{"event":"property-change","id":1,"name":"pause","data":false}`, signal{kind: signalResume}},
		{`{"event":"property-change","id":2,"name":"volume","data":50}`, signal{}},
		{`{"request_id":3,"error":"success"}`, signal{}},
		{`not json`, signal{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, translate([]byte(tt.line)), tt.line)
	}
}

func TestClient_FloatPropertySkipsEvents(t *testing.T) {
	f := startFakeMPV(t)
	f.mu.Lock()
	f.noisy = true
	f.props["time-pos"] = 12.5
	f.mu.Unlock()

	c := newClient(f.socket)

	pos, err := c.floatProperty("time-pos")
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos)

	// unavailable properties read as zero
	duration, err := c.floatProperty("duration")
	require.NoError(t, err)
	assert.Equal(t, 0.0, duration)
}

func TestClient_CommandErrorIsNotRetried(t *testing.T) {
	f := startFakeMPV(t)
	f.mu.Lock()
	f.failing["loadfile"] = "invalid parameter"
	f.mu.Unlock()

	c := newClient(f.socket)
	_, err := c.command("loadfile", "x", "replace")

	var cmdErr *commandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "invalid parameter", cmdErr.Message)
	assert.Len(t, f.sent("loadfile"), 1)
}

func TestClient_ConnectFailureRetries(t *testing.T) {
	c := newClient(filepath.Join(t.TempDir(), "missing.sock"))

	assert.False(t, c.ping())
	_, err := c.command("stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("after %d attempts", maxRetries))
}

func TestWidget_CommandsAndEvents(t *testing.T) {
	f := startFakeMPV(t)

	var (
		mu     sync.Mutex
		states []domain.WidgetState
		codes  []int
	)
	events := ports.WidgetEvents{
		OnStateChange: func(s domain.WidgetState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		OnError: func(code int) {
			mu.Lock()
			codes = append(codes, code)
			mu.Unlock()
		},
	}

	w, err := newWidget(newClient(f.socket), f.socket, events, logger.NewDiscardLogger())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.sent("observe_property")) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, w.CueVideoByID("abc"))
	loads := f.sent("loadfile")
	require.Len(t, loads, 1)
	assert.Equal(t, []any{"loadfile", watchURL + "abc", "replace"}, loads[0])

	f.broadcast(`{"event":"start-file"}`)
	f.broadcast(`{"event":"file-loaded"}`)
	f.broadcast(`{"event":"property-change","id":1,"name":"pause","data":false}`)
	f.broadcast(`{"event":"property-change","id":1,"name":"pause","data":true}`)
	f.broadcast(`{"event":"end-file","reason":"eof"}`)
	f.broadcast(`{"event":"end-file","reason":"error","file_error":"loading failed"}`)

	want := []domain.WidgetState{
		domain.WidgetBuffering,
		domain.WidgetCued,
		domain.WidgetPlaying,
		domain.WidgetPaused,
		domain.WidgetEnded,
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == len(want) && len(codes) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, states)
	assert.Equal(t, []int{codeNotFound}, codes)
	mu.Unlock()

	state, err := w.GetPlayerState()
	require.NoError(t, err)
	assert.Equal(t, domain.WidgetEnded, state)

	require.NoError(t, w.SetVolume(140))
	f.mu.Lock()
	assert.Equal(t, float64(100), f.props["volume"])
	f.mu.Unlock()

	require.NoError(t, w.Destroy())
	w.listener.wait()
	assert.ErrorIs(t, w.PlayVideo(), domain.ErrWidgetDestroyed)
	assert.Len(t, f.sent("stop"), 1)
}

func TestWidget_LoadRejectsBadTarget(t *testing.T) {
	f := startFakeMPV(t)

	w, err := newWidget(newClient(f.socket), f.socket, ports.WidgetEvents{}, logger.NewDiscardLogger())
	require.NoError(t, err)
	defer func() {
		_ = w.Destroy()
		w.listener.wait()
	}()

	err = w.LoadVideoByID("-flag")
	var werr *domain.WidgetError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, codeInvalidParameter, werr.Code)
	assert.Empty(t, f.sent("loadfile"))
}

func TestRuntime_ContainerNeedsProcess(t *testing.T) {
	f := startFakeMPV(t)

	r, err := NewRuntime(Options{SocketPath: f.socket}, logger.NewDiscardLogger())
	require.NoError(t, err)

	assert.False(t, r.IsLoaded())
	_, ok := r.Container(DefaultContainerID)
	assert.False(t, ok, "socket alone is not enough without a running process")

	_, ok = r.Container("other")
	assert.False(t, ok)

	_, err = r.NewWidget(&container{id: DefaultContainerID}, ports.WidgetOptions{})
	assert.ErrorIs(t, err, domain.ErrRuntimeNotLoaded)
	assert.NoError(t, r.Close())
}

func TestRuntime_Args(t *testing.T) {
	r, err := NewRuntime(Options{SocketPath: "/tmp/x.sock", ExtraArgs: []string{"--ytdl-format=bestaudio"}}, nil)
	require.NoError(t, err)

	args := r.args()
	assert.Contains(t, args, "--idle=yes")
	assert.Contains(t, args, "--no-video")
	assert.Contains(t, args, "--input-ipc-server=/tmp/x.sock")
	assert.Equal(t, "--ytdl-format=bestaudio", args[len(args)-1])

	r, err = NewRuntime(Options{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, r.SocketPath())
	assert.Equal(t, DefaultContainerID, r.opts.ContainerID)
}
