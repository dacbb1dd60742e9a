package fake

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// TestNewRuntime tests creating a new fake runtime.
func TestNewRuntime(t *testing.T) {
	runtime := NewRuntime()

	if runtime == nil {
		t.Fatal("NewRuntime returned nil")
	}

	if runtime.IsLoaded() {
		t.Error("New runtime should not be loaded")
	}

	if _, ok := runtime.Container("player"); ok {
		t.Error("New runtime should have no containers")
	}
}

// TestLoad tests loading the runtime.
func TestLoad(t *testing.T) {
	runtime := NewRuntime()

	if err := runtime.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !runtime.IsLoaded() {
		t.Error("Runtime should be loaded")
	}

	// Loading again is a no-op
	if err := runtime.Load(context.Background()); err != nil {
		t.Fatalf("Second Load failed: %v", err)
	}
	if runtime.LoadCalls() != 2 {
		t.Errorf("Expected 2 load calls, got %d", runtime.LoadCalls())
	}
}

// TestLoadFailure tests a configured load failure.
func TestLoadFailure(t *testing.T) {
	runtime := NewRuntime()
	boom := errors.New("network down")
	runtime.SetFailLoad(boom)

	if err := runtime.Load(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
	if runtime.IsLoaded() {
		t.Error("Runtime should not be loaded after failure")
	}
}

// TestLoadCancelled tests that a slow load honors the context.
func TestLoadCancelled(t *testing.T) {
	runtime := NewRuntime()
	runtime.SetLoadDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := runtime.Load(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

// TestMountUnmount tests container lookups.
func TestMountUnmount(t *testing.T) {
	runtime := NewRuntime()
	mounted := runtime.Mount("player")

	container, ok := runtime.Container("player")
	if !ok {
		t.Fatal("Container should be found after Mount")
	}
	if container.ID() != "player" {
		t.Errorf("Expected id player, got %s", container.ID())
	}
	if runtime.Mount("player") != mounted {
		t.Error("Mounting twice should return the same container")
	}

	runtime.Unmount("player")
	if _, ok := runtime.Container("player"); ok {
		t.Error("Container should be gone after Unmount")
	}
}

// TestNewWidgetRequiresLoad tests that widgets need a loaded runtime.
func TestNewWidgetRequiresLoad(t *testing.T) {
	runtime := NewRuntime()
	container := runtime.Mount("player")

	_, err := runtime.NewWidget(container, ports.WidgetOptions{})
	if !errors.Is(err, domain.ErrRuntimeNotLoaded) {
		t.Errorf("Expected ErrRuntimeNotLoaded, got %v", err)
	}
}

// TestWidgetReady tests that OnReady fires exactly once.
func TestWidgetReady(t *testing.T) {
	runtime := NewRuntime()
	runtime.SetLoaded(true)
	container := runtime.Mount("player")

	var ready int32
	done := make(chan struct{})
	_, err := runtime.NewWidget(container, ports.WidgetOptions{
		Events: ports.WidgetEvents{
			OnReady: func() {
				if atomic.AddInt32(&ready, 1) == 1 {
					close(done)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewWidget failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnReady was not called")
	}

	runtime.Current().FireReady()
	if atomic.LoadInt32(&ready) != 1 {
		t.Errorf("Expected OnReady once, got %d", ready)
	}
}

// TestWidgetManualReady tests that manual readiness waits for FireReady.
func TestWidgetManualReady(t *testing.T) {
	runtime := NewRuntime()
	runtime.SetLoaded(true)
	runtime.SetManualReady(true)
	container := runtime.Mount("player")

	var ready bool
	w, err := runtime.NewWidget(container, ports.WidgetOptions{
		VideoID: "abc",
		Events:  ports.WidgetEvents{OnReady: func() { ready = true }},
	})
	if err != nil {
		t.Fatalf("NewWidget failed: %v", err)
	}
	if ready {
		t.Error("OnReady should not fire before FireReady")
	}

	fw := w.(*Widget)
	if cues := fw.Cues(); len(cues) != 1 || cues[0] != "abc" {
		t.Errorf("Expected initial cue of abc, got %v", cues)
	}

	fw.FireReady()
	if !ready {
		t.Error("OnReady should fire after FireReady")
	}
}
