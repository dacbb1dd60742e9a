package service

import (
	"sync"
	"time"
)

// Timing holds every delay the player uses.
type Timing struct {
	// ContainerPollInterval is the delay between container lookups
	ContainerPollInterval time.Duration

	// ContainerPollLimit bounds the container lookups; 0 polls forever
	ContainerPollLimit int

	// DurationRequeryDelay is how long after a load the duration is read again
	DurationRequeryDelay time.Duration

	// RetryDelay is the pause before reloading an item that errored
	RetryDelay time.Duration

	// MaxRetries is the number of reloads before an error becomes terminal
	MaxRetries int

	// EndedDeferral delays the advance signal out of the widget's dispatch
	EndedDeferral time.Duration

	// TickInterval is the position polling period while playing
	TickInterval time.Duration

	// FadeSteps and FadeStepInterval shape the session fade-in
	FadeSteps        int
	FadeStepInterval time.Duration

	// FadeTarget is the volume the fade-in ends at
	FadeTarget float64
}

// DefaultTiming returns the production timings.
func DefaultTiming() Timing {
	return Timing{
		ContainerPollInterval: 500 * time.Millisecond,
		ContainerPollLimit:    0,
		DurationRequeryDelay:  time.Second,
		RetryDelay:            2 * time.Second,
		MaxRetries:            3,
		EndedDeferral:         300 * time.Millisecond,
		TickInterval:          100 * time.Millisecond,
		FadeSteps:             50,
		FadeStepInterval:      100 * time.Millisecond,
		FadeTarget:            0.3,
	}
}

// timerSet owns the deferred callbacks of one component so they can all be
// cancelled at teardown. Callbacks scheduled after stopAll never run.
type timerSet struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	closed  bool
	running sync.WaitGroup
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[uint64]*time.Timer)}
}

// after runs fn once d has elapsed, unless the set is stopped first.
// The returned function cancels this callback only.
func (s *timerSet) after(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if _, ok := s.timers[id]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		fn()
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// pending returns the number of scheduled callbacks (for testing).
func (s *timerSet) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// stopAll cancels every scheduled callback and waits for running ones.
// It must not be called from inside a callback of the same set.
func (s *timerSet) stopAll() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.running.Wait()
}
