// Package memory provides in-process storage implementations.
//
// A Hub is one shared key space; every Storage handed out by a Hub behaves like
// one browser tab on the same origin: writes are visible to all of them, and
// change notifications reach every instance except the writer.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// Hub is a shared key space.
//
// Thread-safe: All operations protected by sync.RWMutex.
type Hub struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers map[uint64]*watcher
	nextID   uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		values:   make(map[string][]byte),
		watchers: make(map[uint64]*watcher),
	}
}

// Storage returns a new instance bound to the hub. An empty origin gets a random id.
func (h *Hub) Storage(origin string) *Storage {
	if origin == "" {
		origin = uuid.NewString()
	}
	return &Storage{hub: h, origin: origin}
}

// NewStorage returns a standalone instance with its own hub.
// It serves as session-scoped storage.
func NewStorage() *Storage {
	return NewHub().Storage("")
}

// watcher is one Watch registration.
type watcher struct {
	key    string
	origin string
	ch     chan ports.StorageChange
	done   <-chan struct{}

	// mu serializes sends against close
	mu     sync.Mutex
	closed bool
}

func (w *watcher) send(change ports.StorageChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	select {
	case w.ch <- change:
	case <-w.done:
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

func (h *Hub) get(key string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (h *Hub) set(origin, key string, value []byte) {
	h.mu.Lock()
	if value == nil {
		delete(h.values, key)
	} else {
		h.values[key] = append([]byte(nil), value...)
	}
	targets := h.targetsLocked(origin, key)
	h.mu.Unlock()

	for _, w := range targets {
		var copied []byte
		if value != nil {
			copied = append([]byte(nil), value...)
		}
		w.send(ports.StorageChange{Key: key, NewValue: copied, Origin: origin})
	}
}

// targetsLocked returns the watchers of key that belong to other instances.
// Must be called with lock held.
func (h *Hub) targetsLocked(origin, key string) []*watcher {
	var targets []*watcher
	for _, w := range h.watchers {
		if w.key == key && w.origin != origin {
			targets = append(targets, w)
		}
	}
	return targets
}

func (h *Hub) watch(ctx context.Context, origin, key string) <-chan ports.StorageChange {
	w := &watcher{
		key:    key,
		origin: origin,
		ch:     make(chan ports.StorageChange, 8),
		done:   ctx.Done(),
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.watchers[id] = w
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
		w.close()
	}()

	return w.ch
}

// Storage is one instance attached to a Hub.
type Storage struct {
	hub    *Hub
	origin string
}

// Origin returns the instance id stamped on this instance's writes.
func (s *Storage) Origin() string {
	return s.origin
}

// GetItem returns the stored value.
func (s *Storage) GetItem(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.hub.get(key)
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return v, nil
}

// SetItem stores the value and notifies the other instances.
func (s *Storage) SetItem(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	s.hub.set(s.origin, key, value)
	return nil
}

// RemoveItem deletes the key and notifies the other instances.
func (s *Storage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.set(s.origin, key, nil)
	return nil
}

// Watch streams changes made to key by other instances until ctx is done.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan ports.StorageChange, error) {
	return s.hub.watch(ctx, s.origin, key), nil
}

// Verify interface implementation
var _ ports.WatchableStorage = (*Storage)(nil)
