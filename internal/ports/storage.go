package ports

import (
	"context"
	"errors"

	"github.com/tejashwikalptaru/encore/internal/domain"
)

// Storage is a durable key-value store shaped like browser web storage.
// Values are opaque bytes; callers own the encoding.
//
// Thread-safety: Implementations must be thread-safe.
type Storage interface {
	// GetItem returns the stored value or domain.ErrKeyNotFound.
	GetItem(ctx context.Context, key string) ([]byte, error)

	// SetItem stores the value and notifies watchers in other instances.
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes the key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// StorageChange is a change notification for one key.
type StorageChange struct {
	Key      string
	NewValue []byte // nil when the key was removed
	Origin   string // instance that wrote the value
}

// StorageWatcher delivers changes made by other instances sharing the same storage.
// Changes written by the watching instance itself are never delivered, matching
// the semantics of browser storage events.
type StorageWatcher interface {
	// Watch streams changes for key until ctx is done. The channel is closed afterwards.
	Watch(ctx context.Context, key string) (<-chan StorageChange, error)
}

// WatchableStorage is a Storage that also delivers cross-instance notifications.
type WatchableStorage interface {
	Storage
	StorageWatcher
}

// PlaylistRepository stores named playlists of track records.
//
// Thread-safety: Implementations must be thread-safe.
type PlaylistRepository interface {
	// Save stores the playlist under name, replacing an existing one.
	Save(ctx context.Context, name string, records []domain.TrackRecord) error

	// Load returns the playlist or ErrPlaylistNotFound.
	Load(ctx context.Context, name string) ([]domain.TrackRecord, error)

	// Names lists the saved playlists in the order they were first saved.
	Names(ctx context.Context) ([]string, error)

	// Delete removes a playlist. Deleting a missing playlist is not an error.
	Delete(ctx context.Context, name string) error
}

// ErrPlaylistNotFound is returned when a named playlist does not exist.
var ErrPlaylistNotFound = errors.New("playlist not found")
