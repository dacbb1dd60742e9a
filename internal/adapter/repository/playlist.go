// Package repository holds repositories built on top of any ports.Storage backend.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

const (
	playlistKeyPrefix = "encore:playlist."
	playlistIndexKey  = "encore:playlist._ids"
)

// PlaylistRepository implements ports.PlaylistRepository on a key-value storage.
// Playlists are stored as JSON under keys like "encore:playlist.<name>", with
// an index of names under "encore:playlist._ids".
//
// Thread-safe: All operations protected by sync.Mutex.
type PlaylistRepository struct {
	storage ports.Storage
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewPlaylistRepository creates a new playlist repository.
func NewPlaylistRepository(storage ports.Storage, logger *slog.Logger) *PlaylistRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistRepository{
		storage: storage,
		logger:  logger.With(slog.String("repository", "playlist")),
	}
}

// Save persists a playlist.
func (r *PlaylistRepository) Save(ctx context.Context, name string, records []domain.TrackRecord) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NewValidationError("name", name, "must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(records)
	if err != nil {
		return domain.NewServiceError("PlaylistRepository", "Save", "failed to marshal playlist", err)
	}
	if err := r.storage.SetItem(ctx, playlistKeyPrefix+name, data); err != nil {
		return domain.NewRepositoryError("set", "playlist", "failed to store playlist", err)
	}

	names, err := r.loadNames(ctx)
	if err != nil {
		// If loading fails, start with an empty index
		names = []string{}
	}
	if !slices.Contains(names, name) {
		names = append(names, name)
		return r.saveNames(ctx, names)
	}
	return nil
}

// Load retrieves a playlist by name.
func (r *PlaylistRepository) Load(ctx context.Context, name string) ([]domain.TrackRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.storage.GetItem(ctx, playlistKeyPrefix+name)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, ports.ErrPlaylistNotFound
	}
	if err != nil {
		return nil, domain.NewRepositoryError("get", "playlist", "failed to read playlist", err)
	}

	var records []domain.TrackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, domain.NewServiceError("PlaylistRepository", "Load", "failed to unmarshal playlist", err)
	}
	return records, nil
}

// Names lists the saved playlists, skipping index entries whose data vanished.
func (r *PlaylistRepository) Names(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, err := r.loadNames(ctx)
	if err != nil {
		return nil, err
	}

	present := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := r.storage.GetItem(ctx, playlistKeyPrefix+name); err != nil {
			r.logger.Warn("playlist data missing", slog.String("name", name))
			continue
		}
		present = append(present, name)
	}
	return present, nil
}

// Delete removes a playlist by name.
func (r *PlaylistRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.RemoveItem(ctx, playlistKeyPrefix+name); err != nil {
		return domain.NewRepositoryError("remove", "playlist", "failed to remove playlist", err)
	}

	names, err := r.loadNames(ctx)
	if err != nil {
		names = []string{}
	}
	return r.saveNames(ctx, slices.DeleteFunc(names, func(n string) bool { return n == name }))
}

// loadNames loads the index of playlist names.
// Must be called with lock held.
func (r *PlaylistRepository) loadNames(ctx context.Context) ([]string, error) {
	data, err := r.storage.GetItem(ctx, playlistIndexKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, domain.NewRepositoryError("get", "playlist", "failed to read index", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, domain.NewServiceError("PlaylistRepository", "loadNames", "failed to unmarshal index", err)
	}
	return names, nil
}

// saveNames saves the index of playlist names.
// Must be called with lock held.
func (r *PlaylistRepository) saveNames(ctx context.Context, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return domain.NewServiceError("PlaylistRepository", "saveNames", "failed to marshal index", err)
	}
	if err := r.storage.SetItem(ctx, playlistIndexKey, data); err != nil {
		return domain.NewRepositoryError("set", "playlist", "failed to store index", err)
	}
	return nil
}

// Verify interface implementation
var _ ports.PlaylistRepository = (*PlaylistRepository)(nil)
