// Package file provides durable storage with one file per key.
//
// Files live in a single directory on an afero filesystem. Change notifications
// are read from the operating system with fsnotify, so Watch is only available
// on the OS filesystem.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

const fileExt = ".json"

// Storage stores each key in its own file.
//
// Thread-safe: All operations protected by sync.Mutex.
type Storage struct {
	fs     afero.Fs
	dir    string
	origin string
	logger *slog.Logger

	mu sync.Mutex
	// written remembers the last bytes this instance wrote per key, so the
	// watcher can tell its own writes apart from other processes'.
	written map[string][]byte
}

// NewStorage creates the directory if needed and returns a storage rooted in it.
func NewStorage(fsys afero.Fs, dir string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewRepositoryError("open", "file", "failed to create directory", err)
	}
	return &Storage{
		fs:      fsys,
		dir:     dir,
		origin:  uuid.NewString(),
		logger:  logger.With(slog.String("repository", "file")),
		written: make(map[string][]byte),
	}, nil
}

// Origin returns the instance id of this storage.
func (s *Storage) Origin() string {
	return s.origin
}

// fileName maps a key to a portable file name.
func fileName(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(key) + fileExt
}

func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

// GetItem reads the file for key.
func (s *Storage) GetItem(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.NewRepositoryError("get", "file", "failed to read "+key, err)
	}
	return data, nil
}

// SetItem writes the value to a temp file and renames it into place.
func (s *Storage) SetItem(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	tmp := target + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, value, 0o644); err != nil {
		return domain.NewRepositoryError("set", "file", "failed to write "+key, err)
	}

	// The watcher may see the new file as soon as it is renamed.
	previous, hadPrevious := s.written[key]
	s.written[key] = append([]byte(nil), value...)
	if err := s.fs.Rename(tmp, target); err != nil {
		if hadPrevious {
			s.written[key] = previous
		} else {
			delete(s.written, key)
		}
		_ = s.fs.Remove(tmp)
		return domain.NewRepositoryError("set", "file", "failed to replace "+key, err)
	}
	return nil
}

// RemoveItem deletes the file for key.
func (s *Storage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewRepositoryError("remove", "file", "failed to remove "+key, err)
	}
	s.written[key] = nil
	return nil
}

// isOwnWrite reports whether value is what this instance last wrote for key.
func (s *Storage) isOwnWrite(key string, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOwnWriteLocked(key, value)
}

func (s *Storage) isOwnWriteLocked(key string, value []byte) bool {
	last, ok := s.written[key]
	if !ok {
		return false
	}
	return bytes.Equal(last, value)
}

// foreignValue reads key and reports whether another process wrote it.
// The read and the comparison happen under the same lock as SetItem.
func (s *Storage) foreignValue(ctx context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.GetItem(ctx, key)
	if err != nil {
		// Rename away from the name or a half-written file; the next event settles it.
		return nil, false
	}
	return value, !s.isOwnWriteLocked(key, value)
}

// Watch streams changes to key made by other processes until ctx is done.
func (s *Storage) Watch(ctx context.Context, key string) (<-chan ports.StorageChange, error) {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return nil, domain.ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, domain.NewRepositoryError("watch", "file", "failed to create watcher", err)
	}
	// Watch the directory: renames replace the inode of the file itself.
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, domain.NewRepositoryError("watch", "file", "failed to watch directory", err)
	}

	out := make(chan ports.StorageChange, 8)
	target := fileName(key)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				change, deliver := s.changeFor(ctx, key, event)
				if !deliver {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", slog.Any("error", err))
			}
		}
	}()

	return out, nil
}

// changeFor turns a filesystem event into a change notification.
func (s *Storage) changeFor(ctx context.Context, key string, event fsnotify.Event) (ports.StorageChange, bool) {
	switch {
	case event.Has(fsnotify.Remove):
		if s.isOwnWrite(key, nil) {
			return ports.StorageChange{}, false
		}
		return ports.StorageChange{Key: key, Origin: "file"}, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write), event.Has(fsnotify.Rename):
		value, foreign := s.foreignValue(ctx, key)
		if !foreign {
			return ports.StorageChange{}, false
		}
		return ports.StorageChange{Key: key, NewValue: value, Origin: "file"}, true
	default:
		return ports.StorageChange{}, false
	}
}

// String describes the storage for logs.
func (s *Storage) String() string {
	return fmt.Sprintf("file storage at %s", s.dir)
}

// Verify interface implementation
var _ ports.WatchableStorage = (*Storage)(nil)
