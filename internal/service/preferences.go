package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// Storage keys.
const (
	PreferencesKey   = "encore:player-preferences"
	SessionMarkerKey = "encore:autoplayed"
)

// PreferenceService reads and writes the durable preference record and follows
// volume changes made by other instances.
//
// Read and write failures are logged and swallowed: a broken store never
// stops playback.
//
// All operations are thread-safe via sync.Mutex.
type PreferenceService struct {
	// Dependencies (injected)
	logger  *slog.Logger
	storage ports.Storage
	bus     ports.EventBus

	// Cached record; writes always carry every field
	current domain.Preferences
	visited bool // a record existed when the service was loaded

	// Concurrency control
	mu          sync.Mutex
	cancelWatch context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewPreferenceService creates a preference service and loads the record.
func NewPreferenceService(ctx context.Context, logger *slog.Logger, storage ports.Storage, bus ports.EventBus) *PreferenceService {
	if logger == nil {
		logger = slog.Default()
	}
	service := &PreferenceService{
		logger:  logger.With(slog.String("component", "preferences")),
		storage: storage,
		bus:     bus,
		current: domain.DefaultPreferences(),
	}

	service.Load(ctx)

	return service
}

// preferenceRecord mirrors domain.Preferences with optional fields so a
// partial record keeps the defaults for what it lacks.
type preferenceRecord struct {
	Volume       *float64 `json:"volume"`
	LastPosition *float64 `json:"lastPosition"`
	HasVisited   *bool    `json:"hasVisited"`
}

// parsePreferences decodes a stored record. ok is false for corrupt data.
func parsePreferences(data []byte) (prefs domain.Preferences, ok bool) {
	prefs = domain.DefaultPreferences()

	var record preferenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return prefs, false
	}
	if record.Volume != nil && !math.IsNaN(*record.Volume) && !math.IsInf(*record.Volume, 0) {
		prefs.Volume = domain.ClampVolume(*record.Volume)
	}
	if record.LastPosition != nil && *record.LastPosition > 0 && !math.IsInf(*record.LastPosition, 0) {
		prefs.LastPosition = *record.LastPosition
	}
	if record.HasVisited != nil {
		prefs.HasVisited = *record.HasVisited
	}
	return prefs, true
}

// Load reads the record from storage. Missing or corrupt records yield defaults.
func (s *PreferenceService) Load(ctx context.Context) domain.Preferences {
	prefs := domain.DefaultPreferences()
	visited := false

	data, err := s.storage.GetItem(ctx, PreferencesKey)
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		s.logger.Debug("no stored preferences, using defaults")
	case err != nil:
		s.logger.Debug("failed to read preferences, using defaults", slog.Any("error", err))
	default:
		parsed, ok := parsePreferences(data)
		if !ok {
			s.logger.Debug("ignoring corrupt preferences record")
		} else {
			prefs = parsed
			visited = true
		}
	}

	s.mu.Lock()
	s.current = prefs
	s.visited = visited
	s.mu.Unlock()

	return prefs
}

// Current returns the cached record.
func (s *PreferenceService) Current() domain.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// HasVisited reports whether a record from an earlier session existed at load time.
func (s *PreferenceService) HasVisited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited
}

// SaveVolume persists a user volume change.
func (s *PreferenceService) SaveVolume(ctx context.Context, volume float64) {
	s.update(ctx, func(p *domain.Preferences) { p.Volume = domain.ClampVolume(volume) })
}

// SavePosition persists the playback position.
func (s *PreferenceService) SavePosition(ctx context.Context, seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	s.update(ctx, func(p *domain.Preferences) { p.LastPosition = seconds })
}

// MarkVisited records that the first fade-in happened.
func (s *PreferenceService) MarkVisited(ctx context.Context) {
	s.update(ctx, func(p *domain.Preferences) { p.HasVisited = true })
}

func (s *PreferenceService) update(ctx context.Context, mutate func(p *domain.Preferences)) {
	s.mu.Lock()
	mutate(&s.current)
	record := s.current
	s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("failed to encode preferences", slog.Any("error", err))
		return
	}
	if err := s.storage.SetItem(ctx, PreferencesKey, data); err != nil {
		s.logger.Warn("failed to save preferences", slog.Any("error", err))
	}
}

// StartSync follows changes made by other instances and publishes a
// VolumeSyncedEvent whenever one of them changes the volume. Only the
// volume is taken over.
// Storages that cannot watch return domain.ErrWatchUnsupported.
func (s *PreferenceService) StartSync(ctx context.Context) error {
	watcher, ok := s.storage.(ports.StorageWatcher)
	if !ok {
		return domain.ErrWatchUnsupported
	}

	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := watcher.Watch(watchCtx, PreferencesKey)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
	s.cancelWatch = cancel
	s.watchWg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.watchWg.Done()
		for change := range changes {
			s.applyChange(change)
		}
	}()

	s.logger.Debug("following preference changes from other instances")
	return nil
}

func (s *PreferenceService) applyChange(change ports.StorageChange) {
	if change.NewValue == nil {
		return
	}
	prefs, ok := parsePreferences(change.NewValue)
	if !ok {
		s.logger.Debug("ignoring corrupt preferences from another instance", slog.String("origin", change.Origin))
		return
	}

	s.mu.Lock()
	if prefs.Volume == s.current.Volume {
		s.mu.Unlock()
		return
	}
	s.current.Volume = prefs.Volume
	s.mu.Unlock()

	s.logger.Debug("volume synced", slog.Float64("volume", prefs.Volume), slog.String("origin", change.Origin))
	s.bus.Publish(domain.NewVolumeSyncedEvent(prefs.Volume))
}

// Shutdown stops following other instances.
func (s *PreferenceService) Shutdown() error {
	s.mu.Lock()
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.watchWg.Wait()
	return nil
}

// Verify that PreferenceService implements the expected interface patterns
var _ interface {
	Load(context.Context) domain.Preferences
	Current() domain.Preferences
	SaveVolume(context.Context, float64)
	SavePosition(context.Context, float64)
	MarkVisited(context.Context)
	StartSync(context.Context) error
	Shutdown() error
} = (*PreferenceService)(nil)
