package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/ports"
)

// scanWorkers bounds the number of files whose tags are read at once.
const scanWorkers = 4

// trackNamespace seeds the stable ids of local files.
var trackNamespace = uuid.MustParse("8f3c2a4e-5b1d-4c6e-9a7f-2d0b1e3c4f5a")

// LibraryService imports local audio files as track records.
// Files are found on an afero filesystem and tagged with dhowden/tag; the
// absolute path becomes the media id, which the mpv backend plays directly.
// All operations are thread-safe via sync.Mutex.
type LibraryService struct {
	// Dependencies (injected)
	logger *slog.Logger
	fs     afero.Fs
	bus    ports.EventBus

	// State
	scanning      bool
	cancelScan    context.CancelFunc
	supportedExts []string

	// Concurrency control
	mu sync.Mutex
}

// NewLibraryService creates a new library service.
func NewLibraryService(logger *slog.Logger, fsys afero.Fs, bus ports.EventBus) *LibraryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryService{
		logger: logger.With(slog.String("component", "library")),
		fs:     fsys,
		bus:    bus,
		supportedExts: []string{
			".mp3", ".ogg", ".oga", ".flac", ".fla",
			".m4a", ".m4b", ".mp4", ".aac",
			".wav", ".aif", ".aiff", ".opus", ".wma",
		},
	}
}

// ScanFolder walks root recursively and returns one record per audio file,
// ordered by path. Files whose tags cannot be read keep their file name as title.
func (s *LibraryService) ScanFolder(ctx context.Context, root string) ([]domain.TrackRecord, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, domain.NewServiceError("LibraryService", "ScanFolder", "scan already in progress", domain.ErrScanInProgress)
	}
	s.scanning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancelScan = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.scanning = false
		s.cancelScan = nil
		s.mu.Unlock()
	}()

	started := time.Now()
	s.bus.Publish(domain.NewScanStartedEvent(root))

	files, err := s.collectAudioFiles(ctx, root)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, domain.ErrScanCancelled
		}
		return nil, domain.NewServiceError("LibraryService", "ScanFolder", "failed to walk "+root, err)
	}

	records := make([]domain.TrackRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = s.readRecord(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.ErrScanCancelled
	}

	elapsed := time.Since(started)
	s.logger.Info("library scanned",
		slog.String("root", root),
		slog.Int("tracks", len(records)),
		slog.Duration("took", elapsed))
	s.bus.Publish(domain.NewScanCompletedEvent(root, len(records), elapsed))

	return records, nil
}

// CancelScan cancels the running scan.
func (s *LibraryService) CancelScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning {
		return domain.NewServiceError("LibraryService", "CancelScan", "no scan in progress", nil)
	}
	if s.cancelScan != nil {
		s.cancelScan()
	}
	return nil
}

// IsScanning returns true if a scan is currently in progress.
func (s *LibraryService) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// IsFormatSupported checks the file extension.
func (s *LibraryService) IsFormatSupported(path string) bool {
	return slices.Contains(s.supportedExts, strings.ToLower(filepath.Ext(path)))
}

func (s *LibraryService) collectAudioFiles(ctx context.Context, root string) ([]string, error) {
	var files []string

	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Skip what we cannot access
			s.logger.Debug("skipping unreadable path", slog.String("path", path), slog.Any("error", err))
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() && s.IsFormatSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

// readRecord builds the record for one file.
func (s *LibraryService) readRecord(path string) domain.TrackRecord {
	abs := path
	if a, err := filepath.Abs(path); err == nil {
		abs = a
	}

	record := domain.TrackRecord{
		ID:             uuid.NewSHA1(trackNamespace, []byte(abs)).String(),
		Title:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Artist:         "Unknown Artist",
		YoutubeVideoID: abs,
	}

	file, err := s.fs.Open(path)
	if err != nil {
		s.logger.Debug("failed to open file", slog.String("path", path), slog.Any("error", err))
		return record
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil || metadata == nil {
		return record
	}

	if title := strings.TrimSpace(metadata.Title()); title != "" {
		record.Title = title
	}
	if artist := strings.TrimSpace(metadata.Artist()); artist != "" {
		record.Artist = artist
	}
	if year := metadata.Year(); year > 0 {
		record.ReleaseDate = strconv.Itoa(year)
	}
	record.Description = strings.TrimSpace(metadata.Comment())
	record.Tags = lo.Compact([]string{
		strings.TrimSpace(metadata.Genre()),
		strings.TrimSpace(metadata.Album()),
	})

	return record
}

// Shutdown cancels a running scan.
func (s *LibraryService) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanning && s.cancelScan != nil {
		s.cancelScan()
	}
	return nil
}

// Verify that LibraryService implements the expected interface patterns
var _ interface {
	ScanFolder(context.Context, string) ([]domain.TrackRecord, error)
	CancelScan() error
	IsScanning() bool
	IsFormatSupported(string) bool
	Shutdown() error
} = (*LibraryService)(nil)
