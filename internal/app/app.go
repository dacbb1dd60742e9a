// Package app provides application-level orchestration and dependency injection.
// This package wires together all components and manages the application lifecycle.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tejashwikalptaru/encore/internal/adapter/embed/mpv"
	"github.com/tejashwikalptaru/encore/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/encore/internal/adapter/remote/httpapi"
	"github.com/tejashwikalptaru/encore/internal/adapter/remote/mpris"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository/file"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository/redis"
	"github.com/tejashwikalptaru/encore/internal/config"
	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
	"github.com/tejashwikalptaru/encore/internal/ports"
	"github.com/tejashwikalptaru/encore/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Application is the root application structure that holds all dependencies.
// It follows the Dependency Injection pattern with constructor-based injection.
//
// The Application struct is responsible for:
// - Creating and wiring all dependencies
// - Managing the application lifecycle (startup, shutdown)
// - Providing a clean entry point for the CLI
type Application struct {
	// Core dependencies
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	fs        afero.Fs
	ctx       context.Context
	cancel    context.CancelFunc

	// Infrastructure
	eventBus *eventbus.SyncEventBus
	runtime  ports.EmbedRuntime
	storage  ports.Storage
	session  ports.Storage

	// Repositories
	playlistRepo *repository.PlaylistRepository

	// Services, in creation order
	engine         *service.PlaybackEngine
	preferences    *service.PreferenceService
	store          *service.PlayerStore
	autoplay       *service.AutoplayOrchestrator
	controller     *service.Controller
	libraryService *service.LibraryService

	// Remotes
	api        *httpapi.Server
	httpServer *http.Server
	mprisMu    sync.Mutex
	mpris      *mpris.Player

	shutdownOnce sync.Once
}

// Options overrides parts of the wiring. The zero value builds everything
// from the configuration.
type Options struct {
	// Logger replaces the configured logger
	Logger *slog.Logger

	// Fs is the filesystem for file storage, playlists and the library (default: OS)
	Fs afero.Fs

	// Runtime replaces the mpv runtime
	Runtime ports.EmbedRuntime

	// Storage replaces the configured storage backend
	Storage ports.Storage
}

// NewApplication creates a new application with all dependencies wired.
// This is the main dependency injection function. Nothing runs until Start.
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	app := &Application{cfg: cfg, fs: opts.Fs}
	if app.fs == nil {
		app.fs = afero.NewOsFs()
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	// Step 1: Create logger
	if opts.Logger != nil {
		app.logger = opts.Logger
	} else {
		app.logger, app.logCloser = logger.NewLogger(cfg.Logger())
	}
	app.logger.Info("initializing application",
		slog.String("version", GetVersionInfo().Version),
		slog.String("storage", cfg.Storage.Backend))

	// Step 2: Create an event bus
	app.eventBus = eventbus.NewSyncEventBus()
	app.eventBus.SetLogger(app.logger.With(slog.String("component", "eventbus")))

	// Step 3: Create the embed runtime
	if opts.Runtime != nil {
		app.runtime = opts.Runtime
	} else {
		runtime, err := mpv.NewRuntime(mpv.Options{
			Binary:      cfg.Engine.Binary,
			SocketPath:  cfg.Engine.Socket,
			ContainerID: cfg.Engine.ContainerID,
			Video:       cfg.Engine.Video,
		}, app.logger)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to create embed runtime: %w", err)
		}
		app.runtime = runtime
	}

	// Step 4: Create storage and repositories
	if opts.Storage != nil {
		app.storage = opts.Storage
	} else {
		storage, err := app.openStorage()
		if err != nil {
			app.cleanup()
			return nil, err
		}
		app.storage = storage
	}
	// The session marker lives as long as the process
	app.session = memory.NewStorage()
	app.playlistRepo = repository.NewPlaylistRepository(app.storage, app.logger)

	// Step 5: Create services; the store must subscribe before the orchestrator
	timing := cfg.Timing()
	app.engine = service.NewPlaybackEngine(app.logger, app.runtime, app.eventBus, service.EngineOptions{
		ContainerID: cfg.Engine.ContainerID,
		Width:       cfg.Engine.Width,
		Height:      cfg.Engine.Height,
		Timing:      timing,
	})
	app.preferences = service.NewPreferenceService(app.ctx, app.logger, app.storage, app.eventBus)
	app.store = service.NewPlayerStore(app.ctx, app.logger, app.engine, app.preferences, app.eventBus, timing)
	app.autoplay = service.NewAutoplayOrchestrator(app.ctx, app.logger, app.store, app.preferences, app.session, app.eventBus, timing)
	app.controller = service.NewController(app.logger, app.store, app.autoplay)
	app.libraryService = service.NewLibraryService(app.logger, app.fs, app.eventBus)

	// Step 6: Create the HTTP API
	if cfg.HTTP.Enabled {
		app.api = httpapi.NewServer(app.logger, app.controller, httpapi.Options{
			Playlists:   app.playlistRepo,
			Library:     app.libraryService,
			AllowOrigin: cfg.HTTP.AllowOrigin,
		})
		app.httpServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           app.api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return app, nil
}

// openStorage connects the configured backend.
func (a *Application) openStorage() (ports.Storage, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewStorage(), nil
	case config.BackendFile:
		storage, err := file.NewStorage(a.fs, a.cfg.Storage.Dir, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open file storage: %w", err)
		}
		return storage, nil
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(a.ctx, shutdownTimeout)
		defer cancel()
		storage, err := redis.Connect(ctx, redis.Options{
			Addr:     a.cfg.Storage.RedisAddr,
			Password: a.cfg.Storage.RedisPassword,
			DB:       a.cfg.Storage.RedisDB,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return storage, nil
	default:
		return nil, domain.NewValidationError(config.StorageBackend, a.cfg.Storage.Backend, "unknown storage backend")
	}
}

// Start brings the player up: the engine starts initializing, preference
// sync and MPRIS are enabled when available, and the startup playlist is set.
// Start does not block on the engine becoming ready.
func (a *Application) Start(ctx context.Context) error {
	a.engine.Start(a.ctx)

	if err := a.preferences.StartSync(a.ctx); err != nil {
		if !errors.Is(err, domain.ErrWatchUnsupported) {
			a.logger.Warn("preference sync unavailable", slog.Any("error", err))
		}
	}

	if a.cfg.MPRIS.Enabled {
		player, err := mpris.Register(a.logger, a.controller)
		if err != nil {
			// Non-fatal - headless sessions have no session bus
			a.logger.Warn("mpris unavailable", slog.Any("error", err))
		} else {
			a.mprisMu.Lock()
			a.mpris = player
			a.mprisMu.Unlock()
		}
	}

	return a.loadStartupPlaylist(ctx)
}

// loadStartupPlaylist sets the playlist from the configured file, or from a
// scan of the configured library folder.
func (a *Application) loadStartupPlaylist(ctx context.Context) error {
	switch {
	case a.cfg.Library.Playlist != "":
		data, err := afero.ReadFile(a.fs, a.cfg.Library.Playlist)
		if err != nil {
			return fmt.Errorf("failed to read playlist: %w", err)
		}
		var records []domain.TrackRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("failed to parse playlist %s: %w", a.cfg.Library.Playlist, err)
		}
		dropped := a.controller.SetPlaylistRecords(records)
		a.logger.Info("playlist loaded",
			slog.String("path", a.cfg.Library.Playlist),
			slog.Int("tracks", len(records)-dropped),
			slog.Int("dropped", dropped))

	case a.cfg.Library.Dir != "":
		records, err := a.libraryService.ScanFolder(ctx, a.cfg.Library.Dir)
		if err != nil {
			return fmt.Errorf("failed to scan library: %w", err)
		}
		a.controller.SetPlaylistRecords(records)
		a.logger.Info("library loaded",
			slog.String("dir", a.cfg.Library.Dir),
			slog.Int("tracks", len(records)))
	}
	return nil
}

// Run starts the application and serves the HTTP API until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.logger.Info("encore started", slog.String("version", GetVersionInfo().FullString()))

	g, gctx := errgroup.WithContext(ctx)

	if a.httpServer != nil {
		g.Go(func() error {
			a.logger.Info("http api listening", slog.String("addr", a.httpServer.Addr))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if a.httpServer == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Controller returns the player control surface.
func (a *Application) Controller() *service.Controller {
	return a.controller
}

// Context returns a context carrying the controller.
func (a *Application) Context() context.Context {
	return service.NewContext(a.ctx, a.controller)
}

// Handler returns the HTTP API handler, or nil when the API is disabled.
func (a *Application) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// Engine returns the playback engine.
func (a *Application) Engine() *service.PlaybackEngine {
	return a.engine
}

// Playlists returns the saved playlist repository.
func (a *Application) Playlists() ports.PlaylistRepository {
	return a.playlistRepo
}

// Shutdown gracefully shuts down the application.
// It is safe to call more than once.
func (a *Application) Shutdown() error {
	var errs []error
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")
		errs = a.shutdown()
		a.logger.Info("application shutdown complete")
		a.cleanup()
	})
	return errors.Join(errs...)
}

// shutdown stops the remotes first, then the services in reverse order of creation.
func (a *Application) shutdown() []error {
	var errs []error
	collect := func(name string, err error) {
		if err != nil {
			a.logger.Warn("failed to shutdown "+name, slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.api != nil {
		collect("http api", a.api.Close())
	}

	a.mprisMu.Lock()
	player := a.mpris
	a.mpris = nil
	a.mprisMu.Unlock()
	if player != nil {
		collect("mpris", player.Close())
	}

	collect("library service", a.libraryService.Shutdown())
	collect("autoplay", a.autoplay.Shutdown())
	collect("player store", a.store.Shutdown())
	collect("playback engine", a.engine.Destroy())
	collect("preference service", a.preferences.Shutdown())
	collect("embed runtime", a.runtime.Close())

	if closer, ok := a.storage.(io.Closer); ok {
		collect("storage", closer.Close())
	}
	return errs
}

// cleanup releases what is owned regardless of how far construction got.
func (a *Application) cleanup() {
	a.cancel()
	if a.eventBus != nil {
		_ = a.eventBus.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
