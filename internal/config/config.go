// Package config loads encore's settings from built-in defaults, an optional
// TOML file, a .env file and ENCORE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
	"github.com/tejashwikalptaru/encore/internal/service"
)

const (
	// AppName names the config file and the config directory
	AppName = "encore"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "ENCORE"

	// FileName is the config file looked up when none is given
	FileName = AppName + ".toml"

	// DotEnvFile is read from the working directory when present
	DotEnvFile = ".env"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// EnvKeyReplacer turns config keys into environment variable suffixes.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Config is the complete set of settings.
type Config struct {
	Player  PlayerConfig  `mapstructure:"player"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	MPRIS   MPRISConfig   `mapstructure:"mpris"`
	Library LibraryConfig `mapstructure:"library"`
	Log     LogConfig     `mapstructure:"log"`
}

// PlayerConfig holds the player timings.
type PlayerConfig struct {
	ContainerPollInterval time.Duration `mapstructure:"container_poll_interval"`
	ContainerPollLimit    int           `mapstructure:"container_poll_limit"`
	DurationRequeryDelay  time.Duration `mapstructure:"duration_requery_delay"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	MaxRetries            int           `mapstructure:"max_retries"`
	EndedDeferral         time.Duration `mapstructure:"ended_deferral"`
	TickInterval          time.Duration `mapstructure:"tick_interval"`
	FadeSteps             int           `mapstructure:"fade_steps"`
	FadeStepInterval      time.Duration `mapstructure:"fade_step_interval"`
	FadeTarget            float64       `mapstructure:"fade_target"`
}

// EngineConfig configures the embedded media engine.
type EngineConfig struct {
	Binary      string `mapstructure:"binary"`
	Socket      string `mapstructure:"socket"`
	ContainerID string `mapstructure:"container_id"`
	Video       bool   `mapstructure:"video"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
}

// StorageConfig selects where preferences and playlists are kept.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
}

// HTTPConfig configures the HTTP control API.
type HTTPConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	AllowOrigin string `mapstructure:"allow_origin"`
}

// MPRISConfig toggles the session bus remote.
type MPRISConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LibraryConfig names the startup playlist sources.
type LibraryConfig struct {
	Dir      string `mapstructure:"dir"`
	Playlist string `mapstructure:"playlist"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. It must exist when set.
	File string

	// SearchPaths are tried for FileName when File is empty.
	// Defaults to the working directory and Dir().
	SearchPaths []string

	// DotEnv is the .env file to read. Defaults to DotEnvFile; a missing file is ignored.
	DotEnv string
}

// Dir returns the configuration directory. ENCORE_CONFIG_DIR overrides it.
func Dir() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(base, AppName)
}

// Load resolves the configuration on fsys.
func Load(fsys afero.Fs, opts Options) (*Config, error) {
	if err := loadDotEnv(fsys, opts.DotEnv); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("toml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	for name, field := range Default {
		v.SetDefault(name, field.Value)
		v.MustBindEnv(name)
	}

	file, err := findConfigFile(fsys, opts)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(Dir(), "storage")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile returns the file to read, or "" when there is none.
func findConfigFile(fsys afero.Fs, opts Options) (string, error) {
	if opts.File != "" {
		exists, err := afero.Exists(fsys, opts.File)
		if err != nil {
			return "", fmt.Errorf("failed to stat config %s: %w", opts.File, err)
		}
		if !exists {
			return "", fmt.Errorf("config file %s: %w", opts.File, os.ErrNotExist)
		}
		return opts.File, nil
	}

	paths := opts.SearchPaths
	if paths == nil {
		paths = []string{".", Dir()}
	}
	for _, dir := range paths {
		candidate := filepath.Join(dir, FileName)
		if exists, _ := afero.Exists(fsys, candidate); exists {
			return candidate, nil
		}
	}
	return "", nil
}

// loadDotEnv exports the variables of a .env file that are not already set.
func loadDotEnv(fsys afero.Fs, path string) error {
	if path == "" {
		path = DotEnvFile
	}

	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	values, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for k, val := range values {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return fmt.Errorf("failed to export %s: %w", k, err)
		}
	}
	return nil
}

// Validate rejects settings the player cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		return domain.NewValidationError(StorageBackend, c.Storage.Backend, "must be memory, file or redis")
	}

	if c.Player.FadeTarget < 0 || c.Player.FadeTarget > 1 {
		return domain.NewValidationError(PlayerFadeTarget, c.Player.FadeTarget, "must be between 0 and 1")
	}
	if c.Player.FadeSteps < 1 {
		return domain.NewValidationError(PlayerFadeSteps, c.Player.FadeSteps, "must be at least 1")
	}
	if c.Player.MaxRetries < 0 {
		return domain.NewValidationError(PlayerMaxRetries, c.Player.MaxRetries, "must not be negative")
	}
	if c.Player.ContainerPollLimit < 0 {
		return domain.NewValidationError(PlayerContainerPollLimit, c.Player.ContainerPollLimit, "must not be negative")
	}

	durations := map[string]time.Duration{
		PlayerContainerPollInterval: c.Player.ContainerPollInterval,
		PlayerTickInterval:          c.Player.TickInterval,
		PlayerFadeStepInterval:      c.Player.FadeStepInterval,
	}
	for k, d := range durations {
		if d <= 0 {
			return domain.NewValidationError(k, d, "must be positive")
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return domain.NewValidationError(LogFormat, c.Log.Format, "must be text or json")
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return domain.NewValidationError(HTTPAddr, c.HTTP.Addr, "required when the HTTP API is enabled")
	}
	return nil
}

// Timing returns the player timings.
func (c *Config) Timing() service.Timing {
	return service.Timing{
		ContainerPollInterval: c.Player.ContainerPollInterval,
		ContainerPollLimit:    c.Player.ContainerPollLimit,
		DurationRequeryDelay:  c.Player.DurationRequeryDelay,
		RetryDelay:            c.Player.RetryDelay,
		MaxRetries:            c.Player.MaxRetries,
		EndedDeferral:         c.Player.EndedDeferral,
		TickInterval:          c.Player.TickInterval,
		FadeSteps:             c.Player.FadeSteps,
		FadeStepInterval:      c.Player.FadeStepInterval,
		FadeTarget:            c.Player.FadeTarget,
	}
}

// Logger returns the logger settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      logger.ParseLevel(c.Log.Level),
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
