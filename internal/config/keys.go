package config

// Player timing keys.
const (
	PlayerContainerPollInterval = "player.container_poll_interval"
	PlayerContainerPollLimit    = "player.container_poll_limit"
	PlayerDurationRequeryDelay  = "player.duration_requery_delay"
	PlayerRetryDelay            = "player.retry_delay"
	PlayerMaxRetries            = "player.max_retries"
	PlayerEndedDeferral         = "player.ended_deferral"
	PlayerTickInterval          = "player.tick_interval"
	PlayerFadeSteps             = "player.fade_steps"
	PlayerFadeStepInterval      = "player.fade_step_interval"
	PlayerFadeTarget            = "player.fade_target"
)

// Embed runtime keys.
const (
	EngineBinary      = "engine.binary"
	EngineSocket      = "engine.socket"
	EngineContainerID = "engine.container_id"
	EngineVideo       = "engine.video"
	EngineWidth       = "engine.width"
	EngineHeight      = "engine.height"
)

// Storage keys.
const (
	StorageBackend       = "storage.backend"
	StorageDir           = "storage.dir"
	StorageRedisAddr     = "storage.redis_addr"
	StorageRedisDB       = "storage.redis_db"
	StorageRedisPassword = "storage.redis_password"
)

// Remote control keys.
const (
	HTTPEnabled     = "http.enabled"
	HTTPAddr        = "http.addr"
	HTTPAllowOrigin = "http.allow_origin"
	MPRISEnabled    = "mpris.enabled"
)

// Library keys.
const (
	LibraryDir      = "library.dir"
	LibraryPlaylist = "library.playlist"
)

// Logging keys.
const (
	LogLevel      = "log.level"
	LogFormat     = "log.format"
	LogFile       = "log.file"
	LogMaxSizeMB  = "log.max_size_mb"
	LogMaxBackups = "log.max_backups"
	LogMaxAgeDays = "log.max_age_days"
)
