package config

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Field is one configuration setting with its default value.
type Field struct {
	Key         string
	Value       any
	Description string
}

// Env returns the environment variable that overrides this field.
func (f Field) Env() string {
	return strings.ToUpper(EnvPrefix + "_" + EnvKeyReplacer.Replace(f.Key))
}

// Default holds every known field by key.
var Default = make(map[string]Field)

func init() {
	register := func(k string, v any, desc string) {
		if _, exists := Default[k]; exists {
			panic("duplicate config key: " + k)
		}
		Default[k] = Field{Key: k, Value: v, Description: desc}
	}

	register(PlayerContainerPollInterval, 500*time.Millisecond, "Delay between lookups of the widget container")
	register(PlayerContainerPollLimit, 0, "Maximum container lookups before giving up; 0 polls forever")
	register(PlayerDurationRequeryDelay, time.Second, "How long after a load the track duration is read again")
	register(PlayerRetryDelay, 2*time.Second, "Pause before reloading a track that failed")
	register(PlayerMaxRetries, 3, "Reloads of a failing track before playback gives up")
	register(PlayerEndedDeferral, 300*time.Millisecond, "Delay between the end of a track and the advance to the next one")
	register(PlayerTickInterval, 100*time.Millisecond, "Position polling period while playing")
	register(PlayerFadeSteps, 50, "Number of volume steps in the first-visit fade-in")
	register(PlayerFadeStepInterval, 100*time.Millisecond, "Time between fade-in steps")
	register(PlayerFadeTarget, 0.3, "Volume the first-visit fade-in ends at, from 0 to 1")

	register(EngineBinary, "mpv", "Media engine executable")
	register(EngineSocket, "", "IPC socket path; a temporary path is used when empty")
	register(EngineContainerID, "encore-player", "Id of the mount point the widget renders into")
	register(EngineVideo, false, "Show the video output instead of playing audio only")
	register(EngineWidth, 640, "Widget width")
	register(EngineHeight, 360, "Widget height")

	register(StorageBackend, "file", "Preference storage: memory, file or redis")
	register(StorageDir, "", "Directory of the file backend; defaults to a folder in the config directory")
	register(StorageRedisAddr, "localhost:6379", "Address of the redis backend")
	register(StorageRedisDB, 0, "Database number of the redis backend")
	register(StorageRedisPassword, "", "Password of the redis backend")

	register(HTTPEnabled, true, "Serve the HTTP control API")
	register(HTTPAddr, "127.0.0.1:7878", "Listen address of the HTTP control API")
	register(HTTPAllowOrigin, "", "Value of Access-Control-Allow-Origin; CORS is off when empty")
	register(MPRISEnabled, true, "Expose the player on the session bus as an MPRIS2 media player")

	register(LibraryDir, "", "Folder scanned into the playlist at startup")
	register(LibraryPlaylist, "", "JSON file of track records loaded as the playlist at startup")

	register(LogLevel, "info", "Log level: debug, info, warn or error")
	register(LogFormat, "text", "Log format: text or json")
	register(LogFile, "", "Rotating log file; stderr only when empty")
	register(LogMaxSizeMB, 10, "Size in megabytes at which the log file is rotated")
	register(LogMaxBackups, 3, "Rotated log files kept")
	register(LogMaxAgeDays, 28, "Days rotated log files are kept")
}

// Fields returns every field sorted by key.
func Fields() []Field {
	fields := lo.Values(Default)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}
