package app

import (
	"fmt"
	"runtime"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitTag    = ""
	BuildTime = "unknown"
)

// VersionInfo contains version information for the application.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"commit"`
	GitTag    string `json:"tag,omitempty"`
	BuildTime string `json:"builtAt"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetVersionInfo returns the current version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GitTag:    GitTag,
		BuildTime: BuildTime,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Short returns the tag when the build has one, else the version.
func (v VersionInfo) Short() string {
	if v.GitTag != "" {
		return v.GitTag
	}
	return v.Version
}

// FullString returns a detailed version string for logging.
func (v VersionInfo) FullString() string {
	return fmt.Sprintf("encore %s (commit: %s, built: %s, %s/%s)", v.Short(), v.GitCommit, v.BuildTime, v.OS, v.Arch)
}
