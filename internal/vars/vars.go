// Package vars holds build-time variables populated via the linker (ldflags).
package vars

import (
	"fmt"
	"time"
)

var (
	// Name of the service
	Name = "GameMaster"

	// Version is the git tag, set at build time
	Version = "dev"

	// Commit is the git SHA, set at build time
	Commit = "unknown"

	// BuildTime is the build start time, RFC3339 UTC
	BuildTime = time.Unix(0, 0).UTC()

	_buildTime string
)

// BuildInfo is served by the version endpoint.
type BuildInfo struct {
	BuildTime time.Time `json:"build_time"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
}

func init() {
	if t, err := time.Parse(time.RFC3339, _buildTime); err == nil {
		BuildTime = t.UTC()
	}
}

// Info returns the build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}
}

// Print writes the build metadata for --version.
func Print() {
	fmt.Printf("%s %s (commit %s, built %s)\n", Name, Version, Commit, BuildTime.Format(time.RFC3339))
}
