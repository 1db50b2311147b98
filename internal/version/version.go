// Package version exposes build metadata for hlsabr.
//
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/hlsabr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/hlsabr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/hlsabr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "hlsabr"

// Info contains structured version information.
type Info struct {
	Application string `json:"application"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Application: ApplicationName,
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if sha := shortCommit(); sha != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sha, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if sha := shortCommit(); sha != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, sha)
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// UserAgent appends the build identity to a configured product token.
// An empty product yields just the build identity.
func UserAgent(product string) string {
	self := ApplicationName + "/" + Version
	if product == "" {
		return self
	}
	return product + " " + self
}
