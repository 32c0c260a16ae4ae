// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/Miravalier/NonsensePage-sub001/internal/version.Version=1.0.0 \
//	                   -X github.com/Miravalier/NonsensePage-sub001/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/Miravalier/NonsensePage-sub001/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "runtime"

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601)
	BuildTime = "unknown"
)

// Info is the build description reported by /health and at startup.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime
}

// String returns a formatted version string.
func String() string {
	return Get().String()
}

// UserAgent returns the User-Agent a binary sends when dialing the hub.
func UserAgent(product string) string {
	return product + "/" + Version + " (" + Commit + ")"
}
