// Package buildinfo records version information stamped into the binary at
// build time via -ldflags.
package buildinfo

import "fmt"

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// Get returns the build information of the running binary.
func Get() BuildInfo {
	return BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
