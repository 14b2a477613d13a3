// Package version reports the build's release and commit.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Short returns the release name.
func Short() string {
	return Release
}

// Commit returns the injected commit, falling back to the VCS revision
// recorded by the Go toolchain.
func Commit() string {
	if GitCommit != "unknown" && GitCommit != "" {
		return GitCommit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 8 {
			return s.Value[:8]
		}
	}

	return GitCommit
}

// Full returns the version string in the format "release (commit: x)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, Commit())
}

// FullWithPlatform returns the version string with platform information.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s, %s)",
		Release, Commit(), runtime.GOOS, runtime.GOARCH, runtime.Version())
}
