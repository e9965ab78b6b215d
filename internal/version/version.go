// Package version carries build information stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version.
	Version = "0.1.0"

	// BuildTime is the UTC build time.
	BuildTime = "unknown"

	// GitCommit is the source revision.
	GitCommit = "unknown"
)

// String formats the build information for -version output.
func String(program string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", program, Version, GitCommit, BuildTime)
}
