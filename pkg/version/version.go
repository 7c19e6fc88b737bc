// Package version holds the build information printed by `corostack version`.
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/coral-mesh/corostack/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the version block of the corostack binary.
func String() string {
	return fmt.Sprintf("Corostack version %s\nGit commit: %s\nBuild date: %s\nGo version: %s\n",
		Version, GitCommit, BuildDate, runtime.Version())
}
