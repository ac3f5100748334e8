// Package version holds build metadata injected at link time.
package version

import "runtime"

// Set via -ldflags "-X github.com/archivista/muster/version.GitRelease=..."
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo reports the toolchain used for the build.
var GoInfo = runtime.Version()
