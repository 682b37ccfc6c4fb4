// Package version exposes the build metadata stamped into the
// systest-runner binary at build time.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags during build.
var (
	// Version is the release version.
	Version = "dev"
	// GitCommit is the git commit SHA the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// String renders a single-line banner for logs and -version output.
func String() string {
	return fmt.Sprintf("version=%s commit=%s built=%s %s %s/%s",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
