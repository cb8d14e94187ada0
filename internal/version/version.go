// Package version holds the build-time identifiers the version command
// and the startup log line report.
package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/benchlab/fleetbench/internal/version.Version=v1.0.0 \
//	  -X github.com/benchlab/fleetbench/internal/version.GitCommit=abc1234 \
//	  -X github.com/benchlab/fleetbench/internal/version.BuildDate=2026-07-29"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info renders the one-line version string the CLI and startup log
// share.
func Info() string {
	return fmt.Sprintf("fleetbench %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
