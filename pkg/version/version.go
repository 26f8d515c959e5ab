// Package version holds build metadata injected via ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X specforge/pkg/version.Version=v1.2.3 -X specforge/pkg/version.Commit=$(git rev-parse --short HEAD)"
//
//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata for the version subcommand.
func String() string {
	return fmt.Sprintf("specforge %s (commit %s, built %s)", Version, Commit, Date)
}
