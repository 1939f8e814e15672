// Package version holds build information for the concierge binary, set via
// -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/concierge-go/internal/version.Version=v0.4.0 \
//	                    -X github.com/54b3r/concierge-go/internal/version.Commit=abc1234"
package version

import "fmt"

// Version is the semantic version of the binary. "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the build information on one line, as printed by
// `concierge version` and reported by /api/health.
func String() string {
	return fmt.Sprintf("concierge %s (commit %s, built %s)", Version, Commit, BuildDate)
}
