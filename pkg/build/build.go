// Package build holds version metadata injected at compile time via
// -ldflags, e.g.:
//
//	go build -ldflags "-X github.com/ruleforge/automation-core/pkg/build.Version=1.2.0 \
//	    -X github.com/ruleforge/automation-core/pkg/build.Commit=$(git rev-parse --short HEAD) \
//	    -X github.com/ruleforge/automation-core/pkg/build.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a single human-readable line for --version output.
func String() string {
	return Version + " (" + Commit + ", built " + Date + ")"
}
