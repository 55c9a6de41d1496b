// Package version holds build metadata injected at link time.
package version

import "fmt"

var (
	// Version is the release version, set via -ldflags.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

// String returns a single-line version description.
func String() string {
	return fmt.Sprintf("labdabbler %s (commit %s, built %s)", Version, Commit, Date)
}
