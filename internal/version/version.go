// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of captionctl.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the metadata as printed by `captionctl version`.
func String() string {
	return fmt.Sprintf("captionctl %s\ncommit: %s\nbuilt: %s", Version, Commit, BuildDate)
}
