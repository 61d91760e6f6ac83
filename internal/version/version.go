// Package version carries build metadata stamped at link time.
package version

// Set via -ldflags "-X github.com/tokligence/chatrelay/internal/version.Version=...".
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the release version.
func Info() string {
	return Version
}

// FullInfo returns version, commit and build time on one line.
func FullInfo() string {
	return "chatrelay " + Version + " (commit " + Commit + ", built " + BuiltAt + ")"
}
