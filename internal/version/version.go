// Package version carries build metadata injected with -ldflags "-X".
package version

// Name is the binary and default application name.
const Name = "kabu-alerts"

var (
	// Version is the release tag, e.g. v0.3.0.
	Version = "dev"
	// Commit is the short git hash the binary was built from.
	Commit = "unknown"
	// BuildDate is the RFC3339 build timestamp.
	BuildDate = "unknown"
)

// String renders a one-line build description.
func String() string {
	return Name + " " + Version + " (" + Commit + ", built " + BuildDate + ")"
}
