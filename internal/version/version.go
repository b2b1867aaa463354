// Package version holds the build version stamped into persisted
// configuration and support bundles.
package version

// Version is the current release. Overridden at build time via
// -ldflags "-X github.com/tracering/tracering/internal/version.Version=...".
var Version = "1.0.0"
