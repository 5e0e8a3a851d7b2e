// Package version holds the build version, overridden at link time via
// -ldflags "-X github.com/antigravity-ops/agctl/internal/version.Version=...".
package version

var Version = "dev"
