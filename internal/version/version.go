// Package version holds build version information.
package version

// Version is the CLI version, overridden at build time via
// -ldflags "-X github.com/omas-app/omas-vendor-go/internal/version.Version=v1.2.3".
var Version = "dev"
