// Package buildinfo contains application metadata that can be set at build time.
//
// For release builds, use ldflags to set the version:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-pay/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/davi-pay/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the technical application name, also used as the default
	// config directory name.
	Name = "davi-pay"

	// DisplayName is advertised over mDNS and shown to the phone app.
	DisplayName = "Davi Pay"

	// Description is a short description of the application
	Description = "NFC tap-to-pay agent for Sui transfers"

	// Version is the semantic version (set via ldflags for releases)
	Version = "dev"

	// Commit is the git commit hash (set via ldflags)
	Commit = ""

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = ""
)

// FullVersion returns the version string with optional commit info,
// e.g. "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns a user agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// BuildInfo returns a multi-line string with full build information.
func BuildInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	fmt.Fprintf(&sb, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}

// IsDev returns true if this is a development build.
func IsDev() bool {
	return Version == "dev"
}
