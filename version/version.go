// Package version exposes build-time metadata. The variables are meant
// to be set with ldflags, e.g.
//
//	go build -ldflags "-X github.com/syncbridge/syncbridge/version.Version=1.2.3"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set during build time
var (
	// Version is the current version
	Version = "0.0.0"

	// Revision is the short commit hash of source tree
	Revision = "unknown"

	// BuiltAt is the build time
	BuiltAt = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuiltAt   string `json:"builtAt"`
	GoVersion string `json:"goVersion"`
}

// GetVersionInfo returns version information
func GetVersionInfo() Info {
	return Info{
		Version:   Version,
		Revision:  Revision,
		BuiltAt:   BuiltAt,
		GoVersion: runtime.Version(),
	}
}

// String returns a single-line version string
func (i Info) String() string {
	return fmt.Sprintf("syncbridge %s (%s, built %s, %s)", i.Version, i.Revision, i.BuiltAt, i.GoVersion)
}
