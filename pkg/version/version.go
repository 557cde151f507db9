// Package version holds build information injected at release time, e.g.
//
//	go build -ldflags "-X rework/pkg/version.Version=v1.2.3"
package version

import (
	"fmt"
	"runtime"
)

//nolint:gochecknoglobals // ldflags can only set package-level vars
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Short is the one-line form shown in the chat banner.
func Short() string {
	if Commit == "none" {
		return Version
	}
	c := Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, c)
}

// Details lists every field, one per line.
func Details() string {
	return fmt.Sprintf("rework %s\n  commit: %s\n  built:  %s\n  go:     %s\n", Version, Commit, Date, runtime.Version())
}
