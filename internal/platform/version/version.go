// Package version exposes build information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the git tag or semantic version
	Version = "dev"
	// Commit is the git commit SHA
	Commit = "unknown"
	// BuildTime is the ISO 8601 build timestamp
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent identifies a binary of this module in outbound requests,
// e.g. "orderfeed-feedclient/1.2.0 (abc1234)".
func UserAgent(component string) string {
	return fmt.Sprintf("orderfeed-%s/%s (%s)", component, Version, Commit)
}
