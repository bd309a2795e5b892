// Package version reports the build the CLI was compiled from.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is set with -ldflags "-X github.com/chazu/lakegraph/internal/version.Version=v1.2.3"
var Version = ""

// GetVersion returns the release version when set, otherwise the VCS
// revision from the build info, or "dev".
func GetVersion() string {
	if Version != "" {
		return Version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 7 {
				revision = revision[:7]
			}
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev"
	}
	if modified {
		return fmt.Sprintf("%s (dirty)", revision)
	}
	return revision
}
