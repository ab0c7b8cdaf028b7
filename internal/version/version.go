package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/lifxlan/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/lifxlan/internal/version.Commit=abc123"
//
// If not set, they are filled from the VCS stamp in the build info, or fall
// back to "dev" with a timestamp.
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

func init() {
	info, _ := debug.ReadBuildInfo()
	Version, Commit = resolve(Version, Commit, info, time.Now())
}

// resolve fills in whichever of version and commit is empty from the build
// info's VCS settings.
func resolve(version, commit string, info *debug.BuildInfo, now time.Time) (string, string) {
	var revision, modified, vcsTime string
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			case "vcs.time":
				vcsTime = setting.Value
			}
		}
	}

	if commit == "" && revision != "" {
		commit = revision
		if len(commit) > 7 {
			commit = commit[:7]
		}
		if modified == "true" {
			commit += "-dirty"
		}
	}
	if commit == "" {
		commit = "unknown"
	}

	// Build info has no tags, so a VCS build is dated by its commit
	if version == "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			version = "dev-" + t.Format("20060102")
		} else {
			version = "dev-" + now.Format("20060102-150405")
		}
	}
	return version, commit
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// String returns the version line printed by a named program
func String(program string) string {
	return fmt.Sprintf("%s %s (commit: %s)", program, Version, Commit)
}
