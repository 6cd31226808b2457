package version

import (
	"runtime/debug"
	"strings"
)

var (
	Version = "1.0.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the release version, suffixed with the short VCS revision
// when the binary was built from an untagged tree (ldflags Commit wins over
// embedded build info).
func Resolve() string {
	return resolveVersion(Version, Commit, debug.ReadBuildInfo)
}

func resolveVersion(base, commit string, buildInfo func() (*debug.BuildInfo, bool)) string {
	if base == "" {
		base = "0.0.0"
	}

	suffix := revisionSuffix(commit, buildInfo)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}

func revisionSuffix(commit string, buildInfo func() (*debug.BuildInfo, bool)) string {
	if commit != "" && commit != "unknown" {
		return shortRevision(commit)
	}

	info, ok := buildInfo()
	if !ok || info == nil {
		return ""
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return ""
	}

	suffix := shortRevision(revision)
	if dirty {
		suffix += "-dirty"
	}
	return suffix
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
