// Package version decides whether a candidate bundle version is eligible for
// installation relative to the currently booted slot version.
package version

import (
	"log/slog"

	"github.com/Masterminds/semver/v3"
)

// Unknown is the sentinel reported by the installer when the current slot
// version cannot be determined.
const Unknown = ""

// Parse parses a semantic version string.
func Parse(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(s)
}

// Eligible reports whether a candidate version may be installed over the
// current slot version.
//
// Override candidates are eligible with any parseable version, downgrades
// included. Regular candidates must parse and be strictly greater than the
// current version; an unknown or unparseable current version fails every
// regular candidate.
func Eligible(candidate, current string, override bool) bool {
	cand, err := Parse(candidate)
	if err != nil {
		slog.Warn("candidate_version_unparseable", "version", candidate, "error", err)
		return false
	}
	if override {
		return true
	}
	if current == Unknown {
		slog.Warn("current_version_unknown", "candidate", candidate)
		return false
	}
	cur, err := Parse(current)
	if err != nil {
		slog.Warn("current_version_unparseable", "version", current, "error", err)
		return false
	}
	return cand.GreaterThan(cur)
}

// Less reports whether version a sorts before version b. Unparseable
// versions sort first.
func Less(a, b string) bool {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	if errA != nil || errB != nil {
		return errA != nil && errB == nil
	}
	return va.LessThan(vb)
}
