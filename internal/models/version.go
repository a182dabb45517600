package models

import "github.com/Masterminds/semver/v3"

// IsNewerVersion reports whether candidate is a strictly newer semantic
// version than current. OSTree targets carry opaque ids instead of versions;
// when either side does not parse as semver the comparison is inconclusive
// and false is returned.
func IsNewerVersion(current, candidate string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	cand, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	return cand.GreaterThan(cur)
}
