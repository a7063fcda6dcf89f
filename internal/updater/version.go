package updater

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionParseError is reported next to a comparison result that fell back to
// lexicographic ordering.
type VersionParseError struct {
	Version string
	Err     error
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %v", e.Version, e.Err)
}

func (e *VersionParseError) Unwrap() error {
	return e.Err
}

// CompareVersions orders two version strings semantically ("1.2" equals "1.2.0",
// a leading "v" is ignored). If either version cannot be parsed, the strings are
// compared lexicographically and a *VersionParseError is returned with the result.
func CompareVersions(a, b string) (int, error) {
	va, errA := semver.NewVersion(strings.TrimSpace(a))
	vb, errB := semver.NewVersion(strings.TrimSpace(b))
	switch {
	case errA != nil:
		return strings.Compare(a, b), &VersionParseError{Version: a, Err: errA}
	case errB != nil:
		return strings.Compare(a, b), &VersionParseError{Version: b, Err: errB}
	}
	return va.Compare(vb), nil
}

// IsNewer reports whether latest is strictly greater than installed.
func IsNewer(installed, latest string) (bool, error) {
	c, err := CompareVersions(installed, latest)
	return c < 0, err
}
