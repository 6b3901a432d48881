package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Range is a SemVer predicate over Versions: exact, caret, tilde,
// comparator, hyphen, disjunction, or wildcard, per spec §3.
type Range struct {
	raw        string
	constraint *semver.Constraints
}

var caretZeroMinor = regexp.MustCompile(`^\^0\.(\d+)\.(\d+)(.*)$`)

// ParseRange parses a range string into a Range predicate.
//
// Unknown syntax is not rejected here: per spec §4.2 ("Unknown range syntax:
// the range is treated as an exact-version string"), a string the
// constraint parser rejects is retried as an exact-version constraint, and
// only fails if that also doesn't parse as a Version.
func ParseRange(s string) (Range, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "*" {
		c, _ := semver.NewConstraint("*")
		return Range{raw: s, constraint: c}, nil
	}

	rewritten := rewriteCaretZeroMinor(trimmed)

	c, err := semver.NewConstraint(rewritten)
	if err == nil {
		return Range{raw: s, constraint: c}, nil
	}

	// Fall back: unknown syntax is treated as an exact-version string.
	if _, verErr := semver.NewVersion(trimmed); verErr == nil {
		exact, exactErr := semver.NewConstraint("=" + trimmed)
		if exactErr == nil {
			return Range{raw: s, constraint: exact}, nil
		}
	}

	return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
}

// MustParseRange panics on error; intended for tests and constant ranges.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// rewriteCaretZeroMinor handles Jelly's documented special case: for a
// caret range whose base version has major == 0, Masterminds/semver already
// applies the "next nonzero component" rule that matches spec §3's
// "for 0.y.z the caret is >=0.y.z, <0.(y+1).0" — so no rewrite is needed
// in the common case. This function exists to normalize the rare case of a
// caret range with an explicit leading zero in the patch position
// (e.g. "^0.4.00") which the library's parser rejects outright.
func rewriteCaretZeroMinor(s string) string {
	m := caretZeroMinor.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	minor := strings.TrimLeft(m[1], "0")
	if minor == "" {
		minor = "0"
	}
	patch := strings.TrimLeft(m[2], "0")
	if patch == "" {
		patch = "0"
	}
	return fmt.Sprintf("^0.%s.%s%s", minor, patch, m[3])
}

// Satisfies reports whether v matches this range's predicate.
func (r Range) Satisfies(v Version) bool {
	if r.constraint == nil || v.v == nil {
		return false
	}
	return r.constraint.Check(v.v)
}

// String returns the original range string as written in the manifest.
func (r Range) String() string {
	return r.raw
}

// IsWildcard reports whether this range is the "*" (any version) form.
func (r Range) IsWildcard() bool {
	return strings.TrimSpace(r.raw) == "*" || strings.TrimSpace(r.raw) == ""
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	return []byte(r.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Range) UnmarshalText(text []byte) error {
	parsed, err := ParseRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SatisfiesAll reports whether v satisfies every range in rs. The Resolver
// uses this to test a candidate version against the full aggregated set of
// ranges contributed by every requirer of a PackageId (spec §4.2 step 3).
func SatisfiesAll(rs []Range, v Version) bool {
	for _, r := range rs {
		if !r.Satisfies(v) {
			return false
		}
	}
	return true
}
