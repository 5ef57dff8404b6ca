// Package pyver implements ordering and constraint matching for PyPI-style
// version strings.
//
// Versions are compared under the numeric dotted-release scheme (release
// segments plus optional pre/post/dev segments). Strings that do not parse
// under that scheme still participate in the total order: every malformed
// version sorts after every well-formed one, and malformed versions compare
// to each other lexicographically.
package pyver

import (
	"fmt"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a version string with its parse cached.
type Version struct {
	raw        string
	parsed     pep440.Version
	wellFormed bool
}

// Parse never fails; a string the versioning scheme rejects is carried as a
// malformed Version with a defined ordering.
func Parse(raw string) Version {
	v, err := pep440.Parse(raw)
	if err != nil {
		return Version{raw: raw}
	}
	return Version{raw: raw, parsed: v, wellFormed: true}
}

func (v Version) String() string { return v.raw }

// WellFormed reports whether the version parsed under the versioning scheme.
func (v Version) WellFormed() bool { return v.wellFormed }

// Compare returns -1 if a orders before b, 0 if they are equal, and 1 if a
// orders after b.
func Compare(a, b Version) int {
	if a.wellFormed != b.wellFormed {
		if a.wellFormed {
			return -1
		}
		return 1
	}
	if !a.wellFormed {
		return strings.Compare(a.raw, b.raw)
	}
	switch {
	case a.parsed.LessThan(b.parsed):
		return -1
	case a.parsed.GreaterThan(b.parsed):
		return 1
	default:
		return 0
	}
}

// CompareStrings compares two raw version strings.
func CompareStrings(a, b string) int {
	return Compare(Parse(a), Parse(b))
}

// SortAscending returns a new slice with versions ordered oldest first.
func SortAscending(versions []string) []string {
	return sorted(versions, func(a, b Version) bool { return Compare(a, b) < 0 })
}

// SortDescending returns a new slice with versions ordered newest first.
func SortDescending(versions []string) []string {
	return sorted(versions, func(a, b Version) bool { return Compare(a, b) > 0 })
}

func sorted(versions []string, less func(a, b Version) bool) []string {
	parsed := make([]Version, len(versions))
	for i, raw := range versions {
		parsed[i] = Parse(raw)
	}
	sort.SliceStable(parsed, func(i, j int) bool { return less(parsed[i], parsed[j]) })
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.raw
	}
	return out
}

// Specifier is a conjunction of comparison clauses over versions. The zero
// value is the empty specifier, which matches every version.
type Specifier struct {
	raw string
	set pep440.Specifiers
	has bool
}

// ParseSpecifier parses a specifier such as ">=1.24,<2.0". Whitespace-only
// input yields the empty specifier.
func ParseSpecifier(raw string) (Specifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Specifier{}, nil
	}
	set, err := pep440.NewSpecifiers(raw, pep440.WithPreRelease(true))
	if err != nil {
		return Specifier{}, fmt.Errorf("pyver: parse specifier %q: %w", raw, err)
	}
	return Specifier{raw: raw, set: set, has: true}, nil
}

// MustSpecifier is ParseSpecifier for specifiers known to be valid.
func MustSpecifier(raw string) Specifier {
	s, err := ParseSpecifier(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Empty reports whether the specifier has no clauses.
func (s Specifier) Empty() bool { return !s.has }

func (s Specifier) String() string { return s.raw }

// Match reports whether version satisfies every clause of the specifier.
// The empty specifier matches everything, malformed versions included; a
// malformed version never matches a non-empty specifier.
func (s Specifier) Match(version string) bool {
	if !s.has {
		return true
	}
	v, err := pep440.Parse(version)
	if err != nil {
		return false
	}
	return s.set.Check(v)
}
