// Package requirement parses requirement lines of the form
// "name[extras]specifier; marker" into their parts.
//
// Parsing is two-stage: the primary grammar is tried first, and on a parse
// failure the legacy parenthesized form ("name (>=1.0, <2.0)") is tried as a
// fallback. Markers are captured opaquely; the only marker semantics the
// resolver implements is MentionsExtra.
package requirement

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/git-pkgs/resolve/internal/pyver"
)

var (
	nameRegex     = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9._]*[A-Za-z0-9]|[A-Za-z0-9])`)
	collapseRegex = regexp.MustCompile(`[-_.]+`)
)

// NormalizeName lowercases a package name, collapses any run of underscores,
// dots, and hyphens to a single hyphen, and trims surrounding whitespace.
// Two raw names with the same normalization denote the same package.
func NormalizeName(name string) string {
	return collapseRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Requirement is one parsed requirement line.
type Requirement struct {
	Name      string // normalized
	Extras    []string
	Specifier string // raw specifier text, "" when unconstrained
	Marker    string // raw environment marker, "" when absent
}

// ParseError reports a requirement line neither grammar could parse.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("requirement: parse %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses a single requirement line.
func Parse(line string) (Requirement, error) {
	head, marker := splitMarker(line)
	if head == "" {
		return Requirement{}, &ParseError{Line: line, Err: errors.New("empty requirement")}
	}
	req, err := parseStrict(head)
	if err != nil {
		req, err = parseLegacy(head)
		if err != nil {
			return Requirement{}, &ParseError{Line: line, Err: err}
		}
	}
	req.Marker = marker
	return req, nil
}

// ParseLines parses requirement-file lines, skipping blank lines and lines
// beginning with "#". A line neither grammar accepts fails the whole parse.
func ParseLines(lines []string) ([]Requirement, error) {
	var reqs []Requirement
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := Parse(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// MentionsExtra reports whether an environment marker scopes a dependency
// edge to an optional extra. Such edges are inactive unless the extra is
// requested.
func MentionsExtra(marker string) bool {
	return strings.Contains(marker, "extra ==")
}

func splitMarker(line string) (head, marker string) {
	parts := strings.SplitN(line, ";", 2)
	head = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		marker = strings.TrimSpace(parts[1])
	}
	return head, marker
}

func parseStrict(head string) (Requirement, error) {
	name := nameRegex.FindString(head)
	if name == "" {
		return Requirement{}, errors.New("no package name")
	}
	rest := strings.TrimSpace(head[len(name):])

	var extras []string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Requirement{}, errors.New("unterminated extras bracket")
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				extras = append(extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if _, err := pyver.ParseSpecifier(rest); err != nil {
		return Requirement{}, err
	}
	return Requirement{Name: NormalizeName(name), Extras: extras, Specifier: rest}, nil
}

// parseLegacy extracts only the head token (stripped of brackets and parens)
// and a best-effort parenthesized specifier.
func parseLegacy(head string) (Requirement, error) {
	name := head
	if i := strings.IndexAny(head, " \t("); i >= 0 {
		name = head[:i]
	}
	if i := strings.Index(name, "["); i >= 0 {
		name = name[:i]
	}
	name = strings.Trim(name, "()")
	if nameRegex.FindString(name) != name || name == "" {
		return Requirement{}, errors.New("no package name")
	}

	spec := ""
	if open := strings.Index(head, "("); open >= 0 {
		inner := head[open+1:]
		if close := strings.Index(inner, ")"); close >= 0 {
			inner = inner[:close]
		}
		spec = strings.TrimSpace(inner)
	}
	return Requirement{Name: NormalizeName(name), Specifier: spec}, nil
}
