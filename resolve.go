// Package resolve computes installation and upgrade plans for PyPI-style
// package environments.
//
// Given an environment snapshot (installed package -> version), optional
// requirement-file lines, and one or more packages to install, the resolver
// runs a backtracking search over package metadata and returns either a
// consistent plan assigning exactly one version per package, or the
// conflicts that block one. Metadata is read through the Source interface;
// the metadata subpackage ships a PyPI JSON API implementation, an
// in-memory one, and a caching decorator.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/resolve"
//		"github.com/git-pkgs/resolve/metadata"
//	)
//
//	r := resolve.New(metadata.NewPyPI())
//	res, err := r.PlanSingleUpgrade(context.Background(),
//		map[string]string{"numpy": "1.24.0"},
//		nil,
//		"fastapi", ">=0.110.0")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !res.OK {
//		log.Fatal(res.Conflicts)
//	}
//	for _, sel := range res.Plan {
//		fmt.Println(sel.Name, sel.Version, sel.Provenance)
//	}
//
// Plans never remove packages; they only add or upgrade. The candidate
// ordering biases toward the smallest version bump that satisfies a
// constraint, and toward the newest release when nothing constrains the
// choice — a heuristic, not a guarantee of a globally minimal upgrade set.
package resolve

import (
	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/internal/pyver"
	"github.com/git-pkgs/resolve/internal/requirement"
)

// Re-export types from internal/core
type (
	// Resolver runs resolution calls against one metadata source.
	Resolver = core.Solver

	// Source is the read interface to package metadata.
	Source = core.Source

	// Dependency is one direct dependency edge of a package version.
	Dependency = core.Dependency

	// Candidate names one package to install and its specifier.
	Candidate = core.Candidate

	// PackageSelection pins one package to one version.
	PackageSelection = core.PackageSelection

	// Provenance classifies why a package appears in a plan.
	Provenance = core.Provenance

	// ResolutionResult is the outcome of one resolution call.
	ResolutionResult = core.ResolutionResult

	// Requirement is one parsed requirement line.
	Requirement = requirement.Requirement

	// Option configures a Resolver.
	Option = core.Option
)

// Re-export constants
const (
	ProvenanceExisting = core.ProvenanceExisting
	ProvenanceNew      = core.ProvenanceNew
	ProvenanceUpgrade  = core.ProvenanceUpgrade

	// DefaultMaxPackages caps the distinct packages a plan may reach.
	DefaultMaxPackages = core.DefaultMaxPackages

	// DefaultMaxQueue caps the length of the pending-target queue.
	DefaultMaxQueue = core.DefaultMaxQueue
)

// Re-export errors
var ErrNotFound = core.ErrNotFound

type (
	NotFoundError = core.NotFoundError
	ParseError    = requirement.ParseError
)

// New creates a Resolver reading metadata from source.
func New(source Source, opts ...Option) *Resolver {
	return core.NewSolver(source, opts...)
}

// WithMaxPackages caps the number of distinct packages a plan may reach.
var WithMaxPackages = core.WithMaxPackages

// WithMaxQueue caps the length of the pending-target queue.
var WithMaxQueue = core.WithMaxQueue

// WithLogger sets the logger for search tracing.
var WithLogger = core.WithLogger

// NormalizeName canonicalizes a package name: lowercased, runs of
// underscores, dots, and hyphens collapsed to a single hyphen, whitespace
// trimmed.
func NormalizeName(name string) string {
	return requirement.NormalizeName(name)
}

// ParseRequirement parses one requirement line such as
// "requests[security]>=2.31; python_version >= '3.8'".
func ParseRequirement(line string) (Requirement, error) {
	return requirement.Parse(line)
}

// ParseRequirements parses requirement-file lines, skipping blank lines and
// comments.
func ParseRequirements(lines []string) ([]Requirement, error) {
	return requirement.ParseLines(lines)
}

// CompareVersions orders two version strings: -1, 0, or 1. Versions that do
// not parse under the release versioning scheme order after every
// well-formed version and lexicographically among themselves.
func CompareVersions(a, b string) int {
	return pyver.CompareStrings(a, b)
}

// SortVersions returns the versions ordered newest first.
func SortVersions(versions []string) []string {
	return pyver.SortDescending(versions)
}

// MatchesSpecifier reports whether version satisfies the specifier. An
// empty specifier matches every version.
func MatchesSpecifier(spec, version string) (bool, error) {
	s, err := pyver.ParseSpecifier(spec)
	if err != nil {
		return false, err
	}
	return s.Match(version), nil
}
