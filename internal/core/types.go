// Package core implements the backtracking resolution engine and its
// orchestration entry points.
package core

import (
	"context"
	"fmt"

	"github.com/git-pkgs/resolve/internal/pyver"
)

// Provenance classifies why a package appears in a plan.
type Provenance string

const (
	// ProvenanceExisting means the selected version is the one the
	// environment snapshot already had.
	ProvenanceExisting Provenance = "existing"
	// ProvenanceNew means the package was absent from the environment.
	ProvenanceNew Provenance = "new"
	// ProvenanceUpgrade means the package was installed at a different
	// version than the one selected.
	ProvenanceUpgrade Provenance = "upgrade"
)

// PackageSelection pins one package to one version.
type PackageSelection struct {
	Name       string
	Version    string
	Provenance Provenance
}

// PURL returns the package-url form of the selection.
func (s PackageSelection) PURL() string {
	return fmt.Sprintf("pkg:pypi/%s@%s", s.Name, s.Version)
}

// Target is a pending (package, specifier) obligation the search must
// satisfy. Tag records why the constraint exists ("target", "req", or
// "dep-of-<name>") and is diagnostic only.
type Target struct {
	Name string
	Spec pyver.Specifier
	Tag  string
}

// Dependency is one direct dependency edge of a package version.
type Dependency struct {
	Name      string
	Specifier string
	Marker    string
}

// Candidate names one package the caller wants installed, with the
// specifier it must satisfy.
type Candidate struct {
	Name      string
	Specifier string
}

// Source is the read interface to package metadata. Implementations must be
// safe for concurrent use and must keep "package unknown" (an empty result
// or an error wrapping ErrNotFound) distinct from "query failed" (any other
// error).
type Source interface {
	// ListVersions returns every known released version of a package.
	ListVersions(ctx context.Context, name string) ([]string, error)

	// ListRequirements returns the direct dependency edges of exactly one
	// (name, version) pair.
	ListRequirements(ctx context.Context, name, version string) ([]Dependency, error)
}

// ResolutionResult is the outcome of one resolution call. On success Plan
// covers every package touched during the search and Conflicts is empty; on
// failure Conflicts names what blocked resolution.
type ResolutionResult struct {
	OK        bool
	Plan      map[string]PackageSelection
	Conflicts []string
}
