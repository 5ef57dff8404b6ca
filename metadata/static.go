package metadata

import (
	"context"
	"slices"
	"sync"

	"github.com/git-pkgs/resolve"
)

// Static is an in-memory metadata source with a fixed set of packages. It
// is intended for tests and offline fixtures, and is safe for concurrent
// use.
type Static struct {
	mu       sync.RWMutex
	versions map[string][]string
	deps     map[string][]resolve.Dependency
}

// NewStatic creates an empty in-memory source.
func NewStatic() *Static {
	return &Static{
		versions: make(map[string][]string),
		deps:     make(map[string][]resolve.Dependency),
	}
}

// AddVersions registers released versions of a package.
func (s *Static) AddVersions(name string, versions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = resolve.NormalizeName(name)
	s.versions[name] = append(s.versions[name], versions...)
}

// SetRequirements sets the direct dependency edges of one package version.
func (s *Static) SetRequirements(name, version string, deps ...resolve.Dependency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps[depKey(resolve.NormalizeName(name), version)] = slices.Clone(deps)
}

// ListVersions implements resolve.Source. An unregistered package yields an
// empty result, which the resolver treats as "package unknown".
func (s *Static) ListVersions(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.versions[resolve.NormalizeName(name)]), nil
}

// ListRequirements implements resolve.Source.
func (s *Static) ListRequirements(ctx context.Context, name, version string) ([]resolve.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.deps[depKey(resolve.NormalizeName(name), version)]), nil
}

func depKey(name, version string) string {
	return name + "@" + version
}
