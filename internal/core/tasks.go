package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/git-pkgs/resolve/internal/pyver"
	"github.com/git-pkgs/resolve/internal/requirement"
)

// CheckConflict reports whether candidate name/spec is compatible with the
// environment. An installed package whose version fails its requirement-file
// constraint is an immediate conflict, without invoking the search.
func (s *Solver) CheckConflict(ctx context.Context, env map[string]string, reqLines []string, name, spec string) (ResolutionResult, error) {
	targetSpec, err := pyver.ParseSpecifier(spec)
	if err != nil {
		return ResolutionResult{}, err
	}
	reqs, err := requirement.ParseLines(reqLines)
	if err != nil {
		return ResolutionResult{}, err
	}
	installed := normalizeEnv(env)

	for _, r := range reqs {
		if r.Specifier == "" {
			continue
		}
		cur, ok := installed[r.Name]
		if !ok {
			continue
		}
		rs, err := pyver.ParseSpecifier(r.Specifier)
		if err != nil {
			return ResolutionResult{}, err
		}
		if !rs.Match(cur) {
			return ResolutionResult{
				Plan: map[string]PackageSelection{},
				Conflicts: []string{
					fmt.Sprintf("%s: installed %s does not satisfy %s", r.Name, cur, r.Specifier),
				},
			}, nil
		}
	}

	return s.Resolve(ctx, installed, []Target{{Name: name, Spec: targetSpec, Tag: "target"}})
}

// PlanSingleUpgrade computes a plan that installs name under minSpec,
// upgrading already-installed packages where needed.
func (s *Solver) PlanSingleUpgrade(ctx context.Context, env map[string]string, reqLines []string, name, minSpec string) (ResolutionResult, error) {
	return s.PlanMultiUpgrade(ctx, env, reqLines, []Candidate{{Name: name, Specifier: minSpec}})
}

// PlanMultiUpgrade computes a plan that installs every candidate, upgrading
// already-installed packages where needed. Requirement-file constraints are
// enforced only for packages already present in the environment; treating
// the whole file as an install list would explode the search.
func (s *Solver) PlanMultiUpgrade(ctx context.Context, env map[string]string, reqLines []string, candidates []Candidate) (ResolutionResult, error) {
	reqs, err := requirement.ParseLines(reqLines)
	if err != nil {
		return ResolutionResult{}, err
	}
	installed := normalizeEnv(env)

	targets := make([]Target, 0, len(candidates)+len(reqs))
	for _, c := range candidates {
		spec, err := pyver.ParseSpecifier(c.Specifier)
		if err != nil {
			return ResolutionResult{}, err
		}
		targets = append(targets, Target{Name: c.Name, Spec: spec, Tag: "target"})
	}
	for _, r := range reqs {
		if r.Specifier == "" {
			continue
		}
		if _, ok := installed[r.Name]; !ok {
			continue
		}
		spec, err := pyver.ParseSpecifier(r.Specifier)
		if err != nil {
			return ResolutionResult{}, err
		}
		targets = append(targets, Target{Name: r.Name, Spec: spec, Tag: "req"})
	}

	return s.Resolve(ctx, installed, targets)
}

// normalizeEnv normalizes environment names and drops entries with no
// version, which are not really installed.
func normalizeEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for name, ver := range env {
		if strings.TrimSpace(ver) == "" {
			continue
		}
		out[requirement.NormalizeName(name)] = ver
	}
	return out
}
