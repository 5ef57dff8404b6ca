package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/git-pkgs/resolve/internal/pyver"
	"github.com/git-pkgs/resolve/internal/requirement"
)

// Search caps. The search is exponential in the worst case; the caps trade
// completeness for a termination guarantee.
const (
	DefaultMaxPackages = 800
	DefaultMaxQueue    = 2000
)

// Solver computes installation and upgrade plans by depth-first backtracking
// search over package metadata. A Solver is safe for concurrent use as long
// as its Source is; individual resolution calls share no mutable state.
type Solver struct {
	source      Source
	maxPackages int
	maxQueue    int
	logger      *slog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithMaxPackages caps the number of distinct packages a plan may reach.
func WithMaxPackages(n int) Option {
	return func(s *Solver) { s.maxPackages = n }
}

// WithMaxQueue caps the length of the pending-target queue.
func WithMaxQueue(n int) Option {
	return func(s *Solver) { s.maxQueue = n }
}

// WithLogger sets the logger for search tracing. Tracing is at Debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// NewSolver creates a Solver reading metadata from source.
func NewSolver(source Source, opts ...Option) *Solver {
	s := &Solver{
		source:      source,
		maxPackages: DefaultMaxPackages,
		maxQueue:    DefaultMaxQueue,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

type visitKey struct {
	name string
	spec string
}

// Resolve runs the search for the given environment snapshot and targets.
// Environment entries with an empty version are ignored. The returned error
// is non-nil only for metadata query failures; unsatisfiable constraints are
// reported as conflicts in the result.
func (s *Solver) Resolve(ctx context.Context, env map[string]string, targets []Target) (ResolutionResult, error) {
	plan := make(map[string]PackageSelection, len(env))
	for name, ver := range env {
		if ver == "" {
			continue
		}
		n := requirement.NormalizeName(name)
		plan[n] = PackageSelection{Name: n, Version: ver, Provenance: ProvenanceExisting}
	}

	queue := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Name = requirement.NormalizeName(t.Name)
		queue = append(queue, t)
	}

	ok, final, conflicts, err := s.search(ctx, queue, plan, map[visitKey]struct{}{})
	if err != nil {
		return ResolutionResult{}, err
	}
	return ResolutionResult{OK: ok, Plan: final, Conflicts: conflicts}, nil
}

// search expands one node of the search tree. plan, queue, and visited are
// never mutated in place: each branch gets its own copies, so sibling
// branches cannot observe each other's tentative assignments.
func (s *Solver) search(ctx context.Context, queue []Target, plan map[string]PackageSelection, visited map[visitKey]struct{}) (bool, map[string]PackageSelection, []string, error) {
	if len(plan) > s.maxPackages {
		return false, plan, []string{fmt.Sprintf("package count exceeds limit %d", s.maxPackages)}, nil
	}
	if len(queue) == 0 {
		return true, plan, nil, nil
	}
	if len(queue) > s.maxQueue {
		return false, plan, []string{fmt.Sprintf("queue length exceeds limit %d", s.maxQueue)}, nil
	}

	head, rest := queue[0], queue[1:]
	key := visitKey{name: head.Name, spec: head.Spec.String()}
	if _, seen := visited[key]; seen {
		return s.search(ctx, rest, plan, visited)
	}
	visited = maps.Clone(visited)
	visited[key] = struct{}{}

	versions, err := s.source.ListVersions(ctx, head.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, nil, nil, fmt.Errorf("list versions of %s: %w", head.Name, err)
	}
	if len(versions) == 0 {
		return false, plan, []string{fmt.Sprintf("%s: no versions available", head.Name)}, nil
	}

	candidates := orderCandidates(head, versions, plan)
	if len(candidates) == 0 {
		return false, plan, []string{fmt.Sprintf("%s: no version satisfies %s", head.Name, head.Spec)}, nil
	}

	// Conflicts from failed candidate branches are kept, in order, so the
	// caller sees the terminal cause (for example the dependency whose
	// specifier nothing satisfies) and not just the summary line.
	var conflicts []string
	for _, cand := range candidates {
		s.logger.Debug("trying candidate",
			"package", head.Name, "version", cand, "tag", head.Tag, "queue", len(rest))

		nextPlan := maps.Clone(plan)
		nextPlan[head.Name] = PackageSelection{
			Name:       head.Name,
			Version:    cand,
			Provenance: classify(head.Name, cand, plan),
		}

		deps, err := s.source.ListRequirements(ctx, head.Name, cand)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// A listed release with no requirement metadata has no edges.
				deps = nil
			} else {
				return false, nil, nil, fmt.Errorf("list requirements of %s %s: %w", head.Name, cand, err)
			}
		}

		nextQueue := slices.Clone(rest)
		for _, dep := range deps {
			if requirement.MentionsExtra(dep.Marker) {
				continue
			}
			spec, err := pyver.ParseSpecifier(dep.Specifier)
			if err != nil {
				return false, nil, nil, fmt.Errorf("requirements of %s %s: %w", head.Name, cand, err)
			}
			nextQueue = append(nextQueue, Target{
				Name: requirement.NormalizeName(dep.Name),
				Spec: spec,
				Tag:  "dep-of-" + head.Name,
			})
		}

		ok, final, confs, err := s.search(ctx, nextQueue, nextPlan, visited)
		if err != nil {
			return false, nil, nil, err
		}
		if ok {
			// first success wins
			return true, final, nil, nil
		}
		conflicts = append(conflicts, confs...)
	}

	conflicts = append(conflicts, fmt.Sprintf("%s: all candidate versions lead to downstream conflicts", head.Name))
	return false, plan, conflicts, nil
}

// orderCandidates builds the ordered candidate list for a target: all known
// versions newest first when nothing constrains the choice, only matching
// versions oldest first when something does (the minimal-upgrade bias), and
// an already-planned version that still satisfies the specifier moved ahead
// of everything else.
func orderCandidates(t Target, versions []string, plan map[string]PackageSelection) []string {
	var cands []string
	if t.Spec.Empty() {
		cands = pyver.SortDescending(versions)
	} else {
		for _, v := range pyver.SortAscending(versions) {
			if t.Spec.Match(v) {
				cands = append(cands, v)
			}
		}
	}

	if cur, ok := plan[t.Name]; ok && t.Spec.Match(cur.Version) {
		front := make([]string, 0, len(cands)+1)
		front = append(front, cur.Version)
		for _, v := range cands {
			if v != cur.Version {
				front = append(front, v)
			}
		}
		cands = front
	}
	return cands
}

// classify computes the provenance of assigning version to name, relative to
// the plan entering the step.
func classify(name, version string, incoming map[string]PackageSelection) Provenance {
	prev, ok := incoming[name]
	if !ok {
		return ProvenanceNew
	}
	if prev.Provenance == ProvenanceExisting && prev.Version == version {
		return ProvenanceExisting
	}
	return ProvenanceUpgrade
}
