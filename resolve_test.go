package resolve_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/git-pkgs/resolve"
	"github.com/git-pkgs/resolve/metadata"
)

func TestCheckConflictSatisfiedInPlace(t *testing.T) {
	// numpy is already installed at a version that satisfies the target;
	// the plan keeps it untouched.
	src := metadata.NewStatic()
	src.AddVersions("numpy", "1.20.0", "1.24.0", "1.25.0")
	r := resolve.New(src)

	res, err := r.CheckConflict(context.Background(),
		map[string]string{"numpy": "1.24.0"}, nil, "numpy", ">=1.24.0")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	sel := res.Plan["numpy"]
	if sel.Version != "1.24.0" || sel.Provenance != resolve.ProvenanceExisting {
		t.Errorf("numpy = %+v, want 1.24.0/existing", sel)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("conflicts on success: %v", res.Conflicts)
	}
}

func TestCheckConflictLeavesEnvironmentAlone(t *testing.T) {
	src := metadata.NewStatic()
	src.AddVersions("flask", "2.0.0", "3.0.0")
	src.AddVersions("pandas", "1.5.3")
	r := resolve.New(src)

	env := map[string]string{"pandas": "1.5.3"}
	res, err := r.CheckConflict(context.Background(), env, nil, "flask", ">=2.0.0")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	// packages the check did not target keep their environment entry
	if sel := res.Plan["pandas"]; sel.Version != "1.5.3" || sel.Provenance != resolve.ProvenanceExisting {
		t.Errorf("pandas = %+v, want 1.5.3/existing", sel)
	}
}

func TestCheckConflictRequirementViolation(t *testing.T) {
	// The requirement file pins pydantic, the environment disagrees; this
	// fails before any search runs.
	src := metadata.NewStatic()
	r := resolve.New(src)

	res, err := r.CheckConflict(context.Background(),
		map[string]string{"pydantic": "1.10.0"},
		[]string{"pydantic==1.10.9"},
		"anything", "")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if res.OK {
		t.Fatal("expected conflict")
	}
	if len(res.Conflicts) != 1 || !strings.Contains(res.Conflicts[0], "pydantic") {
		t.Errorf("conflicts = %v, want one naming pydantic", res.Conflicts)
	}
}

func TestPlanSingleUpgradeMinimalBump(t *testing.T) {
	// numpy 1.20.0 installed, target >=1.24.0, no further dependencies:
	// the oldest satisfying candidate wins and is classified as an upgrade.
	src := metadata.NewStatic()
	src.AddVersions("numpy", "1.20.0", "1.24.0", "1.25.0")
	r := resolve.New(src)

	res, err := r.PlanSingleUpgrade(context.Background(),
		map[string]string{"numpy": "1.20.0"}, nil, "numpy", ">=1.24.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	sel := res.Plan["numpy"]
	if sel.Version != "1.24.0" || sel.Provenance != resolve.ProvenanceUpgrade {
		t.Errorf("numpy = %+v, want 1.24.0/upgrade", sel)
	}
}

func TestPlanSingleUpgradeUnknownPackage(t *testing.T) {
	r := resolve.New(metadata.NewStatic())

	res, err := r.PlanSingleUpgrade(context.Background(), nil, nil, "no-such-thing", ">=1.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure")
	}
	found := false
	for _, c := range res.Conflicts {
		if strings.Contains(c, "no-such-thing") && strings.Contains(c, "no versions available") {
			found = true
		}
	}
	if !found {
		t.Errorf("conflicts = %v, want one citing no-such-thing", res.Conflicts)
	}
}

func TestPlanSingleUpgradeEmptyIntersection(t *testing.T) {
	// pkg 1.0.0 requires dep in an empty range; the conflict cites dep.
	src := metadata.NewStatic()
	src.AddVersions("pkg", "1.0.0")
	src.AddVersions("dep", "1.9.0", "2.5.0")
	src.SetRequirements("pkg", "1.0.0", resolve.Dependency{Name: "dep", Specifier: ">=2.0,<2.0"})
	r := resolve.New(src)

	res, err := r.PlanSingleUpgrade(context.Background(), nil, nil, "pkg", "==1.0.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure")
	}
	found := false
	for _, c := range res.Conflicts {
		if strings.Contains(c, "dep") && strings.Contains(c, "no version satisfies") {
			found = true
		}
	}
	if !found {
		t.Errorf("conflicts = %v, want one citing dep", res.Conflicts)
	}
}

func TestExtraScopedEdgesAreSuppressed(t *testing.T) {
	// uvicorn is only needed for the "all" extra; it must never be
	// enqueued, so its absence from the registry cannot fail the plan.
	src := metadata.NewStatic()
	src.AddVersions("fastapi", "0.110.0")
	src.AddVersions("starlette", "0.36.3")
	src.SetRequirements("fastapi", "0.110.0",
		resolve.Dependency{Name: "starlette", Specifier: ">=0.36.3"},
		resolve.Dependency{Name: "uvicorn", Specifier: ">=0.12.0", Marker: "extra == 'all'"},
	)
	r := resolve.New(src)

	res, err := r.PlanSingleUpgrade(context.Background(), nil, nil, "fastapi", ">=0.110.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	if _, ok := res.Plan["uvicorn"]; ok {
		t.Error("extra-scoped dependency was resolved")
	}
	if sel := res.Plan["starlette"]; sel.Provenance != resolve.ProvenanceNew {
		t.Errorf("starlette = %+v, want provenance new", sel)
	}
}

func TestRequirementsConstrainOnlyInstalledPackages(t *testing.T) {
	// requests appears in the requirement file but is not installed, so it
	// must not become a target; pandas is installed and gets upgraded to
	// satisfy its file constraint.
	src := metadata.NewStatic()
	src.AddVersions("pandas", "1.5.3", "2.0.0")
	src.AddVersions("flask", "3.0.0")
	r := resolve.New(src)

	res, err := r.PlanSingleUpgrade(context.Background(),
		map[string]string{"pandas": "1.5.3"},
		[]string{"requests>=2.31.0", "pandas>=2.0"},
		"flask", ">=3.0.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	if _, ok := res.Plan["requests"]; ok {
		t.Error("uninstalled requirement-file entry became a target")
	}
	if sel := res.Plan["pandas"]; sel.Version != "2.0.0" || sel.Provenance != resolve.ProvenanceUpgrade {
		t.Errorf("pandas = %+v, want 2.0.0/upgrade", sel)
	}
}

func TestPlanMultiUpgrade(t *testing.T) {
	src := metadata.NewStatic()
	src.AddVersions("fastapi", "0.109.0", "0.110.0")
	src.AddVersions("uvicorn", "0.22.0", "0.27.0")
	src.AddVersions("starlette", "0.36.3")
	src.SetRequirements("fastapi", "0.109.0",
		resolve.Dependency{Name: "starlette", Specifier: ">=0.36.3"})
	r := resolve.New(src)

	res, err := r.PlanMultiUpgrade(context.Background(), nil, nil, []resolve.Candidate{
		{Name: "fastapi", Specifier: ">=0.100.0"},
		{Name: "uvicorn", Specifier: ">=0.22.0"},
	})
	if err != nil {
		t.Fatalf("PlanMultiUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	for _, name := range []string{"fastapi", "uvicorn", "starlette"} {
		if sel, ok := res.Plan[name]; !ok || sel.Provenance != resolve.ProvenanceNew {
			t.Errorf("%s = %+v, want provenance new", name, res.Plan[name])
		}
	}
	// oldest satisfying candidates
	if res.Plan["fastapi"].Version != "0.109.0" || res.Plan["uvicorn"].Version != "0.22.0" {
		t.Errorf("unexpected versions: %v", res.Plan)
	}
}

func TestUnconstrainedDependencyPrefersLatest(t *testing.T) {
	// An empty specifier on a dependency edge biases toward the newest
	// release even when an older one would do.
	src := metadata.NewStatic()
	src.AddVersions("app", "1.0")
	src.AddVersions("lib", "1.0", "2.0", "3.0")
	src.SetRequirements("app", "1.0", resolve.Dependency{Name: "lib"})
	r := resolve.New(src)

	res, err := r.PlanSingleUpgrade(context.Background(), nil, nil, "app", "==1.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	if res.Plan["lib"].Version != "3.0" {
		t.Errorf("lib = %+v, want 3.0", res.Plan["lib"])
	}
}

func TestPlanSatisfiesEveryTarget(t *testing.T) {
	src := metadata.NewStatic()
	src.AddVersions("a", "1.0", "1.5", "2.0")
	src.AddVersions("b", "0.9", "1.1")
	src.SetRequirements("a", "1.5", resolve.Dependency{Name: "b", Specifier: ">=1.0"})
	r := resolve.New(src)

	res, err := r.PlanMultiUpgrade(context.Background(), nil, nil, []resolve.Candidate{
		{Name: "a", Specifier: ">=1.2,<2.0"},
	})
	if err != nil {
		t.Fatalf("PlanMultiUpgrade failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected success, conflicts: %v", res.Conflicts)
	}
	for spec, name := range map[string]string{">=1.2,<2.0": "a", ">=1.0": "b"} {
		ok, err := resolve.MatchesSpecifier(spec, res.Plan[name].Version)
		if err != nil {
			t.Fatalf("MatchesSpecifier failed: %v", err)
		}
		if !ok {
			t.Errorf("%s@%s violates %s", name, res.Plan[name].Version, spec)
		}
	}
}

func TestResolutionIsIdempotent(t *testing.T) {
	src := metadata.NewStatic()
	src.AddVersions("numpy", "1.20.0", "1.24.0", "1.25.0")
	src.AddVersions("pandas", "1.5.3", "2.0.0")
	src.SetRequirements("pandas", "2.0.0", resolve.Dependency{Name: "numpy", Specifier: ">=1.23"})
	r := resolve.New(src)
	env := map[string]string{"numpy": "1.20.0"}

	first, err := r.PlanSingleUpgrade(context.Background(), env, nil, "pandas", ">=2.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	second, err := r.PlanSingleUpgrade(context.Background(), env, nil, "pandas", ">=2.0")
	if err != nil {
		t.Fatalf("PlanSingleUpgrade failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestMalformedRequirementLineIsRejected(t *testing.T) {
	r := resolve.New(metadata.NewStatic())
	_, err := r.PlanSingleUpgrade(context.Background(), nil, []string{"???"}, "numpy", "")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestVersionHelpers(t *testing.T) {
	if resolve.CompareVersions("1.2", "1.10") >= 0 {
		t.Error("1.2 should order before 1.10")
	}
	if resolve.CompareVersions("junk", "1.0") <= 0 {
		t.Error("malformed versions order after well-formed ones")
	}
	sorted := resolve.SortVersions([]string{"1.0", "2.0", "1.5"})
	if sorted[0] != "2.0" {
		t.Errorf("SortVersions = %v, want newest first", sorted)
	}
	if resolve.NormalizeName("Foo__Bar") != "foo-bar" {
		t.Error("NormalizeName mismatch")
	}
}
