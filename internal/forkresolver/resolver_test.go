package forkresolver

import (
	"context"
	"testing"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
)

// fakeProvider serves a fixed, in-memory catalog: name -> ordered versions.
type fakeProvider struct {
	versions map[string][]PackageVersion
}

func (f *fakeProvider) Versions(_ context.Context, name string) ([]PackageVersion, error) {
	return f.versions[name], nil
}

func mustVersion(t *testing.T, s string) pep440.Version {
	t.Helper()

	v, err := pep440.Parse(s)
	if err != nil {
		t.Fatalf("parsing version %q: %v", s, err)
	}

	return v
}

func TestResolveLinear(t *testing.T) {
	provider := &fakeProvider{versions: map[string][]PackageVersion{
		"a": {{Version: mustVersion(t, "1.0.0"), RequiresDist: []string{"b>=2.0"}}},
		"b": {{Version: mustVersion(t, "2.0.0")}, {Version: mustVersion(t, "1.0.0")}},
	}}

	u := marker.NewUniverse()
	r := New(provider, u)

	root, err := ParseRequirement(u, "a")
	if err != nil {
		t.Fatalf("ParseRequirement: %v", err)
	}

	resolutions, err := r.Resolve(context.Background(), []Requirement{root})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(resolutions) != 1 {
		t.Fatalf("expected 1 fork, got %d", len(resolutions))
	}

	res := resolutions[0]
	if !res.ForkMarker.IsTrue() {
		t.Errorf("expected the single fork to cover TRUE, got %s", res.ForkMarker.String())
	}

	names := map[string]string{}
	for _, n := range res.Nodes {
		names[n.Key.Name] = n.Version.String()
	}

	if names["a"] != "1.0.0" {
		t.Errorf("a = %q, want 1.0.0", names["a"])
	}

	if names["b"] != "2.0.0" {
		t.Errorf("b = %q, want 2.0.0", names["b"])
	}
}

// TestResolvePlatformFork: root requires A at different versions under
// sys_platform=='linux' and
// sys_platform=='darwin' (mutually exclusive platforms), so resolution
// must fork into exactly two forks with disjoint markers and two distinct
// A nodes.
func TestResolvePlatformFork(t *testing.T) {
	provider := &fakeProvider{versions: map[string][]PackageVersion{
		"a": {{Version: mustVersion(t, "1.0.0")}, {Version: mustVersion(t, "2.0.0")}},
	}}

	u := marker.NewUniverse()
	r := New(provider, u)

	linuxReq, err := ParseRequirement(u, `a==1.0.0; sys_platform == "linux"`)
	if err != nil {
		t.Fatalf("ParseRequirement(linux): %v", err)
	}

	darwinReq, err := ParseRequirement(u, `a==2.0.0; sys_platform == "darwin"`)
	if err != nil {
		t.Fatalf("ParseRequirement(darwin): %v", err)
	}

	resolutions, err := r.Resolve(context.Background(), []Requirement{linuxReq, darwinReq})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(resolutions) != 2 {
		t.Fatalf("expected 2 forks, got %d", len(resolutions))
	}

	versions := map[string]bool{}

	for _, res := range resolutions {
		for _, n := range res.Nodes {
			if n.Key.Name == "a" {
				versions[n.Version.String()] = true
			}
		}
	}

	if !versions["1.0.0"] || !versions["2.0.0"] {
		t.Fatalf("expected both a versions across forks, got %v", versions)
	}

	if !resolutions[0].ForkMarker.IsDisjoint(resolutions[1].ForkMarker) {
		t.Errorf("expected the two forks' markers to be disjoint")
	}
}

func TestResolveExtras(t *testing.T) {
	provider := &fakeProvider{versions: map[string][]PackageVersion{
		"a": {{Version: mustVersion(t, "1.0.0"), RequiresDist: []string{`b>=1.0; extra == "fast"`}}},
		"b": {{Version: mustVersion(t, "1.0.0")}},
	}}

	u := marker.NewUniverse()
	r := New(provider, u)

	root, err := ParseRequirement(u, "a[fast]")
	if err != nil {
		t.Fatalf("ParseRequirement: %v", err)
	}

	resolutions, err := r.Resolve(context.Background(), []Requirement{root})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(resolutions) != 1 {
		t.Fatalf("expected 1 fork, got %d", len(resolutions))
	}

	foundExtraNode := false
	foundB := false

	for _, n := range resolutions[0].Nodes {
		if n.Key.Name == "a" && n.Key.Extra == "fast" {
			foundExtraNode = true
		}

		if n.Key.Name == "b" {
			foundB = true
		}
	}

	if !foundExtraNode {
		t.Errorf("expected an a[fast] node")
	}

	if !foundB {
		t.Errorf("expected b to be pulled in via the fast extra")
	}
}
