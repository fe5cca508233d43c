package resolution_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/resolution"
)

func mustVersion(t *testing.T, s string) pep440.Version {
	t.Helper()

	v, err := pep440.Parse(s)
	if err != nil {
		t.Fatalf("pep440.Parse(%q): %v", s, err)
	}

	return v
}

func TestFinalizeComputesReachability(t *testing.T) {
	u := marker.NewUniverse()
	b := resolution.NewBuilder(u)

	linux, err := u.Parse(`sys_platform == "linux"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	darwin, err := u.Parse(`sys_platform == "darwin"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	aLinux := b.AddNode(resolution.NodeKey{Name: "a", Version: "1.0"}, mustVersion(t, "1.0"), nil, false)
	aDarwin := b.AddNode(resolution.NodeKey{Name: "a", Version: "2.0"}, mustVersion(t, "2.0"), nil, false)

	b.AddRootEdge(aLinux, marker.UniversalMarker{Env: linux, Conflict: u.TrueConflict()})
	b.AddRootEdge(aDarwin, marker.UniversalMarker{Env: darwin, Conflict: u.TrueConflict()})

	g, err := b.Finalize(resolution.GlobalConflict{Marker: u.TrueConflict()}, true)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(g.Nodes))
	}

	if !g.Nodes[0].Marker.Env.Equal(linux) {
		t.Errorf("node 0 marker = %q, want %q", g.Nodes[0].Marker.Env, linux)
	}

	if !g.Nodes[0].Marker.IsDisjoint(g.Nodes[1].Marker) {
		t.Error("expected platform-forked nodes to have disjoint markers")
	}
}

func TestFinalizePrunesFalseNodes(t *testing.T) {
	u := marker.NewUniverse()
	b := resolution.NewBuilder(u)

	unreached := b.AddNode(resolution.NodeKey{Name: "orphan", Version: "1.0"}, mustVersion(t, "1.0"), nil, false)
	_ = unreached

	reached := b.AddNode(resolution.NodeKey{Name: "live", Version: "1.0"}, mustVersion(t, "1.0"), nil, false)
	b.AddRootEdge(reached, marker.TrueUniversal(u))

	g, err := b.Finalize(resolution.GlobalConflict{Marker: u.TrueConflict()}, true)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if len(g.Nodes) != 1 || g.Nodes[0].Key.Name != "live" {
		t.Fatalf("expected only the reachable node to survive, got %+v", g.Nodes)
	}
}

func TestFinalizeRejectsOverlappingSameNameVersions(t *testing.T) {
	u := marker.NewUniverse()
	b := resolution.NewBuilder(u)

	v1 := b.AddNode(resolution.NodeKey{Name: "pkg", Version: "1.0"}, mustVersion(t, "1.0"), nil, false)
	v2 := b.AddNode(resolution.NodeKey{Name: "pkg", Version: "2.0"}, mustVersion(t, "2.0"), nil, false)

	b.AddRootEdge(v1, marker.TrueUniversal(u))
	b.AddRootEdge(v2, marker.TrueUniversal(u))

	if _, err := b.Finalize(resolution.GlobalConflict{Marker: u.TrueConflict()}, true); err == nil {
		t.Fatal("expected a conflicting-distributions error in strict mode")
	}

	b2 := resolution.NewBuilder(u)
	v1b := b2.AddNode(resolution.NodeKey{Name: "pkg", Version: "1.0"}, mustVersion(t, "1.0"), nil, false)
	v2b := b2.AddNode(resolution.NodeKey{Name: "pkg", Version: "2.0"}, mustVersion(t, "2.0"), nil, false)
	b2.AddRootEdge(v1b, marker.TrueUniversal(u))
	b2.AddRootEdge(v2b, marker.TrueUniversal(u))

	g, err := b2.Finalize(resolution.GlobalConflict{Marker: u.TrueConflict()}, false)
	if err != nil {
		t.Fatalf("Finalize (non-strict): %v", err)
	}

	found := false

	for _, d := range g.Diagnostics {
		if d.Kind == "conflicting-distributions" {
			found = true
		}
	}

	if !found {
		t.Error("expected a conflicting-distributions diagnostic in non-strict mode")
	}
}
