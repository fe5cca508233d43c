package lockfile_test

import (
	"bytes"
	"testing"

	"github.com/pipg-project/pipg/internal/lockfile"
	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/resolution"
)

func TestRoundTrip(t *testing.T) {
	doc := lockfile.Document{
		Version:        1,
		Revision:       0,
		RequiresPython: ">=3.9",
		Package: []lockfile.Package{
			{
				Name:    "requests",
				Version: "2.32.3",
				Source:  lockfile.Source{Kind: "registry", Registry: "https://pypi.org/simple"},
				Dependencies: []lockfile.Dependency{
					{Name: "certifi", Version: "2024.8.30"},
					{Name: "idna", Version: "3.10"},
				},
				Wheels: []lockfile.WheelFile{
					{URL: "https://files.pythonhosted.org/requests-2.32.3-py3-none-any.whl", Hash: "sha256:abc", Size: 64928},
				},
				Metadata: lockfile.Metadata{RequiresDist: []string{"certifi>=2017.4.17", "idna>=2.5,<4"}},
			},
			{
				Name:    "certifi",
				Version: "2024.8.30",
				Source:  lockfile.Source{Kind: "registry", Registry: "https://pypi.org/simple"},
				Metadata: lockfile.Metadata{},
			},
			{
				Name:    "idna",
				Version: "3.10",
				Source:  lockfile.Source{Kind: "registry", Registry: "https://pypi.org/simple"},
				Metadata: lockfile.Metadata{},
			},
		},
	}

	encoded, err := lockfile.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := lockfile.Unmarshal(encoded)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	reencoded, err := lockfile.Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal (re-encode): %v", err)
	}

	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("round-trip not byte-identical:\n--- first ---\n%s\n--- second ---\n%s", encoded, reencoded)
	}
}

func TestFromGraphSortsPackagesByName(t *testing.T) {
	u := marker.NewUniverse()
	b := resolution.NewBuilder(u)

	v1, err := pep440.Parse("1.0")
	if err != nil {
		t.Fatalf("pep440.Parse: %v", err)
	}

	zebra := b.AddNode(resolution.NodeKey{Name: "zebra", Version: "1.0"}, v1, nil, false)
	alpha := b.AddNode(resolution.NodeKey{Name: "alpha", Version: "1.0"}, v1, nil, false)

	b.AddRootEdge(zebra, marker.TrueUniversal(u))
	b.AddRootEdge(alpha, marker.TrueUniversal(u))

	g, err := b.Finalize(resolution.GlobalConflict{Marker: u.TrueConflict()}, true)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	sources := map[int]lockfile.Source{}
	for _, n := range g.Nodes {
		sources[n.Index] = lockfile.Source{Kind: "registry"}
	}

	doc := lockfile.FromGraph(g, sources, nil, nil, "", "", nil)

	if len(doc.Package) != 2 || doc.Package[0].Name != "alpha" || doc.Package[1].Name != "zebra" {
		t.Fatalf("expected packages sorted alphabetically, got %+v", doc.Package)
	}
}
