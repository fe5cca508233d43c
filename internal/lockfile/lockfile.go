// Package lockfile serializes a resolution.Graph into a deterministic
// TOML document using pelletier/go-toml/v2. go-toml/v2 encodes struct fields in
// declaration order and maps in sorted key order, so determinism comes
// from sorting Packages before marshaling rather than from any encoder
// option.
package lockfile

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/resolution"
)

// SchemaVersion is the lockfile document's schema version. Bumped only on
// a breaking field change.
const SchemaVersion = 1

// SchemaRevision is bumped on a backward-compatible field addition.
const SchemaRevision = 0

// Document is the root of the lockfile TOML document.
type Document struct {
	Version           int      `toml:"version"`
	Revision          int      `toml:"revision"`
	RequiresPython    string   `toml:"requires-python,omitempty"`
	ResolutionMarkers []string `toml:"resolution-markers,omitempty"`
	ExcludeNewer      string   `toml:"exclude-newer,omitempty"`

	Package []Package `toml:"package"`
}

// Source describes where a package's distribution came from: exactly one
// field is populated, selected by Kind.
type Source struct {
	Kind     string `toml:"kind"` // registry | url | git | path | directory | editable | virtual
	Registry string `toml:"registry,omitempty"`
	URL      string `toml:"url,omitempty"`
	Git      string `toml:"git,omitempty"`
	Commit   string `toml:"commit,omitempty"`
	Path     string `toml:"path,omitempty"`
}

// Dependency is one edge out of a package, with its simplified marker
// serialized only when it isn't TRUE; empty markers are omitted.
type Dependency struct {
	Name    string `toml:"name"`
	Version string `toml:"version,omitempty"`
	Marker  string `toml:"marker,omitempty"`
}

// WheelFile is one wheel descriptor within a package block.
type WheelFile struct {
	URL        string `toml:"url"`
	Hash       string `toml:"hash"`
	Size       int64  `toml:"size"`
	UploadTime string `toml:"upload-time,omitempty"`
}

// SdistFile is the optional source distribution descriptor.
type SdistFile struct {
	URL        string `toml:"url"`
	Hash       string `toml:"hash"`
	Size       int64  `toml:"size"`
	UploadTime string `toml:"upload-time,omitempty"`
}

// Metadata records the original requires-dist verbatim, for validation
// against the input project.
type Metadata struct {
	RequiresDist []string `toml:"requires-dist,omitempty"`
}

// BuildDependency is one entry of a package's optional build-dependencies
// section: the build backend requirements a source build resolved.
type BuildDependency struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Package is one resolution-graph node, serialized as a `[[package]]` TOML
// array-of-tables entry.
type Package struct {
	Name              string            `toml:"name"`
	Version           string            `toml:"version"`
	Source            Source            `toml:"source"`
	Dependencies      []Dependency      `toml:"dependencies,omitempty"`
	BuildDependencies []BuildDependency `toml:"build-dependencies,omitempty"`
	Sdist             *SdistFile        `toml:"sdist,omitempty"`
	Wheels            []WheelFile       `toml:"wheel,omitempty"`
	Metadata          Metadata          `toml:"metadata"`
}

// FromGraph builds a Document from a finalized resolution graph. sources
// supplies each node's Source descriptor by node index, and wheels/sdists
// supply the file listings; both are keyed this way rather than carried on
// resolution.Node since that package has no knowledge of install sources.
func FromGraph(g *resolution.Graph, sources map[int]Source, wheels map[int][]WheelFile, sdists map[int]*SdistFile, requiresPython string, excludeNewer string, resolutionMarkers []string) Document {
	doc := Document{
		Version:           SchemaVersion,
		Revision:          SchemaRevision,
		RequiresPython:    requiresPython,
		ExcludeNewer:      excludeNewer,
		ResolutionMarkers: resolutionMarkers,
	}

	depsByNode := make(map[int][]Dependency)

	for _, e := range g.Edges {
		if e.From < 0 {
			continue
		}

		toNode := g.Nodes[e.To]

		dep := Dependency{
			Name:    toNode.Key.Name,
			Version: toNode.Version.String(),
		}

		if !e.Marker.IsTrue() {
			dep.Marker = e.Marker.String()
		}

		depsByNode[e.From] = append(depsByNode[e.From], dep)
	}

	for _, n := range g.Nodes {
		deps := depsByNode[n.Index]
		sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

		pkg := Package{
			Name:         n.Key.Name,
			Version:      n.Version.String(),
			Source:       sources[n.Index],
			Dependencies: deps,
			Sdist:        sdists[n.Index],
			Wheels:       wheels[n.Index],
			Metadata:     Metadata{RequiresDist: n.RequiresDist},
		}

		doc.Package = append(doc.Package, pkg)
	}

	sort.SliceStable(doc.Package, func(i, j int) bool {
		return doc.Package[i].Name < doc.Package[j].Name
	})

	return doc
}

// Marshal serializes doc to its canonical TOML form.
func Marshal(doc Document) ([]byte, error) {
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling lockfile: %w", err)
	}

	return out, nil
}

// Unmarshal parses a lockfile document from raw TOML bytes.
func Unmarshal(raw []byte) (Document, error) {
	var doc Document

	if err := toml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing lockfile: %w", err)
	}

	return doc, nil
}

// ParseMarker parses a serialized dependency marker string back into a
// marker.UniversalMarker's environment component, for callers that need to
// re-evaluate a loaded lockfile (e.g. `pipg sync`'s install-plan filter).
func ParseMarker(u *marker.Universe, raw string) (marker.MarkerTree, error) {
	if raw == "" {
		return u.TrueTree(), nil
	}

	return u.Parse(raw)
}
