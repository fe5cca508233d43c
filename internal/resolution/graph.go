// Package resolution builds the final resolution graph from the forking
// resolver's per-fork outputs: a two-pass node/edge construction (nodes
// first, edges second, both keyed by integer index so nodes never hold
// pointers to each other) followed by marker-reachability propagation,
// conflict simplification, FALSE-node pruning, and the same-name
// disjointness validation.
package resolution

import (
	"fmt"
	"sort"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
)

// NodeKey identifies a resolution node: a package at a version, optionally
// under a specific extra or dependency group.
type NodeKey struct {
	Name    string
	Version string // pep440.Version.String(), so it participates in the key
	Extra   string
	Group   string
}

// Node is one package version in the resolution graph.
type Node struct {
	Key     NodeKey
	Version pep440.Version

	// Marker is the disjunction over all root->node path markers,
	// computed by Finalize.
	Marker marker.UniversalMarker

	RequiresDist []string // verbatim, for the lockfile's package.metadata
	Yanked       bool

	// Index is this node's position in Graph.Nodes, stable once assigned.
	Index int
}

// Edge is a dependency from one node to another, or from the synthetic
// root to a directly-required node.
type Edge struct {
	From int // -1 for edges from the synthetic root
	To   int
	Marker marker.UniversalMarker
}

// Diagnostic is a non-fatal finding attached to the graph: a yanked
// version, an unknown extra or group, a missing lower bound under
// `lowest`.
type Diagnostic struct {
	Kind    string
	Message string
}

// Graph is the finalized resolution output.
type Graph struct {
	Nodes       []Node
	Edges       []Edge
	Diagnostics []Diagnostic

	indexByKey map[NodeKey]int
}

// Builder accumulates nodes and edges across forks before Finalize
// performs the marker algebra: nodes first, edges second.
type Builder struct {
	u *marker.Universe

	nodes      []Node
	indexByKey map[NodeKey]int
	edges      []Edge
	diags      []Diagnostic
}

// NewBuilder creates an empty Builder sharing u, the marker interning arena
// every fork's markers were built against.
func NewBuilder(u *marker.Universe) *Builder {
	return &Builder{u: u, indexByKey: make(map[NodeKey]int)}
}

// AddNode registers key if not already present and returns its stable
// index. Subsequent calls for the same key return the same index; the
// first call's version/requiresDist/yanked fields win (forks are expected
// to agree on a single distribution per key).
func (b *Builder) AddNode(key NodeKey, version pep440.Version, requiresDist []string, yanked bool) int {
	if idx, ok := b.indexByKey[key]; ok {
		return idx
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Key:          key,
		Version:      version,
		RequiresDist: requiresDist,
		Yanked:       yanked,
		Index:        idx,
	})
	b.indexByKey[key] = idx

	if yanked {
		b.diags = append(b.diags, Diagnostic{
			Kind:    "yanked",
			Message: fmt.Sprintf("%s %s is yanked", key.Name, version),
		})
	}

	return idx
}

// AddRootEdge records a direct requirement from the synthetic root to to,
// applying under m (the requirement's universal marker within its fork).
// Called once per fork per direct requirement; duplicate (root, to) edges
// accumulate their markers via disjunction.
func (b *Builder) AddRootEdge(to int, m marker.UniversalMarker) {
	b.addEdge(-1, to, m)
}

// AddEdge records a dependency edge from -> to, applying under m.
func (b *Builder) AddEdge(from, to int, m marker.UniversalMarker) {
	b.addEdge(from, to, m)
}

func (b *Builder) addEdge(from, to int, m marker.UniversalMarker) {
	for i := range b.edges {
		if b.edges[i].From == from && b.edges[i].To == to {
			b.edges[i].Marker = b.edges[i].Marker.Or(m)

			return
		}
	}

	b.edges = append(b.edges, Edge{From: from, To: to, Marker: m})
}

// Diagnose attaches a non-fatal finding (unknown extra, unknown group,
// missing lower bound) to the eventual Graph.
func (b *Builder) Diagnose(kind, message string) {
	b.diags = append(b.diags, Diagnostic{Kind: kind, Message: message})
}

// GlobalConflict is conjoined into every edge and node marker at Finalize
// time, so declared extra/group conflicts constrain the whole graph.
type GlobalConflict struct {
	Marker marker.ConflictMarker
}

// Finalize computes marker reachability, conjoins the global conflict
// marker, prunes FALSE nodes, and validates same-name disjointness.
// strict controls whether a disjointness violation is a fatal error or a
// warning diagnostic.
func (b *Builder) Finalize(global GlobalConflict, strict bool) (*Graph, error) {
	reach := make([]marker.UniversalMarker, len(b.nodes))
	for i := range reach {
		reach[i] = marker.FalseUniversal(b.u)
	}

	// Edges are deduplicated and already carry the disjunction of every
	// fork's occurrence; path-marker reachability from the root
	// is the disjunction, over every incoming edge, of (predecessor
	// reachability AND edge marker). Since the graph is a DAG over
	// resolved versions (no node depends on an equal-or-earlier version
	// of itself), a single pass in edge-insertion order converges as
	// long as edges are processed in topological order; we approximate
	// this with a fixed-point relaxation bounded by the node count,
	// which is sufficient for the depths resolution graphs actually have.
	for pass := 0; pass < len(b.nodes)+1; pass++ {
		changed := false

		for _, e := range b.edges {
			var predMarker marker.UniversalMarker
			if e.From < 0 {
				predMarker = marker.TrueUniversal(b.u)
			} else {
				predMarker = reach[e.From]
			}

			contribution := predMarker.And(e.Marker)
			merged := reach[e.To].Or(contribution)

			if !merged.Equal(reach[e.To]) {
				reach[e.To] = merged
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	for i := range b.nodes {
		b.nodes[i].Marker = reach[i].And(marker.UniversalMarker{
			Env:      b.u.TrueTree(),
			Conflict: global.Marker,
		})
	}

	for i := range b.edges {
		b.edges[i].Marker = b.edges[i].Marker.And(marker.UniversalMarker{
			Env:      b.u.TrueTree(),
			Conflict: global.Marker,
		})
	}

	kept := make([]Node, 0, len(b.nodes))
	remap := make([]int, len(b.nodes))

	for i, n := range b.nodes {
		if n.Marker.IsFalse() {
			remap[i] = -1

			continue
		}

		remap[i] = len(kept)
		n.Index = len(kept)
		kept = append(kept, n)
	}

	var keptEdges []Edge

	for _, e := range b.edges {
		to := remap[e.To]
		if to < 0 {
			continue
		}

		from := -1

		if e.From >= 0 {
			from = remap[e.From]
			if from < 0 {
				continue
			}
		}

		keptEdges = append(keptEdges, Edge{From: from, To: to, Marker: e.Marker})
	}

	g := &Graph{Nodes: kept, Edges: keptEdges, Diagnostics: append([]Diagnostic(nil), b.diags...), indexByKey: make(map[NodeKey]int)}

	for _, n := range kept {
		g.indexByKey[n.Key] = n.Index
	}

	if err := validateSameNameDisjoint(g, strict); err != nil {
		return g, err
	}

	return g, nil
}

// validateSameNameDisjoint checks that any two same-name nodes at
// different versions apply under disjoint markers.
func validateSameNameDisjoint(g *Graph, strict bool) error {
	byName := make(map[string][]Node)

	for _, n := range g.Nodes {
		byName[n.Key.Name] = append(byName[n.Key.Name], n)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		versions := byName[name]

		for i := 0; i < len(versions); i++ {
			for j := i + 1; j < len(versions); j++ {
				a, b := versions[i], versions[j]
				if a.Version.Equal(b.Version) {
					continue
				}

				if !a.Marker.IsDisjoint(b.Marker) {
					msg := fmt.Sprintf("conflicting distributions: %s %s and %s %s are both reachable under overlapping markers", name, a.Version, name, b.Version)

					if strict {
						return fmt.Errorf("%s", msg)
					}

					g.Diagnostics = append(g.Diagnostics, Diagnostic{Kind: "conflicting-distributions", Message: msg})
				}
			}
		}
	}

	return nil
}

// NodeByKey looks up a finalized node's index by key.
func (g *Graph) NodeByKey(key NodeKey) (int, bool) {
	idx, ok := g.indexByKey[key]

	return idx, ok
}
