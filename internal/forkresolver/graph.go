package forkresolver

import (
	"fmt"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/resolution"
)

// ToGraph merges every fork's Resolution into a resolution.Graph via the
// two-pass resolution.Builder: nodes from every fork first, then edges,
// so a node or edge that appears in more than one fork is deduplicated
// and its applicability combined by disjunction rather than duplicated.
// diagnoseLowerBounds additionally flags dependency specifiers with no
// lower bound, the `lowest`-mode warning.
func ToGraph(u *marker.Universe, resolutions []Resolution, global resolution.GlobalConflict, strict, diagnoseLowerBounds bool) (*resolution.Graph, error) {
	b := resolution.NewBuilder(u)

	index := make(map[resolution.NodeKey]int)

	for _, res := range resolutions {
		for _, n := range res.Nodes {
			if _, seen := index[n.Key]; !seen && diagnoseLowerBounds {
				for _, raw := range n.RequiresDist {
					depReq, err := ParseRequirement(u, raw)
					if err != nil {
						continue
					}

					b.CheckLowerBound(n.Key.Name, depReq.Name, depReq.Specifier)
				}
			}

			index[n.Key] = b.AddNode(n.Key, n.Version, n.RequiresDist, n.Yanked)
		}
	}

	for _, res := range resolutions {
		for _, e := range res.Edges {
			toIdx, ok := index[e.To]
			if !ok {
				return nil, fmt.Errorf("forkresolver: edge to unregistered node %+v", e.To)
			}

			applicable := res.ForkMarker.And(e.Marker)

			if e.FromRoot {
				b.AddRootEdge(toIdx, applicable)
				continue
			}

			fromIdx, ok := index[e.From]
			if !ok {
				return nil, fmt.Errorf("forkresolver: edge from unregistered node %+v", e.From)
			}

			b.AddEdge(fromIdx, toIdx, applicable)
		}
	}

	return b.Finalize(global, strict)
}

// ForkCover returns the non-trivial fork markers across resolutions, for
// the lockfile's `resolution-markers` header field. Singleton covers (a
// single fork whose marker is TRUE) are elided.
func ForkCover(resolutions []Resolution) []string {
	if len(resolutions) <= 1 {
		return nil
	}

	out := make([]string, 0, len(resolutions))

	for _, res := range resolutions {
		if res.ForkMarker.IsTrue() {
			continue
		}

		out = append(out, res.ForkMarker.String())
	}

	return out
}
