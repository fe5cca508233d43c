package marker

import "sort"

// ConflictItem names one side of a declared conflict: either an extra of
// a package ("pkg[extra]") or a dependency group ("pkg:group"), encoded
// as `pkg[extra]-enabled` / `pkg:group-enabled` atoms.
type ConflictItem struct {
	Package string
	Extra   string // empty if Group is set
	Group   string // empty if Extra is set
}

func (c ConflictItem) atomName() string {
	if c.Group != "" {
		return c.Package + ":" + c.Group + "-enabled"
	}

	return c.Package + "[" + c.Extra + "]-enabled"
}

// ConflictMarker is a boolean combination of ConflictItem "enabled" atoms,
// stored in the same interned representation as ordinary markers so it gets
// the same O(1) equality and memoized disjointness.
type ConflictMarker struct {
	u *Universe
	n *node
}

// TrueConflict returns the conflict marker that always applies (no
// declared conflicts touch this node/edge).
func (u *Universe) TrueConflict() ConflictMarker { return ConflictMarker{u: u, n: u.trueNode} }

// FalseConflict returns the conflict marker that never applies.
func (u *Universe) FalseConflict() ConflictMarker { return ConflictMarker{u: u, n: u.falseNode} }

// ConflictAtom returns the marker "item is enabled".
func (u *Universe) ConflictAtom(item ConflictItem) ConflictMarker {
	return ConflictMarker{u: u, n: u.atom(item.atomName(), opEq, "true")}
}

func (c ConflictMarker) IsTrue() bool  { return c.n != nil && c.n.kind == kindTrue }
func (c ConflictMarker) IsFalse() bool { return c.n != nil && c.n.kind == kindFalse }

func (c ConflictMarker) And(other ConflictMarker) ConflictMarker {
	return ConflictMarker{u: c.u, n: c.u.And(c.n, other.n)}
}

func (c ConflictMarker) Or(other ConflictMarker) ConflictMarker {
	return ConflictMarker{u: c.u, n: c.u.Or(c.n, other.n)}
}

func (c ConflictMarker) Negate() ConflictMarker {
	return ConflictMarker{u: c.u, n: c.u.Not(c.n)}
}

func (c ConflictMarker) Equal(other ConflictMarker) bool { return c.n == other.n }

func (c ConflictMarker) IsDisjoint(other ConflictMarker) bool {
	return c.u.memoizedDisjoint(c.n, other.n)
}

func (c ConflictMarker) String() string { return c.n.String() }

// ConflictSet is a group of mutually exclusive ConflictItems: a project
// declaring that, say, extras "torch-cpu" and "torch-gpu" can never both
// be active in the same environment.
type ConflictSet struct {
	Items []ConflictItem
}

// ExclusionMarker builds the single global conflict marker encoding every
// declared set's at-most-one rule: for each pair of items within a set,
// "not (both enabled)". This is the marker conjoined with every edge and
// node during resolution-output construction.
func ExclusionMarker(u *Universe, sets []ConflictSet) ConflictMarker {
	out := u.TrueConflict()

	for _, set := range sets {
		for i := 0; i < len(set.Items); i++ {
			for j := i + 1; j < len(set.Items); j++ {
				a := u.ConflictAtom(set.Items[i])
				b := u.ConflictAtom(set.Items[j])

				out = out.And(a.And(b).Negate())
			}
		}
	}

	return out
}

// FromConflicts builds the per-item ConflictMarker implied by a list of
// declared conflict sets: for each item in a set, the marker asserting
// "this item is enabled and every other item in its set is disabled".
// Items that appear in no conflict set get TrueConflict, since nothing
// constrains them.
func FromConflicts(u *Universe, sets []ConflictSet) map[ConflictItem]ConflictMarker {
	out := make(map[ConflictItem]ConflictMarker)

	for _, set := range sets {
		items := make([]ConflictItem, len(set.Items))
		copy(items, set.Items)

		sort.Slice(items, func(i, j int) bool { return items[i].atomName() < items[j].atomName() })

		for i, item := range items {
			m := u.ConflictAtom(item)

			for j, other := range items {
				if j == i {
					continue
				}

				m = m.And(u.ConflictAtom(other).Negate())
			}

			out[item] = m
		}
	}

	return out
}
