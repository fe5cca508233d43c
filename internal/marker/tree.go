package marker

// MarkerTree is a PEP 508 environment marker, kept in a canonical,
// hash-consed form: cheap equality, conjunction, disjunction, and
// disjointness tests.
type MarkerTree struct {
	u *Universe
	n *node
}

// TrueTree returns the marker that always applies.
func (u *Universe) TrueTree() MarkerTree { return MarkerTree{u: u, n: u.trueNode} }

// FalseTree returns the marker that never applies.
func (u *Universe) FalseTree() MarkerTree { return MarkerTree{u: u, n: u.falseNode} }

// IsTrue reports whether m is the TRUE constant.
func (m MarkerTree) IsTrue() bool { return m.n != nil && m.n.kind == kindTrue }

// IsFalse reports whether m is the FALSE constant.
func (m MarkerTree) IsFalse() bool { return m.n != nil && m.n.kind == kindFalse }

// And returns the conjunction of m and other.
func (m MarkerTree) And(other MarkerTree) MarkerTree {
	return MarkerTree{u: m.u, n: m.u.And(m.n, other.n)}
}

// Or returns the disjunction of m and other.
func (m MarkerTree) Or(other MarkerTree) MarkerTree {
	return MarkerTree{u: m.u, n: m.u.Or(m.n, other.n)}
}

// Negate returns the negation of m.
func (m MarkerTree) Negate() MarkerTree {
	return MarkerTree{u: m.u, n: m.u.Not(m.n)}
}

// Equal reports semantic equality: "A and B" == "B and A". Relies on
// interning, so this is always a pointer comparison.
func (m MarkerTree) Equal(other MarkerTree) bool { return m.n == other.n }

// IsDisjoint reports whether m and other can never both hold, i.e.
// m ∧ other ≡ FALSE. Memoized per pair within the Universe.
func (m MarkerTree) IsDisjoint(other MarkerTree) bool {
	return m.u.memoizedDisjoint(m.n, other.n)
}

func (u *Universe) memoizedDisjoint(a, b *node) bool {
	key := pairKey(a, b)

	u.mu.Lock()
	if v, ok := u.disjoint[key]; ok {
		u.mu.Unlock()

		return v
	}
	u.mu.Unlock()

	result := u.And(a, b) == u.falseNode

	u.mu.Lock()
	u.disjoint[key] = result
	u.mu.Unlock()

	return result
}

func pairKey(a, b *node) [2]int {
	if a.id < b.id {
		return [2]int{a.id, b.id}
	}

	return [2]int{b.id, a.id}
}

// String returns the canonical textual form of the marker.
func (m MarkerTree) String() string { return m.n.String() }

// Atom builds the atomic marker "varName op value". op must be one of
// "==", "!=", "<", "<=", ">", ">=", "in", "not in".
func (u *Universe) Atom(varName, opStr, value string) (MarkerTree, error) {
	o, err := parseOp(opStr)
	if err != nil {
		return MarkerTree{}, err
	}

	return MarkerTree{u: u, n: u.atom(varName, o, value)}, nil
}
