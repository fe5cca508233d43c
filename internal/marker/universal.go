package marker

// UniversalMarker is the product of an environment marker and a conflict
// marker: a requirement edge applies only where both the
// platform marker AND the conflict marker hold. Pairing them lets the
// resolver treat `numpy ; python_version >= "3.9"` declared under a
// conflicting extra the same way it treats any other forking condition,
// without needing two parallel representations downstream.
type UniversalMarker struct {
	Env      MarkerTree
	Conflict ConflictMarker
}

// TrueUniversal returns the marker that always applies.
func TrueUniversal(u *Universe) UniversalMarker {
	return UniversalMarker{Env: u.TrueTree(), Conflict: u.TrueConflict()}
}

// FalseUniversal returns the marker that never applies.
func FalseUniversal(u *Universe) UniversalMarker {
	return UniversalMarker{Env: u.FalseTree(), Conflict: u.FalseConflict()}
}

func (m UniversalMarker) IsTrue() bool {
	return m.Env.IsTrue() && m.Conflict.IsTrue()
}

func (m UniversalMarker) IsFalse() bool {
	return m.Env.IsFalse() || m.Conflict.IsFalse()
}

// And combines two universal markers pointwise.
func (m UniversalMarker) And(other UniversalMarker) UniversalMarker {
	return UniversalMarker{
		Env:      m.Env.And(other.Env),
		Conflict: m.Conflict.And(other.Conflict),
	}
}

// Or combines two universal markers pointwise. This is an over-approximation
// when the two operands' env and conflict components aren't independent
// (e.g. "A and B" or "not A and C" loses the correlation between A and
// the conflict side): the simplifier is sound (never claims two markers
// disjoint when they aren't) but not canonical.
func (m UniversalMarker) Or(other UniversalMarker) UniversalMarker {
	return UniversalMarker{
		Env:      m.Env.Or(other.Env),
		Conflict: m.Conflict.Or(other.Conflict),
	}
}

// Negate returns the negation of m. Because Env and Conflict are combined
// conjunctively in IsFalse/And, De Morgan's law over the pair is not a
// simple pointwise negation; Negate is provided for the common case where
// callers only ever negate a marker built from a single component (the
// other held TRUE), and panics otherwise to avoid silently returning a
// wrong result.
func (m UniversalMarker) Negate() UniversalMarker {
	switch {
	case m.Conflict.IsTrue():
		return UniversalMarker{Env: m.Env.Negate(), Conflict: m.Conflict}
	case m.Env.IsTrue():
		return UniversalMarker{Env: m.Env, Conflict: m.Conflict.Negate()}
	default:
		panic("marker: Negate of a UniversalMarker with both components non-trivial is ambiguous")
	}
}

// IsDisjoint reports whether m and other can never both hold. Sufficient
// (not necessary): it returns true whenever either component is
// independently disjoint, which covers every disjointness check the
// resolver's fork logic and same-name validation perform.
func (m UniversalMarker) IsDisjoint(other UniversalMarker) bool {
	if m.Env.IsDisjoint(other.Env) {
		return true
	}

	return m.Conflict.IsDisjoint(other.Conflict)
}

// Equal reports pointwise equality of both components.
func (m UniversalMarker) Equal(other UniversalMarker) bool {
	return m.Env.Equal(other.Env) && m.Conflict.Equal(other.Conflict)
}

func (m UniversalMarker) String() string {
	if m.Conflict.IsTrue() {
		return m.Env.String()
	}

	if m.Env.IsTrue() {
		return m.Conflict.String()
	}

	return m.Env.String() + " universal-and " + m.Conflict.String()
}
