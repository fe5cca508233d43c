package marker

// ExtractExtras pulls "extra == 'x'" atoms out of m's top-level conjunction
// — PEP 508's convention for gating an optional-dependency requirement,
// e.g. `importlib-metadata; extra == "toml"` inside a package's
// Requires-Dist — and returns the marker with those atoms replaced by TRUE
// alongside the extra names it found. The forking resolver uses this to
// convert a requirement's own `extra` clause into a ConflictMarker
// fragment (an edge into `pkg[x]` carries `pkg[x]-enabled`), keeping the
// environment marker limited to actual platform/version conditions.
//
// Only a top-level AND is unwrapped, matching the shape real metadata
// produces; an `extra` atom nested under an OR is left in the environment
// marker untouched (evaluates to false against any concrete environment,
// since extra is never a bound variable there) rather than guessed at.
func (m MarkerTree) ExtractExtras() (MarkerTree, []string) {
	if m.n.kind != kindAnd {
		if m.n.kind == kindAtom && m.n.varName == "extra" && m.n.op == opEq {
			return m.u.TrueTree(), []string{m.n.value}
		}

		return m, nil
	}

	var extras []string

	kept := make([]*node, 0, len(m.n.children))

	for _, c := range m.n.children {
		if c.kind == kindAtom && c.varName == "extra" && c.op == opEq {
			extras = append(extras, c.value)
			continue
		}

		kept = append(kept, c)
	}

	if len(extras) == 0 {
		return m, nil
	}

	return MarkerTree{u: m.u, n: m.u.And(kept...)}, extras
}
