package marker

import (
	"sort"
	"strings"
	"sync"

	"github.com/pipg-project/pipg/internal/pep440"
)

// versionVars are the marker variables compared as PEP 440 versions rather
// than as opaque strings.
var versionVars = map[string]bool{
	"python_version":      true,
	"python_full_version": true,
}

// Universe is an interning arena for marker nodes, scoped to one
// resolution run. Equality and the common case of disjointness are
// O(1)/memoized via structural interning; this is not a full
// reduced-ordered binary decision diagram over discretized thresholds —
// see IsDisjoint.
type Universe struct {
	mu       sync.Mutex
	interned map[string]*node
	disjoint map[[2]int]bool
	nextID   int

	trueNode  *node
	falseNode *node
}

// NewUniverse creates a fresh interning arena.
func NewUniverse() *Universe {
	u := &Universe{
		interned: make(map[string]*node),
		disjoint: make(map[[2]int]bool),
	}

	u.trueNode = u.intern(&node{kind: kindTrue, key: "TRUE"})
	u.falseNode = u.intern(&node{kind: kindFalse, key: "FALSE"})

	return u
}

// intern returns the canonical pointer for a node with the given key,
// registering n if this is the first time the key has been seen.
func (u *Universe) intern(n *node) *node {
	u.mu.Lock()
	defer u.mu.Unlock()

	if existing, ok := u.interned[n.key]; ok {
		return existing
	}

	n.id = u.nextID
	u.nextID++
	u.interned[n.key] = n

	return n
}

// True returns the TRUE constant ("always applies").
func (u *Universe) True() *node { return u.trueNode }

// False returns the FALSE constant ("never applies").
func (u *Universe) False() *node { return u.falseNode }

// atom interns a single comparison "varName op value".
func (u *Universe) atom(varName string, o op, value string) *node {
	key := varName + " " + o.String() + " " + quote(value)

	return u.intern(&node{kind: kindAtom, varName: varName, op: o, value: value, key: key})
}

func quote(s string) string { return `"` + s + `"` }

// Not returns the negation of n, pushing the negation onto atoms (De
// Morgan's laws keep the tree in negation normal form — see node.go).
func (u *Universe) Not(n *node) *node {
	switch n.kind {
	case kindTrue:
		return u.falseNode
	case kindFalse:
		return u.trueNode
	case kindAtom:
		return u.atom(n.varName, n.op.negate(), n.value)
	case kindAnd:
		negated := make([]*node, len(n.children))
		for i, c := range n.children {
			negated[i] = u.Not(c)
		}

		return u.Or(negated...)
	case kindOr:
		negated := make([]*node, len(n.children))
		for i, c := range n.children {
			negated[i] = u.Not(c)
		}

		return u.And(negated...)
	default:
		return u.falseNode
	}
}

// And returns the conjunction of the given nodes, flattened and
// deduplicated, short-circuiting to FALSE on a detected contradiction.
func (u *Universe) And(nodes ...*node) *node {
	return u.combine(kindAnd, nodes, u.falseNode, u.trueNode)
}

// Or returns the disjunction of the given nodes, flattened and
// deduplicated, short-circuiting to TRUE if any operand is TRUE.
func (u *Universe) Or(nodes ...*node) *node {
	return u.combine(kindOr, nodes, u.trueNode, u.falseNode)
}

// combine implements both And (kind=kindAnd, absorbing=False, identity=True)
// and Or (kind=kindOr, absorbing=True, identity=False).
func (u *Universe) combine(kind nodeKind, nodes []*node, absorbing, identity *node) *node {
	var flat []*node

	seen := make(map[*node]bool)

	var walk func(*node)
	walk = func(n *node) {
		if n == absorbing {
			return
		}

		if n == identity {
			return
		}

		if n.kind == kind {
			for _, c := range n.children {
				walk(c)
			}

			return
		}

		if !seen[n] {
			seen[n] = true

			flat = append(flat, n)
		}
	}

	for _, n := range nodes {
		if n == absorbing {
			return absorbing
		}

		walk(n)
	}

	if len(flat) == 0 {
		return identity
	}

	if len(flat) == 1 {
		return flat[0]
	}

	if kind == kindAnd && hasAtomContradiction(flat) {
		return u.falseNode
	}

	if kind == kindAnd && conjunctionUnsatisfiable(flat) {
		return u.falseNode
	}

	if kind == kindOr && hasAtomTautology(flat) {
		return u.trueNode
	}

	sort.Slice(flat, func(i, j int) bool { return flat[i].key < flat[j].key })

	keys := make([]string, len(flat))
	for i, n := range flat {
		keys[i] = n.key
	}

	sep := " and "
	if kind == kindOr {
		sep = " or "
	}

	key := "(" + strings.Join(keys, sep) + ")"

	return u.intern(&node{kind: kind, children: flat, key: key})
}

// hasAtomContradiction reports whether any two atoms among nodes can never
// both hold, e.g. `x == "a"` and `x == "b"`, or a version range whose
// bounds exclude each other. This syntactic contradiction detector stands
// in for a full ROBDD: it catches the common equality/range
// contradictions fork logic and conflict checks produce, not every
// possible tautology.
func hasAtomContradiction(atoms []*node) bool {
	byVar := make(map[string][]*node)

	for _, n := range atoms {
		if n.kind != kindAtom {
			continue
		}

		byVar[n.varName] = append(byVar[n.varName], n)
	}

	for varName, group := range byVar {
		if len(group) < 2 {
			continue
		}

		if versionVars[varName] {
			if rangeContradicts(group) {
				return true
			}

			continue
		}

		if equalityContradicts(group) {
			return true
		}
	}

	return false
}

// maxDNFTerms bounds conjunctionUnsatisfiable's expansion: past this many
// disjunctive terms the check gives up (sound: "couldn't decide" never
// claims FALSE), keeping And construction linear for the marker sizes
// resolution actually produces.
const maxDNFTerms = 64

// conjunctionUnsatisfiable reports whether a conjunction containing Or
// children is unsatisfiable, by expanding it into disjunctive normal form
// (bounded by maxDNFTerms) and checking that every term carries an atom
// contradiction. This is what lets `(not A or not B) and A and B` collapse
// to FALSE — the shape every declared-conflict check produces — where the
// flat-atom scan alone cannot see across the Or.
func conjunctionUnsatisfiable(nodes []*node) bool {
	hasOr := false

	for _, n := range nodes {
		if n.kind == kindOr {
			hasOr = true

			break
		}
	}

	if !hasOr {
		return false
	}

	terms, ok := dnfTerms(nodes)
	if !ok {
		return false
	}

	for _, term := range terms {
		if !hasAtomContradiction(term) {
			return false
		}
	}

	return true
}

// dnfTerms expands a conjunction of nodes into DNF terms of atoms. ok is
// false when the expansion exceeds maxDNFTerms or meets a constant node
// (constants are already folded out by combine before this runs).
func dnfTerms(nodes []*node) ([][]*node, bool) {
	terms := [][]*node{nil}

	for _, n := range nodes {
		switch n.kind {
		case kindAtom:
			for i := range terms {
				terms[i] = append(terms[i], n)
			}
		case kindAnd:
			sub, ok := dnfTerms(n.children)
			if !ok {
				return nil, false
			}

			terms, ok = crossTerms(terms, sub)
			if !ok {
				return nil, false
			}
		case kindOr:
			var alternatives [][]*node

			for _, c := range n.children {
				sub, ok := dnfTerms([]*node{c})
				if !ok {
					return nil, false
				}

				alternatives = append(alternatives, sub...)
			}

			var ok bool

			terms, ok = crossTerms(terms, alternatives)
			if !ok {
				return nil, false
			}
		default:
			return nil, false
		}
	}

	return terms, true
}

// crossTerms conjoins every term of a with every alternative of b.
func crossTerms(a, b [][]*node) ([][]*node, bool) {
	if len(a)*len(b) > maxDNFTerms {
		return nil, false
	}

	out := make([][]*node, 0, len(a)*len(b))

	for _, ta := range a {
		for _, tb := range b {
			term := make([]*node, 0, len(ta)+len(tb))
			term = append(term, ta...)
			term = append(term, tb...)
			out = append(out, term)
		}
	}

	return out, true
}

// hasAtomTautology is the Or-side dual of hasAtomContradiction: `x == "a"
// or x != "a"` is always true.
func hasAtomTautology(atoms []*node) bool {
	byVar := make(map[string][]*node)

	for _, n := range atoms {
		if n.kind != kindAtom {
			continue
		}

		byVar[n.varName] = append(byVar[n.varName], n)
	}

	for _, group := range byVar {
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				if group[i].value == group[j].value && group[j].op == group[i].op.negate() {
					return true
				}
			}
		}
	}

	return false
}

// equalityContradicts reports whether any two atoms in group require the
// variable to equal two different literal values, or equal and not-equal
// the same literal.
func equalityContradicts(group []*node) bool {
	eqValues := make(map[string]bool)

	for _, n := range group {
		if n.op == opEq {
			eqValues[n.value] = true
		}
	}

	if len(eqValues) > 1 {
		return true
	}

	for value := range eqValues {
		for _, n := range group {
			if n.op == opNe && n.value == value {
				return true
			}
		}
	}

	return false
}

// rangeContradicts reports whether the version-comparison atoms in group
// constrain a version variable to an empty range, e.g. `python_version <
// "3.8"` and `python_version >= "3.10"`.
func rangeContradicts(group []*node) bool {
	lower := pep440.Min()
	lowerInclusive := true
	upper := pep440.Max()
	upperInclusive := true

	eq := ""
	hasEq := false

	for _, n := range group {
		v, err := pep440.Parse(n.value)
		if err != nil {
			continue
		}

		switch n.op {
		case opEq:
			if hasEq && eq != n.value {
				return true
			}

			eq = n.value
			hasEq = true
		case opGe:
			if v.GreaterThan(lower) || (!lowerInclusive && v.Equal(lower)) {
				lower, lowerInclusive = v, true
			}
		case opGt:
			if v.GreaterThan(lower) || (lowerInclusive && v.Equal(lower)) {
				lower, lowerInclusive = v, false
			}
		case opLe:
			if v.LessThan(upper) || (!upperInclusive && v.Equal(upper)) {
				upper, upperInclusive = v, true
			}
		case opLt:
			if v.LessThan(upper) || (upperInclusive && v.Equal(upper)) {
				upper, upperInclusive = v, false
			}
		}
	}

	if hasEq {
		eqVer, err := pep440.Parse(eq)
		if err == nil {
			if eqVer.LessThan(lower) || (!lowerInclusive && eqVer.Equal(lower)) {
				return true
			}

			if eqVer.GreaterThan(upper) || (!upperInclusive && eqVer.Equal(upper)) {
				return true
			}
		}
	}

	if lower.GreaterThan(upper) {
		return true
	}

	if lower.Equal(upper) && !(lowerInclusive && upperInclusive) {
		return true
	}

	return false
}
