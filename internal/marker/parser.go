package marker

import (
	"fmt"
	"strings"
)

// Parse parses a PEP 508 environment marker string into a MarkerTree via
// recursive descent:
//
//	marker      = marker_or
//	marker_or   = marker_and (wsp* 'or' marker_or)*
//	marker_and  = marker_expr (wsp* 'and' marker_and)*
//	marker_expr = marker_var marker_op marker_var | '(' marker ')'
//	marker_var  = env_var | python_str
//
// An empty string parses to TRUE.
func (u *Universe) Parse(raw string) (MarkerTree, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return u.TrueTree(), nil
	}

	p := &parser{input: raw, u: u}

	n, err := p.parseOr()
	if err != nil {
		return MarkerTree{}, fmt.Errorf("parsing marker %q: %w", raw, err)
	}

	p.skipWsp()

	if p.pos != len(p.input) {
		return MarkerTree{}, fmt.Errorf("parsing marker %q: unexpected trailing input %q", raw, p.input[p.pos:])
	}

	return MarkerTree{u: u, n: n}, nil
}

type parser struct {
	input string
	pos   int
	u     *Universe
}

func (p *parser) skipWsp() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peekWord(w string) bool {
	p.skipWsp()

	rest := p.input[p.pos:]
	if !strings.HasPrefix(rest, w) {
		return false
	}

	after := p.pos + len(w)
	if after < len(p.input) && isIdentByte(p.input[after]) {
		return false
	}

	return true
}

func (p *parser) acceptWord(w string) bool {
	if !p.peekWord(w) {
		return false
	}

	p.skipWsp()
	p.pos += len(w)

	return true
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *parser) parseOr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.acceptWord("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = p.u.Or(left, right)
	}

	return left, nil
}

func (p *parser) parseAnd() (*node, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	for p.acceptWord("and") {
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		left = p.u.And(left, right)
	}

	return left, nil
}

func (p *parser) parseExpr() (*node, error) {
	p.skipWsp()

	// `not <expr>` negates a parenthesized sub-marker; `not in` never
	// starts an expression, so consuming the word here is unambiguous.
	if p.acceptWord("not") {
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		return p.u.Not(n), nil
	}

	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++

		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		p.skipWsp()

		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, fmt.Errorf("expected closing ')' at position %d", p.pos)
		}

		p.pos++

		return n, nil
	}

	leftName, leftLiteral, err := p.parseVar()
	if err != nil {
		return nil, err
	}

	opStr, err := p.parseMarkerOp()
	if err != nil {
		return nil, err
	}

	rightName, rightLiteral, err := p.parseVar()
	if err != nil {
		return nil, err
	}

	varName, literal, flip, err := resolveVarLiteral(leftName, leftLiteral, rightName, rightLiteral, opStr)
	if err != nil {
		return nil, err
	}

	if flip {
		opStr = mirrorOp(opStr)
	}

	o, err := parseOp(opStr)
	if err != nil {
		return nil, err
	}

	return p.u.atom(varName, o, literal), nil
}

// resolveVarLiteral determines which side of a marker_expr is the known
// environment variable and which is the literal. flip reports whether the
// variable was the right-hand operand, meaning the operator must be
// mirrored (e.g. `"3.8" < python_version` becomes `python_version > "3.8"`)
// so atoms always read "variable op literal".
func resolveVarLiteral(leftName, leftLiteral, rightName, rightLiteral, opStr string) (varName, literal string, flip bool, err error) {
	switch {
	case leftName != "" && rightName == "":
		return leftName, rightLiteral, false, nil
	case leftName == "" && rightName != "":
		return rightName, leftLiteral, true, nil
	case leftName != "" && rightName != "":
		// Comparing two variables directly: treat the right as a literal
		// value of the left's current textual form (pip permits this but
		// it is exceedingly rare; we preserve first-operand-as-variable).
		return leftName, rightName, false, nil
	default:
		return "", "", false, fmt.Errorf("marker expression %q %s %q compares two literals", leftLiteral, opStr, rightLiteral)
	}
}

// mirrorOp flips a comparison operator for the case where its operands are
// swapped: a < b becomes b > a.
func mirrorOp(opStr string) string {
	switch opStr {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	default:
		return opStr
	}
}

// knownVars are the PEP 508 environment variable names.
var knownVars = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// parseVar parses a marker_var: either a known variable name (returned as
// name, "") or a quoted string literal (returned as "", value).
func (p *parser) parseVar() (name, literal string, err error) {
	p.skipWsp()

	if p.pos < len(p.input) && (p.input[p.pos] == '\'' || p.input[p.pos] == '"') {
		quote := p.input[p.pos]

		end := strings.IndexByte(p.input[p.pos+1:], quote)
		if end < 0 {
			return "", "", fmt.Errorf("unterminated string literal at position %d", p.pos)
		}

		literal = p.input[p.pos+1 : p.pos+1+end]
		p.pos += end + 2

		return "", literal, nil
	}

	start := p.pos

	for p.pos < len(p.input) && isIdentByte(p.input[p.pos]) {
		p.pos++
	}

	word := p.input[start:p.pos]
	if !knownVars[word] {
		return "", "", fmt.Errorf("unknown marker variable %q at position %d", word, start)
	}

	return word, "", nil
}

var markerOpsByLength = []string{"===", "<=", "!=", "==", ">=", "~=", "<", ">"}

// parseMarkerOp parses a marker_op: a version_cmp operator, or "in"/"not in".
func (p *parser) parseMarkerOp() (string, error) {
	p.skipWsp()

	for _, o := range markerOpsByLength {
		if strings.HasPrefix(p.input[p.pos:], o) {
			p.pos += len(o)

			return o, nil
		}
	}

	if p.acceptWord("not") {
		if !p.skipWspRequired() {
			return "", fmt.Errorf("expected whitespace between 'not' and 'in' at position %d", p.pos)
		}

		if !p.acceptWord("in") {
			return "", fmt.Errorf("expected 'in' after 'not' at position %d", p.pos)
		}

		return "not in", nil
	}

	if p.acceptWord("in") {
		return "in", nil
	}

	return "", fmt.Errorf("expected comparison operator at position %d", p.pos)
}

func (p *parser) skipWspRequired() bool {
	start := p.pos
	p.skipWsp()

	return p.pos > start
}

// parseOp maps a textual operator to its internal representation,
// collapsing "===" (PEP 440 arbitrary-equality) onto plain equality since
// this implementation only uses it for string-literal comparisons.
func parseOp(s string) (op, error) {
	switch s {
	case "==", "===":
		return opEq, nil
	case "!=":
		return opNe, nil
	case "<":
		return opLt, nil
	case "<=":
		return opLe, nil
	case ">":
		return opGt, nil
	case ">=":
		return opGe, nil
	case "~=":
		return opGe, nil
	case "in":
		return opIn, nil
	case "not in":
		return opNotIn, nil
	default:
		return 0, fmt.Errorf("unknown marker operator %q", s)
	}
}
