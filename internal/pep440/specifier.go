package pep440

import (
	"fmt"

	upstream "github.com/aquasecurity/go-pep440-version"
)

// Specifier is a PEP 440 version specifier set, e.g. ">=3.0,<4.0".
type Specifier struct {
	raw string
	set upstream.Specifiers
}

// ParseSpecifier parses a comma-separated PEP 440 specifier string.
func ParseSpecifier(s string) (Specifier, error) {
	if s == "" {
		return Specifier{raw: s}, nil
	}

	set, err := upstream.NewSpecifiers(s)
	if err != nil {
		return Specifier{}, fmt.Errorf("parsing specifier %q: %w", s, err)
	}

	return Specifier{raw: s, set: set}, nil
}

// String returns the original specifier text.
func (s Specifier) String() string { return s.raw }

// Empty reports whether the specifier set has no constraints (matches any
// version).
func (s Specifier) Empty() bool { return s.raw == "" }

// Matches reports whether v satisfies every clause in the specifier set.
// The Min/Max sentinels never match a non-empty specifier set, since they
// represent "no known concrete version" rather than an actual release.
func (s Specifier) Matches(v Version) bool {
	if s.Empty() {
		return true
	}

	if v.IsSentinel() {
		return false
	}

	return s.set.Check(v.Raw())
}

// lowerBoundOperators are the PEP 440 clause operators that pin a version
// from below. Checked textually against the raw specifier string rather
// than through the upstream library's clause accessors, since the library
// does not expose a stable per-clause operator enum.
var lowerBoundOperators = []string{">=", "~=", "==", "===", ">"}

// HasLowerBound reports whether the specifier set constrains versions from
// below (>=, >, ~=, ==, ===). Used for the `lowest` mode's
// missing-lower-bound diagnostic.
func (s Specifier) HasLowerBound() bool {
	if s.Empty() {
		return false
	}

	for _, clause := range splitClauses(s.raw) {
		for _, op := range lowerBoundOperators {
			if len(clause) >= len(op) && clause[:len(op)] == op {
				return true
			}
		}
	}

	return false
}

// splitClauses splits a comma-separated specifier string into its
// individual clauses, trimming surrounding whitespace from each.
func splitClauses(raw string) []string {
	var clauses []string

	start := 0

	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			clause := trimSpace(raw[start:i])
			if clause != "" {
				clauses = append(clauses, clause)
			}

			start = i + 1
		}
	}

	return clauses
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}

	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}

	return s
}
