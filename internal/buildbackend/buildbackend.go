// Package buildbackend resolves build-time dependency constraints declared
// in a project's [build-system] table (setuptools/wheel/hatchling minimum
// versions, etc). These are ordinary generic version ranges, not PEP 440 —
// a build backend's own release versioning rarely follows Python's
// specifier grammar — so they're checked with aquasecurity/go-version's
// Constraints rather than internal/pep440, keeping the generic version
// helper (go-version) distinct from the PEP 440-specific one
// (go-pep440-version).
package buildbackend

import (
	"fmt"
	"strings"

	gversion "github.com/aquasecurity/go-version/pkg/version"
)

// Requirement is one `build-system.requires` entry split into its package
// name and constraint string, e.g. "setuptools>=61.0" -> {"setuptools", ">=61.0"}.
type Requirement struct {
	Name       string
	Constraint string
}

// Satisfies reports whether installedVersion (the version actually
// installed into the ephemeral build environment) satisfies r's
// constraint. An empty constraint always matches.
func (r Requirement) Satisfies(installedVersion string) (bool, error) {
	if r.Constraint == "" {
		return true, nil
	}

	v, err := gversion.Parse(installedVersion)
	if err != nil {
		return false, fmt.Errorf("parsing installed version %q for %s: %w", installedVersion, r.Name, err)
	}

	// go-version has no compatible-release operator; a `~=` floor is
	// approximated from below, which can only over-accept, never reject a
	// version the declared constraint would have allowed.
	constraintText := strings.ReplaceAll(r.Constraint, "~=", ">=")

	constraints, err := gversion.NewConstraints(constraintText)
	if err != nil {
		return false, fmt.Errorf("parsing build constraint %q for %s: %w", r.Constraint, r.Name, err)
	}

	return constraints.Check(v), nil
}

// ParseRequirement splits a build-system.requires entry into name and
// constraint, recognizing the same comparison operators PEP 508 allows in
// a bare (non-marker) requirement string.
func ParseRequirement(raw string) (Requirement, error) {
	raw = trimSpace(raw)
	if raw == "" {
		return Requirement{}, fmt.Errorf("empty build requirement")
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '=' || c == '<' || c == '>' || c == '!' || c == '~' {
			return Requirement{Name: trimSpace(raw[:i]), Constraint: trimSpace(raw[i:])}, nil
		}
	}

	return Requirement{Name: raw}, nil
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}

	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}

	return s[start:end]
}
