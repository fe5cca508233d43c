// Package forkresolver implements the forking universal resolver: it
// walks a package's dependency tree under an accumulated marker
// constraint, forking into independent sub-resolutions whenever two
// queued dependencies on the same package carry marker expressions that
// are disjoint from each other. Two dependencies whose markers overlap
// without being equal are not forked; they are resolved together in the
// same fork (see splitOnForkPoint). The walk is a queue of
// pending requirements drained until empty, with real
// marker.UniversalMarker values carried on every queue entry and edge,
// since only a marker value (not a bool) can be attached to a
// resolution-graph edge for later reachability propagation.
package forkresolver

import (
	"fmt"
	"strings"

	"github.com/pipg-project/pipg/internal/marker"
	"github.com/pipg-project/pipg/internal/pep440"
)

// Requirement is one PEP 508 dependency line, parsed into the structural
// pieces the forking resolver operates on: a normalized name, a PEP 440
// specifier, and a marker.MarkerTree. ParseRequirement leaves the marker
// as written; for a dependency of a resolved package, Resolver.resolveOne
// lifts any top-level `extra == "..."` clause out with ExtractExtras into
// Extras (the requiring package's extras under which this dependency
// applies) and folds them into the ConflictMarker instead.
type Requirement struct {
	Name      string
	Specifier pep440.Specifier
	Extras    []string
	Marker    marker.MarkerTree

	// OwnExtras are the extras this requirement activates on Name, parsed
	// out of "pkg[extra1,extra2]".
	OwnExtras []string
}

// ParseRequirement parses a PEP 508 requirement string (a root requirement
// typed on the command line, or one entry of a package's Requires-Dist)
// against u, the shared marker-interning arena for this resolution run.
//
// Supported shapes:
//
//	"flask"
//	"flask>=3.0,<4.0"
//	"flask (>=3.0)"
//	"torch[cuda]==2.1"
//	"importlib-metadata>=3.6; python_version < \"3.10\""
func ParseRequirement(u *marker.Universe, raw string) (Requirement, error) {
	name, extras, specifierText, markerText := splitRequirement(raw)
	if name == "" {
		return Requirement{}, fmt.Errorf("requirement %q has no package name", raw)
	}

	specifier, err := pep440.ParseSpecifier(specifierText)
	if err != nil {
		return Requirement{}, fmt.Errorf("parsing specifier in %q: %w", raw, err)
	}

	mt, err := u.Parse(markerText)
	if err != nil {
		return Requirement{}, fmt.Errorf("parsing marker in %q: %w", raw, err)
	}

	return Requirement{
		Name:      NormalizeName(name),
		Specifier: specifier,
		Marker:    mt,
		OwnExtras: extras,
	}, nil
}

// splitRequirement separates a PEP 508 requirement string into its package
// name, bracketed extras list, version specifier, and marker clause. The
// parenthesized specifier form "pkg (>=1.0)" is accepted; parentheses are
// stripped before the name/specifier split.
func splitRequirement(raw string) (name string, extras []string, specifier, markerText string) {
	if semi := strings.IndexByte(raw, ';'); semi >= 0 {
		markerText = strings.TrimSpace(raw[semi+1:])
		raw = raw[:semi]
	}

	raw = strings.TrimSpace(raw)

	if open := strings.IndexByte(raw, '['); open >= 0 {
		if end := strings.IndexByte(raw, ']'); end > open {
			for _, e := range strings.Split(raw[open+1:end], ",") {
				if e = strings.TrimSpace(e); e != "" {
					extras = append(extras, NormalizeName(e))
				}
			}

			raw = raw[:open] + raw[end+1:]
		}
	}

	raw = strings.NewReplacer("(", "", ")", "").Replace(raw)

	if op := strings.IndexAny(raw, "<>=!~"); op >= 0 {
		specifier = strings.TrimSpace(raw[op:])
		raw = raw[:op]
	}

	return strings.TrimSpace(raw), extras, specifier, markerText
}
