// Package pep440 wraps github.com/aquasecurity/go-pep440-version with the
// Min/Max sentinels and bump operations the resolver needs but the
// underlying library does not provide.
package pep440

import (
	"fmt"

	upstream "github.com/aquasecurity/go-pep440-version"
)

// kind distinguishes a concrete parsed version from the Min/Max sentinels
// that extend PEP 440's order below/above all concrete variants.
type kind int

const (
	kindConcrete kind = iota
	kindMin
	kindMax
)

// Version is a PEP 440 version, or the Min/Max sentinel that sorts below
// or above every concrete version.
type Version struct {
	kind kind
	v    upstream.Version
	raw  string
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := upstream.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{kind: kindConcrete, v: v, raw: s}, nil
}

// Min returns the sentinel that sorts below every concrete version.
func Min() Version { return Version{kind: kindMin} }

// Max returns the sentinel that sorts above every concrete version.
func Max() Version { return Version{kind: kindMax} }

// IsSentinel reports whether v is the Min or Max sentinel.
func (v Version) IsSentinel() bool { return v.kind != kindConcrete }

// String returns the original textual representation, or "<min>"/"<max>"
// for the sentinels.
func (v Version) String() string {
	switch v.kind {
	case kindMin:
		return "<min>"
	case kindMax:
		return "<max>"
	default:
		return v.raw
	}
}

// Compare returns -1, 0, or 1 comparing v to other per PEP 440 ordering,
// with Min sorting below and Max sorting above every concrete version.
func (v Version) Compare(other Version) int {
	if v.kind != kindConcrete || other.kind != kindConcrete {
		return compareSentinels(v.kind, other.kind)
	}

	return v.v.Compare(other.v)
}

func compareSentinels(a, b kind) int {
	rank := func(k kind) int {
		switch k {
		case kindMin:
			return -1
		case kindMax:
			return 1
		default:
			return 0
		}
	}

	ra, rb := rank(a), rank(b)

	switch {
	case ra == rb:
		return 0
	case ra < rb:
		return -1
	default:
		return 1
	}
}

// LessThan reports whether v sorts before other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// GreaterThan reports whether v sorts after other.
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }

// Equal reports whether v and other are the same version under PEP 440
// comparison (ignoring local-version segments, per == compatibility).
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// IsPreRelease reports whether v is a pre-release (alpha/beta/rc) or dev
// release. Always false for the Min/Max sentinels.
func (v Version) IsPreRelease() bool {
	if v.kind != kindConcrete {
		return false
	}

	return v.v.IsPreRelease()
}

// Raw returns the underlying aquasecurity/go-pep440-version value for
// callers that need to invoke library functionality this wrapper does not
// expose. Panics if called on a sentinel.
func (v Version) Raw() upstream.Version {
	if v.kind != kindConcrete {
		panic("pep440: Raw() called on a Min/Max sentinel")
	}

	return v.v
}
