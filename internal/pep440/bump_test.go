package pep440_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/pep440"
)

func TestBump(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       pep440.BumpKind
		want       string
		wantWarned bool
	}{
		{"patch", "1.10.31", pep440.BumpPatch, "1.10.32", false},
		{"minor", "1.10.31", pep440.BumpMinor, "1.11.0", false},
		{"major", "1.10.31", pep440.BumpMajor, "2.0.0", false},
		{"major with epoch and pre/post/dev/local", "1!2a3.post4.dev5+deadbeef6", pep440.BumpMajor, "3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := pep440.Bump(tt.raw, tt.kind)
			if err != nil {
				t.Fatalf("Bump(%q) error: %v", tt.raw, err)
			}

			if got := result.Version.String(); got != tt.want {
				t.Errorf("Bump(%q) = %q, want %q", tt.raw, got, tt.want)
			}

			if warned := result.Warning != ""; warned != tt.wantWarned {
				t.Errorf("Bump(%q) warned = %v, want %v", tt.raw, warned, tt.wantWarned)
			}
		})
	}
}

func TestVersionMinMaxSentinels(t *testing.T) {
	v, err := pep440.Parse("1.0.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	min := pep440.Min()
	max := pep440.Max()

	if !min.LessThan(v) {
		t.Errorf("Min() should sort below a concrete version")
	}

	if !max.GreaterThan(v) {
		t.Errorf("Max() should sort above a concrete version")
	}

	if !min.LessThan(max) {
		t.Errorf("Min() should sort below Max()")
	}
}
