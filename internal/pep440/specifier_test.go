package pep440_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/pep440"
)

func TestSpecifierHasLowerBound(t *testing.T) {
	tests := []struct {
		spec string
		want bool
	}{
		{"", false},
		{"<4.0", false},
		{"!=3.1", false},
		{">=3.0", true},
		{">=3.0,<4.0", true},
		{"~=3.0", true},
		{"==3.0.*", true},
	}

	for _, tt := range tests {
		s, err := pep440.ParseSpecifier(tt.spec)
		if err != nil {
			t.Fatalf("ParseSpecifier(%q): %v", tt.spec, err)
		}

		if got := s.HasLowerBound(); got != tt.want {
			t.Errorf("ParseSpecifier(%q).HasLowerBound() = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestSpecifierMatches(t *testing.T) {
	s, err := pep440.ParseSpecifier(">=1.0,<2.0")
	if err != nil {
		t.Fatalf("ParseSpecifier: %v", err)
	}

	inRange, _ := pep440.Parse("1.5.0")
	if !s.Matches(inRange) {
		t.Errorf("expected 1.5.0 to match >=1.0,<2.0")
	}

	outOfRange, _ := pep440.Parse("2.0.0")
	if s.Matches(outOfRange) {
		t.Errorf("expected 2.0.0 not to match >=1.0,<2.0")
	}

	if s.Matches(pep440.Max()) {
		t.Errorf("expected Max() sentinel not to match a concrete specifier")
	}
}
