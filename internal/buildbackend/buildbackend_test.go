package buildbackend_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/buildbackend"
)

func TestParseRequirement(t *testing.T) {
	cases := []struct {
		raw            string
		name           string
		wantConstraint string
	}{
		{"setuptools>=61.0", "setuptools", ">=61.0"},
		{"wheel", "wheel", ""},
		{"hatchling ~= 1.18", "hatchling", "~= 1.18"},
	}

	for _, tt := range cases {
		req, err := buildbackend.ParseRequirement(tt.raw)
		if err != nil {
			t.Fatalf("ParseRequirement(%q): %v", tt.raw, err)
		}

		if req.Name != tt.name || req.Constraint != tt.wantConstraint {
			t.Errorf("ParseRequirement(%q) = %+v, want {%s %s}", tt.raw, req, tt.name, tt.wantConstraint)
		}
	}
}

func TestSatisfies(t *testing.T) {
	req := buildbackend.Requirement{Name: "setuptools", Constraint: ">=61.0"}

	ok, err := req.Satisfies("68.2.0")
	if err != nil {
		t.Fatalf("Satisfies: %v", err)
	}

	if !ok {
		t.Error("expected 68.2.0 to satisfy >=61.0")
	}

	ok, err = req.Satisfies("40.0.0")
	if err != nil {
		t.Fatalf("Satisfies: %v", err)
	}

	if ok {
		t.Error("expected 40.0.0 to fail >=61.0")
	}
}
