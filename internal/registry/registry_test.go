package registry_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/pep440"
	"github.com/pipg-project/pipg/internal/registry"
)

func mustVersion(t *testing.T, s string) pep440.Version {
	t.Helper()

	v, err := pep440.Parse(s)
	if err != nil {
		t.Fatalf("pep440.Parse(%q): %v", s, err)
	}

	return v
}

func linuxPolicy(t *testing.T) registry.Policy {
	t.Helper()

	return registry.Policy{
		CompatTags:    []registry.Tag{{Interpreter: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"}},
		PythonVersion: mustVersion(t, "3.12.0"),
	}
}

func TestSelectPrefersCompatibleWheelOverIncompatibleSource(t *testing.T) {
	files := []registry.File{
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", Kind: registry.FileWheel, SHA256: "abc"},
		{Filename: "pkg-1.0.0.tar.gz", Kind: registry.FileSdist, RequiresPython: ">=3.13"},
	}

	dist := registry.Classify("pkg", mustVersion(t, "1.0.0"), files, linuxPolicy(t))

	sel, err := dist.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if sel.Wheel == nil || sel.BuildFromSource {
		t.Fatalf("expected a compatible wheel selection, got %+v", sel)
	}
}

func TestSelectFallsBackToSourceWhenNoWheelMatches(t *testing.T) {
	files := []registry.File{
		{Filename: "pkg-1.0.0-cp39-cp39-win_amd64.whl", Kind: registry.FileWheel},
		{Filename: "pkg-1.0.0.tar.gz", Kind: registry.FileSdist, SHA256: "abc"},
	}

	dist := registry.Classify("pkg", mustVersion(t, "1.0.0"), files, linuxPolicy(t))

	sel, err := dist.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if !sel.BuildFromSource || sel.Source == nil {
		t.Fatalf("expected a source-build fallback, got %+v", sel)
	}
}

func TestSelectRejectsYankedOnly(t *testing.T) {
	files := []registry.File{
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", Kind: registry.FileWheel, Yanked: true},
	}

	dist := registry.Classify("pkg", mustVersion(t, "1.0.0"), files, linuxPolicy(t))

	if _, err := dist.Select(); err == nil {
		t.Fatal("expected an error when every candidate is yanked")
	}
}

func TestClassifyNoBinaryRejectsWheels(t *testing.T) {
	policy := linuxPolicy(t)
	policy.NoBinary = true

	files := []registry.File{
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", Kind: registry.FileWheel, SHA256: "abc"},
		{Filename: "pkg-1.0.0.tar.gz", Kind: registry.FileSdist, SHA256: "def"},
	}

	dist := registry.Classify("pkg", mustVersion(t, "1.0.0"), files, policy)

	sel, err := dist.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if !sel.BuildFromSource {
		t.Fatal("expected no-binary policy to force the source distribution")
	}

	if sel.Wheel == nil || sel.Wheel.Verdict.Reason != registry.ReasonNoBinary {
		t.Fatalf("expected the rejected wheel to carry the no-binary reason, got %+v", sel.Wheel)
	}
}

func TestIncompatibleReasonOrdering(t *testing.T) {
	if !(registry.ReasonExcludeNewer < registry.ReasonTagMismatch &&
		registry.ReasonTagMismatch < registry.ReasonRequiresPythonMismatch &&
		registry.ReasonRequiresPythonMismatch < registry.ReasonYanked &&
		registry.ReasonYanked < registry.ReasonNoBinary) {
		t.Error("expected incompatible reasons ordered exclude-newer > tag > requires-python > yanked > no-binary")
	}
}
