package registry_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/registry"
)

func TestParseWheelFilename(t *testing.T) {
	tests := []struct {
		filename  string
		name      string
		version   string
		build     string
		tag       registry.Tag
		expectErr bool
	}{
		{
			filename: "flask-3.0.0-py3-none-any.whl",
			name:     "flask",
			version:  "3.0.0",
			tag:      registry.Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
		},
		{
			filename: "numpy-1.26.4-1-cp312-cp312-manylinux_2_17_x86_64.whl",
			name:     "numpy",
			version:  "1.26.4",
			build:    "1",
			tag:      registry.Tag{Interpreter: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		},
		{filename: "not-a-wheel.tar.gz", expectErr: true},
		{filename: "toofew-1.0.whl", expectErr: true},
	}

	for _, tt := range tests {
		name, version, build, tag, err := registry.ParseWheelFilename(tt.filename)

		if tt.expectErr {
			if err == nil {
				t.Errorf("ParseWheelFilename(%q): expected error", tt.filename)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseWheelFilename(%q): %v", tt.filename, err)
			continue
		}

		if name != tt.name || version != tt.version || build != tt.build || tag != tt.tag {
			t.Errorf("ParseWheelFilename(%q) = %q %q %q %+v", tt.filename, name, version, build, tag)
		}
	}
}

func TestTagMatchesCompoundValues(t *testing.T) {
	wheel := registry.Tag{Interpreter: "py2.py3", ABI: "none", Platform: "any"}

	if !wheel.Matches(registry.Tag{Interpreter: "py3", ABI: "none", Platform: "any"}) {
		t.Error("expected py2.py3 to match py3")
	}

	if wheel.Matches(registry.Tag{Interpreter: "cp312", ABI: "none", Platform: "any"}) {
		t.Error("expected py2.py3 not to match cp312")
	}
}

func TestCompatTagsOrdering(t *testing.T) {
	tags := registry.CompatTags("312", "linux_x86_64")

	if len(tags) == 0 {
		t.Fatal("expected a non-empty tag list")
	}

	first := tags[0]
	if first.Interpreter != "cp312" || first.ABI != "cp312" || first.Platform != "linux_x86_64" {
		t.Errorf("expected the native tag first, got %+v", first)
	}

	last := tags[len(tags)-1]
	if last.Interpreter != "py3" || last.Platform != "any" {
		t.Errorf("expected the pure-Python any tag last, got %+v", last)
	}

	// Linux expands into manylinux generations.
	foundManylinux := false

	for _, tag := range tags {
		if tag.Platform == "manylinux_2_17_x86_64" {
			foundManylinux = true
		}
	}

	if !foundManylinux {
		t.Error("expected manylinux_2_17_x86_64 among the accepted platforms")
	}
}

func TestCompatTagsMacOSIncludesUniversal2(t *testing.T) {
	tags := registry.CompatTags("311", "macosx_14_0_arm64")

	found := false

	for _, tag := range tags {
		if tag.Platform == "macosx_14_0_universal2" {
			found = true
		}
	}

	if !found {
		t.Error("expected universal2 among accepted macOS platforms")
	}
}
