package installer_test

import (
	"testing"

	"github.com/pipg-project/pipg/internal/installer"
)

func TestParseWheelMeta(t *testing.T) {
	content := []byte("Wheel-Version: 1.0\nGenerator: bdist_wheel (0.41.2)\nRoot-Is-Purelib: true\nTag: py3-none-any\nTag: py2-none-any\n")

	meta, err := installer.ParseWheelMeta(content)
	if err != nil {
		t.Fatalf("ParseWheelMeta: %v", err)
	}

	if meta.WheelVersion != "1.0" {
		t.Errorf("WheelVersion = %q, want 1.0", meta.WheelVersion)
	}

	if !meta.RootIsPurelib {
		t.Error("expected Root-Is-Purelib true")
	}

	if len(meta.Tags) != 2 || meta.Tags[0] != "py3-none-any" {
		t.Errorf("Tags = %v", meta.Tags)
	}
}

func TestCheckWheelVersionRejectsMajorBump(t *testing.T) {
	if err := installer.CheckWheelVersion(installer.WheelMeta{WheelVersion: "2.0"}); err == nil {
		t.Error("expected Wheel-Version 2.0 to be rejected")
	}

	if err := installer.CheckWheelVersion(installer.WheelMeta{WheelVersion: "1.9"}); err != nil {
		t.Errorf("expected Wheel-Version 1.9 to be accepted, got %v", err)
	}
}
