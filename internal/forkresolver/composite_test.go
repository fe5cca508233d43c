package forkresolver

import (
	"context"
	"testing"
)

func TestCompositeProviderPrefersOverride(t *testing.T) {
	base := &fakeProvider{versions: map[string][]PackageVersion{
		"demo": {{Version: mustVersion(t, "1.0.0")}},
	}}

	overrides := map[string][]PackageVersion{
		"demo": {{Version: mustVersion(t, "0.0.0+local")}},
	}

	c := NewCompositeProvider(base, overrides)

	got, err := c.Versions(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}

	if len(got) != 1 || got[0].Version.String() != "0.0.0+local" {
		t.Fatalf("expected the override version, got %+v", got)
	}

	other, err := c.Versions(context.Background(), "other")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}

	if len(other) != 0 {
		t.Fatalf("expected base's empty catalog for a non-overridden name, got %+v", other)
	}
}
