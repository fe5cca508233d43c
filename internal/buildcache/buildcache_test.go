package buildcache_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pipg-project/pipg/internal/buildcache"
)

func TestBuildCachesByFingerprint(t *testing.T) {
	dir := t.TempDir()
	cache := buildcache.New(dir, nil)

	var calls int32

	build := func(ctx context.Context) (string, string, error) {
		atomic.AddInt32(&calls, 1)

		return "demo-1.0-py3-none-any.whl", filepath.Join(dir, "demo-1.0-py3-none-any.whl"), nil
	}

	fp := buildcache.FromURL("https://example.com/demo-1.0.tar.gz")

	first, err := cache.Build(context.Background(), fp, build)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	second, err := cache.Build(context.Background(), fp, build)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if first.Filename != second.Filename {
		t.Errorf("expected repeated builds of the same fingerprint to return the same wheel")
	}

	if calls != 1 {
		t.Errorf("expected build to run exactly once, ran %d times", calls)
	}
}

func TestBuildPersistsAcrossCacheInstances(t *testing.T) {
	dir := t.TempDir()
	fp := buildcache.FromGitCommit("https://example.com/repo.git", "abc123")

	build := func(ctx context.Context) (string, string, error) {
		return "pkg-2.0-py3-none-any.whl", filepath.Join(dir, "pkg-2.0-py3-none-any.whl"), nil
	}

	first := buildcache.New(dir, nil)
	if _, err := first.Build(context.Background(), fp, build); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var calls int32

	second := buildcache.New(dir, nil)
	built, err := second.Build(context.Background(), fp, func(ctx context.Context) (string, string, error) {
		atomic.AddInt32(&calls, 1)

		return "pkg-2.0-py3-none-any.whl", filepath.Join(dir, "pkg-2.0-py3-none-any.whl"), nil
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if calls != 0 {
		t.Error("expected a fresh Cache instance to reuse the on-disk manifest without rebuilding")
	}

	if built.Filename != "pkg-2.0-py3-none-any.whl" {
		t.Errorf("built.Filename = %q", built.Filename)
	}
}

func TestDifferentFingerprintsBuildSeparately(t *testing.T) {
	dir := t.TempDir()
	cache := buildcache.New(dir, nil)

	var calls int32

	build := func(ctx context.Context) (string, string, error) {
		n := atomic.AddInt32(&calls, 1)

		return filepath.Base(filepath.Join(dir, "w", time.Now().Format("15:04:05"))) + string(rune(n)), dir, nil
	}

	_, err := cache.Build(context.Background(), buildcache.FromURL("https://example.com/a.tar.gz"), build)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	_, err = cache.Build(context.Background(), buildcache.FromURL("https://example.com/b.tar.gz"), build)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 distinct builds, got %d", calls)
	}
}
