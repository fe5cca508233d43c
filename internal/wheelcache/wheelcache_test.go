package wheelcache_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipg-project/pipg/internal/wheelcache"
)

func digest(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func TestAddThenLookup(t *testing.T) {
	cache, err := wheelcache.Open(wheelcache.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("wheel payload")
	src := filepath.Join(t.TempDir(), "demo-1.0.0-py3-none-any.whl")

	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := cache.Add(src, "demo-1.0.0-py3-none-any.whl"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	path, ok := cache.Lookup("demo-1.0.0-py3-none-any.whl", digest(content))
	if !ok {
		t.Fatal("expected a cache hit after Add")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}

	if string(got) != string(content) {
		t.Error("cached content does not match source")
	}
}

func TestLookupRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()

	cache, err := wheelcache.Open(wheelcache.WithDir(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "evil.whl"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Lookup("evil.whl", digest([]byte("original"))); ok {
		t.Fatal("expected a digest mismatch to report a miss")
	}

	if _, err := os.Stat(filepath.Join(dir, "evil.whl")); !os.IsNotExist(err) {
		t.Error("expected the mismatching entry to be evicted")
	}
}

func TestLookupWithoutExpectedDigestMisses(t *testing.T) {
	dir := t.TempDir()

	cache, err := wheelcache.Open(wheelcache.WithDir(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "demo.whl"), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Lookup("demo.whl", ""); ok {
		t.Error("expected a lookup with no expected digest to miss")
	}
}
