// Package buildcache caches sdist build outputs keyed by a fingerprint
// derived from the source input: a normalized URL, a
// resolved Git commit, or a path's content timestamp. Concurrent build
// requests for the same fingerprint are collapsed to a single backend
// invocation via golang.org/x/sync/singleflight: two resolver forks can
// legitimately demand the same source build at the same time.
package buildcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fingerprint is the cache key for one source input.
type Fingerprint string

// FromURL fingerprints a URL source by its normalized form.
func FromURL(url string) Fingerprint {
	return hashFingerprint("url", url)
}

// FromGitCommit fingerprints a Git source by its resolved commit hash.
func FromGitCommit(repo, commit string) Fingerprint {
	return hashFingerprint("git", repo+"@"+commit)
}

// FromPath fingerprints a local path source by the directory mtime of its
// newest tracked entry, so edits invalidate the cache without needing
// content hashing of the whole tree.
func FromPath(path string, newestMtime time.Time) Fingerprint {
	return hashFingerprint("path", path+"@"+newestMtime.UTC().Format(time.RFC3339Nano))
}

func hashFingerprint(kind, key string) Fingerprint {
	sum := sha256.Sum256([]byte(kind + ":" + key))

	return Fingerprint(kind + "-" + hex.EncodeToString(sum[:])[:32])
}

// BuiltWheel records one successful build's output.
type BuiltWheel struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	BuiltAt  time.Time `json:"built_at"`
}

// manifest is the per-shard on-disk record: filename -> wheel -> metadata
// is approximated here as filename -> BuiltWheel, since the metadata
// itself lives in the wheel's own METADATA file once built.
type manifest struct {
	Wheels map[string]BuiltWheel `json:"wheels"`
}

// BuildFunc performs the actual sdist -> wheel build and returns the
// resulting wheel's filename and path on disk.
type BuildFunc func(ctx context.Context) (filename, path string, err error)

// Cache enforces at-most-one-build-per-fingerprint and persists build
// manifests under dir, one subdirectory (shard) per fingerprint.
type Cache struct {
	dir    string
	logger *slog.Logger
	group  singleflight.Group
}

// New creates a Cache rooted at dir.
func New(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{dir: dir, logger: logger}
}

func (c *Cache) shardDir(fp Fingerprint) string {
	return filepath.Join(c.dir, string(fp))
}

func (c *Cache) manifestPath(fp Fingerprint) string {
	return filepath.Join(c.shardDir(fp), "manifest.json")
}

// Build returns the cached wheel for fp if the shard's manifest already
// records one; otherwise it invokes build, persists the result, and
// returns it. Concurrent calls for the same fingerprint within this
// process share a single in-flight build via singleflight; the manifest
// file additionally makes the cache durable across process restarts.
func (c *Cache) Build(ctx context.Context, fp Fingerprint, build BuildFunc) (BuiltWheel, error) {
	if existing, ok := c.loadManifest(fp); ok {
		c.logger.Debug("build cache hit", slog.String("fingerprint", string(fp)))

		return existing, nil
	}

	v, err, shared := c.group.Do(string(fp), func() (any, error) {
		// Re-check after winning the singleflight race: another process
		// (not just another goroutine in this one) may have finished the
		// build and written the manifest while we were waiting.
		if existing, ok := c.loadManifest(fp); ok {
			return existing, nil
		}

		return c.buildAndStore(ctx, fp, build)
	})
	if err != nil {
		return BuiltWheel{}, err
	}

	if shared {
		c.logger.Debug("build cache request joined an in-flight build", slog.String("fingerprint", string(fp)))
	}

	return v.(BuiltWheel), nil
}

func (c *Cache) buildAndStore(ctx context.Context, fp Fingerprint, build BuildFunc) (BuiltWheel, error) {
	filename, path, err := build(ctx)
	if err != nil {
		return BuiltWheel{}, fmt.Errorf("building fingerprint %s: %w", fp, err)
	}

	built := BuiltWheel{Filename: filename, Path: path, BuiltAt: time.Now()}

	if err := c.storeManifest(fp, built); err != nil {
		return BuiltWheel{}, fmt.Errorf("persisting build manifest for %s: %w", fp, err)
	}

	return built, nil
}

func (c *Cache) loadManifest(fp Fingerprint) (BuiltWheel, bool) {
	raw, err := os.ReadFile(c.manifestPath(fp))
	if err != nil {
		return BuiltWheel{}, false
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		c.logger.Debug("build cache manifest corrupt, ignoring", slog.String("fingerprint", string(fp)), slog.String("error", err.Error()))

		return BuiltWheel{}, false
	}

	for _, w := range m.Wheels {
		return w, true
	}

	return BuiltWheel{}, false
}

func (c *Cache) storeManifest(fp Fingerprint, built BuiltWheel) error {
	if err := os.MkdirAll(c.shardDir(fp), 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}

	m := manifest{Wheels: map[string]BuiltWheel{built.Filename: built}}

	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmpPath := c.manifestPath(fp) + ".tmp"

	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if err := os.Rename(tmpPath, c.manifestPath(fp)); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("renaming manifest: %w", err)
	}

	return nil
}
