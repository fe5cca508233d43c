// Package wheelcache keeps verified wheel files across runs, keyed by
// filename and guarded by digest: a cached wheel is only served when its
// bytes still hash to what the caller expects, so a corrupted or
// tampered entry degrades to a re-download instead of an install.
package wheelcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Option configures a Cache.
type Option func(*Cache)

// WithDir overrides the cache directory.
func WithDir(dir string) Option {
	return func(c *Cache) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache is a directory of previously downloaded wheels.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// Open creates the cache directory if needed and returns a handle to it.
// Without WithDir, the location follows PIPG_CACHE_DIR and then the
// user's cache home.
func Open(opts ...Option) (*Cache, error) {
	c := &Cache{logger: slog.Default()}

	for _, opt := range opts {
		opt(c)
	}

	if c.dir == "" {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}

		c.dir = dir
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating wheel cache %s: %w", c.dir, err)
	}

	return c, nil
}

func defaultDir() (string, error) {
	if dir := os.Getenv("PIPG_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, "wheels"), nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}

	return filepath.Join(base, "pipg", "wheels"), nil
}

// Lookup returns the on-disk path of a cached wheel whose content still
// matches wantSHA256. A missing entry, an empty expected digest, or a
// digest mismatch all report a miss; a mismatching entry is removed so
// the next Add starts clean.
func (c *Cache) Lookup(filename, wantSHA256 string) (string, bool) {
	if wantSHA256 == "" {
		return "", false // nothing to verify against; never trust blindly
	}

	path := filepath.Join(c.dir, filename)

	got, err := digestOf(path)
	if err != nil {
		return "", false
	}

	if got != wantSHA256 {
		c.logger.Debug("wheel cache digest mismatch, evicting",
			slog.String("file", filename),
			slog.String("want", wantSHA256),
			slog.String("got", got),
		)
		_ = os.Remove(path)

		return "", false
	}

	return path, true
}

// Add copies a verified wheel into the cache, atomically: the bytes land
// in a temp file first and are renamed into place, so concurrent readers
// never observe a partial entry.
func (c *Cache) Add(srcPath, filename string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(c.dir, filename+".*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("copying %s into cache: %w", filename, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("closing cache temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, filename)); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("committing %s to cache: %w", filename, err)
	}

	return nil
}

func digestOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
