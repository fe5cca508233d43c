// Package downloader fetches distribution files concurrently, verifying
// each against its expected digest before it is handed to the installer.
// A hash mismatch is fatal for that file — a silently corrupted artifact
// must never reach an environment.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

const maxAttempts = 3

// Request names one file to fetch.
type Request struct {
	Name     string // package name, for error context
	Version  string
	URL      string
	SHA256   string // expected digest, hex; empty skips verification
	Filename string
}

// Result is one fetched file.
type Result struct {
	Name     string
	Version  string
	FilePath string
	Size     int64
	Cached   bool // served from the wheel cache, no network request made
}

// Cache is consulted before downloading and populated after a verified
// download. wheelcache.Cache satisfies it.
type Cache interface {
	Lookup(filename, wantSHA256 string) (path string, ok bool)
	Add(srcPath, filename string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxWorkers bounds concurrent fetches. Defaults to GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithCache sets the wheel cache. A nil cache disables caching.
func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager downloads files into a target directory with bounded
// concurrency.
type Manager struct {
	targetDir  string
	workers    int
	httpClient *http.Client
	cache      Cache
	logger     *slog.Logger
}

// New creates a Manager writing into targetDir.
func New(targetDir string, opts ...Option) *Manager {
	m := &Manager{
		targetDir:  targetDir,
		workers:    runtime.GOMAXPROCS(0),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Download fetches every request, at most workers at a time. The first
// failure cancels the remaining fetches and is returned.
func (m *Manager) Download(ctx context.Context, requests []Request) ([]Result, error) {
	results := make([]Result, len(requests))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for i, req := range requests {
		g.Go(func() error {
			result, err := m.fetchOne(ctx, req)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", req.Name, err)
			}

			results[i] = result

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// fetchOne serves a single request: from the cache when possible,
// otherwise from the network with retries, verification, and a
// best-effort cache fill afterwards.
func (m *Manager) fetchOne(ctx context.Context, req Request) (Result, error) {
	if m.cache != nil {
		if path, ok := m.cache.Lookup(req.Filename, req.SHA256); ok {
			info, err := os.Stat(path)
			if err == nil {
				m.logger.Debug("wheel cache hit", slog.String("package", req.Name), slog.String("file", path))

				return Result{
					Name:     req.Name,
					Version:  req.Version,
					FilePath: path,
					Size:     info.Size(),
					Cached:   true,
				}, nil
			}
		}
	}

	m.logger.Debug("downloading", slog.String("package", req.Name), slog.String("url", req.URL))

	var lastErr error

	for attempt := range maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond

			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := m.attempt(ctx, req)
		if err == nil {
			if m.cache != nil {
				if err := m.cache.Add(result.FilePath, req.Filename); err != nil {
					m.logger.Debug("wheel cache fill failed", slog.String("file", req.Filename), slog.String("error", err.Error()))
				}
			}

			return result, nil
		}

		var te *transientError
		if !errors.As(err, &te) {
			return Result{}, err
		}

		lastErr = err
		m.logger.Debug("download attempt failed",
			slog.String("package", req.Name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return Result{}, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// attempt performs one GET: stream to a temp file while hashing, verify,
// then rename into place.
func (m *Manager) attempt(ctx context.Context, req Request) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &transientError{err: fmt.Errorf("requesting %s: %w", req.URL, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL)
		if resp.StatusCode >= http.StatusInternalServerError {
			return Result{}, &transientError{err: err}
		}

		return Result{}, err
	}

	destPath := filepath.Join(m.targetDir, req.Filename)

	size, digest, err := streamToFile(resp.Body, destPath)
	if err != nil {
		return Result{}, err
	}

	if req.SHA256 != "" && digest != req.SHA256 {
		_ = os.Remove(destPath)

		return Result{}, fmt.Errorf("sha256 mismatch for %s: expected %s, got %s", req.Filename, req.SHA256, digest)
	}

	return Result{
		Name:     req.Name,
		Version:  req.Version,
		FilePath: destPath,
		Size:     size,
	}, nil
}

// streamToFile writes body to destPath via a temp file, hashing as it
// copies, and renames into place only on a clean write.
func streamToFile(body io.Reader, destPath string) (int64, string, error) {
	tmpPath := destPath + ".partial"

	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("creating %s: %w", tmpPath, err)
	}

	h := sha256.New()

	size, err := io.Copy(io.MultiWriter(f, h), body)

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpPath)

		return 0, "", &transientError{err: fmt.Errorf("writing %s: %w", destPath, err)}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)

		return 0, "", fmt.Errorf("committing %s: %w", destPath, err)
	}

	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
