package httpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const (
	maxRetries = 3
)

// Client is a revalidating HTTP GET cache: fresh entries are served
// without a request, stale-but-revalidatable entries issue a conditional
// GET, and everything else is a plain fetch — then cached. The retry loop
// uses exponential backoff with retryableError marking transient
// failures, the same convention as the registry client's fetch loop.
type Client struct {
	httpClient *http.Client
	store      *Store
	logger     *slog.Logger
	now        func() time.Time
	transform  func([]byte) ([]byte, error)
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithClock overrides the wall clock, for tests that need deterministic
// freshness windows.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithTransform sets a hook run on every fetched response body before it
// is cached and returned, letting callers store a digested artifact (a
// parsed index page, a trimmed metadata document) instead of the raw
// response. Revalidated 304s reuse the previously transformed payload.
func WithTransform(fn func([]byte) ([]byte, error)) Option {
	return func(cl *Client) { cl.transform = fn }
}

// New creates a Client backed by store.
func New(store *Store, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get fetches url, preferring a cached copy when fresh and revalidating
// against the origin when stale.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if entry, ok := c.store.Load(url); ok {
		if entry.Policy.Fresh(c.now()) {
			c.logger.Debug("http cache fresh hit", slog.String("url", url))

			return entry.Payload, nil
		}

		if entry.Policy.Revalidatable() {
			return c.revalidate(ctx, url, entry)
		}
	}

	return c.fetchAndStore(ctx, url, nil)
}

// GetAllowStale serves any cached entry, fresh or stale, without
// revalidating; the network is contacted only on a miss. This is the
// allow-stale cache-control mode, for callers that prefer a possibly
// outdated answer over a round trip.
func (c *Client) GetAllowStale(ctx context.Context, url string) ([]byte, error) {
	if entry, ok := c.store.Load(url); ok {
		c.logger.Debug("http cache hit (stale permitted)", slog.String("url", url))

		return entry.Payload, nil
	}

	return c.fetchAndStore(ctx, url, nil)
}

func (c *Client) revalidate(ctx context.Context, url string, entry Entry) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building revalidation request for %s: %w", url, err)
	}

	if entry.Policy.ETag != "" {
		req.Header.Set("If-None-Match", entry.Policy.ETag)
	}

	if entry.Policy.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.Policy.LastModified)
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		c.logger.Debug("http cache revalidated, not modified", slog.String("url", url))

		refreshed := Entry{Payload: entry.Payload, Policy: PolicyFromHeaders(resp.Header.Get, c.now())}
		if err := c.store.Store(url, refreshed); err != nil {
			return nil, fmt.Errorf("storing revalidated policy for %s: %w", url, err)
		}

		return entry.Payload, nil
	}

	return c.finishFetch(url, resp)
}

func (c *Client) fetchAndStore(ctx context.Context, url string, extraHeaders map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return c.finishFetch(url, resp)
}

func (c *Client) finishFetch(url string, resp *http.Response) ([]byte, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body for %s: %w", url, err)
	}

	if c.transform != nil {
		payload, err = c.transform(payload)
		if err != nil {
			return nil, fmt.Errorf("transforming response for %s: %w", url, err)
		}
	}

	policy := PolicyFromHeaders(resp.Header.Get, c.now())
	if !policy.NoStore {
		if err := c.store.Store(url, Entry{Payload: payload, Policy: policy}); err != nil {
			c.logger.Debug("failed to write http cache entry", slog.String("url", url), slog.String("error", err.Error()))
		}
	}

	return payload, nil
}

// doWithRetry performs req with exponential backoff on transient
// failures.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetching %s: %w", req.URL, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if err == nil {
			_ = resp.Body.Close()
			lastErr = &retryableError{err: fmt.Errorf("server error: %s", resp.Status)}
		} else {
			lastErr = &retryableError{err: err}
		}

		var re *retryableError
		if !errors.As(lastErr, &re) {
			return nil, fmt.Errorf("fetching %s: %w", req.URL, lastErr)
		}
	}

	return nil, fmt.Errorf("fetching %s after %d attempts: %w", req.URL, maxRetries, lastErr)
}
