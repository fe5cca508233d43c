package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://pypi.org/pypi"
	maxAttempts    = 3
)

// FileKind distinguishes the two distribution formats an index serves.
type FileKind int

const (
	FileSdist FileKind = iota
	FileWheel
)

// File is one downloadable distribution file of a release.
type File struct {
	Filename       string
	URL            string
	Size           int64
	Kind           FileKind
	SHA256         string
	RequiresPython string
	Yanked         bool
}

// Release is one version of a project: its declared dependencies and the
// files the index offers for it.
type Release struct {
	Version        string
	RequiresDist   []string
	RequiresPython string
	Yanked         bool
	Files          []File
}

// Project is the full per-package index document: the latest release's
// metadata plus the file listing of every published version.
type Project struct {
	Name     string
	Latest   Release
	Versions map[string][]File
}

// Client is the resolver's view of a package index.
type Client interface {
	Project(ctx context.Context, name string) (*Project, error)
	Release(ctx context.Context, name, version string) (*Release, error)
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithBaseURL points the client at a different index root (used by tests
// with httptest.Server).
func WithBaseURL(base string) ClientOption {
	return func(c *HTTPClient) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// HTTPClient fetches project documents from a JSON index.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewClient creates an index client against PyPI's JSON API.
func NewClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Project fetches the full document for name.
func (c *HTTPClient) Project(ctx context.Context, name string) (*Project, error) {
	var doc wireDoc
	if err := c.fetch(ctx, fmt.Sprintf("%s/%s/json", c.baseURL, url.PathEscape(name)), &doc); err != nil {
		return nil, fmt.Errorf("fetching project %s: %w", name, err)
	}

	proj := &Project{
		Name:     doc.Info.Name,
		Latest:   doc.latestRelease(),
		Versions: make(map[string][]File, len(doc.Releases)),
	}

	for version, files := range doc.Releases {
		converted := make([]File, 0, len(files))
		for _, f := range files {
			converted = append(converted, f.domain())
		}

		proj.Versions[version] = converted
	}

	return proj, nil
}

// Release fetches the per-version document for name at version.
func (c *HTTPClient) Release(ctx context.Context, name, version string) (*Release, error) {
	var doc wireDoc
	if err := c.fetch(ctx, fmt.Sprintf("%s/%s/%s/json", c.baseURL, url.PathEscape(name), url.PathEscape(version)), &doc); err != nil {
		return nil, fmt.Errorf("fetching release %s %s: %w", name, version, err)
	}

	rel := doc.latestRelease()

	for _, f := range doc.URLs {
		rel.Files = append(rel.Files, f.domain())
	}

	return &rel, nil
}

// fetch GETs target and decodes its JSON body into out, retrying
// transient failures (network errors, 5xx) with exponential backoff.
// Permanent failures (404, malformed JSON) return immediately.
func (c *HTTPClient) fetch(ctx context.Context, target string, out any) error {
	var lastErr error

	for attempt := range maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			c.logger.Debug("retrying index request",
				slog.String("url", target),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.get(ctx, target, out)
		if err == nil {
			return nil
		}

		var te *transientError
		if !errors.As(err, &te) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *HTTPClient) get(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("not found: %s", target)
	case resp.StatusCode >= http.StatusInternalServerError:
		return &transientError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, target)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("reading body from %s: %w", target, err)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", target, err)
	}

	return nil
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// wireDoc mirrors the index's JSON shape; converted to the domain types
// above immediately after decoding so the rest of the code never touches
// wire field names.
type wireDoc struct {
	Info struct {
		Name           string   `json:"name"`
		Version        string   `json:"version"`
		RequiresDist   []string `json:"requires_dist"`
		RequiresPython string   `json:"requires_python"`
		Yanked         bool     `json:"yanked"`
	} `json:"info"`
	URLs     []wireFile            `json:"urls"`
	Releases map[string][]wireFile `json:"releases"`
}

func (d wireDoc) latestRelease() Release {
	return Release{
		Version:        d.Info.Version,
		RequiresDist:   d.Info.RequiresDist,
		RequiresPython: d.Info.RequiresPython,
		Yanked:         d.Info.Yanked,
	}
}

type wireFile struct {
	Filename       string `json:"filename"`
	URL            string `json:"url"`
	Size           int64  `json:"size"`
	PackageType    string `json:"packagetype"`
	RequiresPython string `json:"requires_python"`
	Yanked         bool   `json:"yanked"`
	Digests        struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

func (f wireFile) domain() File {
	kind := FileSdist
	if f.PackageType == "bdist_wheel" {
		kind = FileWheel
	}

	return File{
		Filename:       f.Filename,
		URL:            f.URL,
		Size:           f.Size,
		Kind:           kind,
		SHA256:         f.Digests.SHA256,
		RequiresPython: f.RequiresPython,
		Yanked:         f.Yanked,
	}
}
