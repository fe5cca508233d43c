package httpcache

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that serves GET responses out of a
// Store when fresh, revalidates conditionally when stale, and passes
// everything else through untouched. Wrapping the transport (rather than
// replacing the whole client) keeps callers like the PyPI service
// oblivious to caching: they still see ordinary *http.Response values,
// status codes included, so their own retry and error classification
// keeps working.
type Transport struct {
	store  *Store
	base   http.RoundTripper
	logger *slog.Logger
	now    func() time.Time
}

// NewTransport wraps base (nil means http.DefaultTransport) with the
// cache rooted at store.
func NewTransport(store *Store, base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{store: store, base: base, logger: logger, now: time.Now}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.base.RoundTrip(req)
	}

	key := req.URL.String()

	entry, cached := t.store.Load(key)
	if cached && entry.Policy.Fresh(t.now()) {
		t.logger.Debug("http cache fresh hit", slog.String("url", key))

		return synthesizeResponse(req, entry.Payload), nil
	}

	if cached && entry.Policy.Revalidatable() {
		cond := req.Clone(req.Context())

		if entry.Policy.ETag != "" {
			cond.Header.Set("If-None-Match", entry.Policy.ETag)
		}

		if entry.Policy.LastModified != "" {
			cond.Header.Set("If-Modified-Since", entry.Policy.LastModified)
		}

		resp, err := t.base.RoundTrip(cond)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotModified {
			t.logger.Debug("http cache revalidated", slog.String("url", key))

			refreshed := Entry{Payload: entry.Payload, Policy: PolicyFromHeaders(resp.Header.Get, t.now())}
			if err := t.store.Store(key, refreshed); err != nil {
				t.logger.Debug("failed to rewrite cache policy", slog.String("url", key), slog.String("error", err.Error()))
			}

			_ = resp.Body.Close()

			return synthesizeResponse(req, entry.Payload), nil
		}

		return t.interceptAndStore(key, resp)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	return t.interceptAndStore(key, resp)
}

// interceptAndStore buffers a 200 response's body into the cache and hands
// the caller an equivalent response backed by the buffered bytes. Non-200
// responses pass through unread.
func (t *Transport) interceptAndStore(key string, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return nil, err
	}

	policy := PolicyFromHeaders(resp.Header.Get, t.now())
	if !policy.NoStore {
		if err := t.store.Store(key, Entry{Payload: payload, Policy: policy}); err != nil {
			t.logger.Debug("failed to write http cache entry", slog.String("url", key), slog.String("error", err.Error()))
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(payload))
	resp.ContentLength = int64(len(payload))

	return resp, nil
}

func synthesizeResponse(req *http.Request, payload []byte) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}
}
