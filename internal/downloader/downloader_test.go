package downloader_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pipg-project/pipg/internal/downloader"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func TestDownloadVerifiesDigest(t *testing.T) {
	content := []byte("wheel bytes")

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	})

	dir := t.TempDir()
	mgr := downloader.New(dir, downloader.WithHTTPClient(srv.Client()))

	results, err := mgr.Download(context.Background(), []downloader.Request{{
		Name:     "demo",
		Version:  "1.0.0",
		URL:      srv.URL + "/demo.whl",
		SHA256:   sha256Hex(content),
		Filename: "demo-1.0.0-py3-none-any.whl",
	}})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(results) != 1 || results[0].Size != int64(len(content)) || results[0].Cached {
		t.Fatalf("unexpected result: %+v", results)
	}

	got, err := os.ReadFile(filepath.Join(dir, "demo-1.0.0-py3-none-any.whl"))
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}

	if string(got) != string(content) {
		t.Error("downloaded content does not match served content")
	}
}

func TestDownloadDigestMismatchIsFatal(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("corrupted"))
	})

	requests := 0
	countingClient := srv.Client()
	countingClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		requests++

		return http.DefaultTransport.RoundTrip(req)
	})

	mgr := downloader.New(t.TempDir(), downloader.WithHTTPClient(countingClient))

	_, err := mgr.Download(context.Background(), []downloader.Request{{
		Name:     "demo",
		URL:      srv.URL + "/demo.whl",
		SHA256:   sha256Hex([]byte("expected")),
		Filename: "demo-1.0.0-py3-none-any.whl",
	}})
	if err == nil {
		t.Fatal("expected a digest mismatch error")
	}

	if requests != 1 {
		t.Errorf("expected a digest mismatch not to be retried, origin saw %d requests", requests)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestDownloadRetriesServerErrors(t *testing.T) {
	content := []byte("eventually fine")

	var hits atomic.Int32

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write(content)
	})

	mgr := downloader.New(t.TempDir(), downloader.WithHTTPClient(srv.Client()))

	results, err := mgr.Download(context.Background(), []downloader.Request{{
		Name:     "demo",
		URL:      srv.URL + "/demo.whl",
		SHA256:   sha256Hex(content),
		Filename: "demo-1.0.0-py3-none-any.whl",
	}})
	if err != nil {
		t.Fatalf("Download after retry: %v", err)
	}

	if hits.Load() != 2 {
		t.Errorf("expected exactly one retry, got %d requests", hits.Load())
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

// fakeCache records lookups and adds without touching a real cache dir.
type fakeCache struct {
	entries map[string]string // filename -> path
	added   []string
}

func (c *fakeCache) Lookup(filename, _ string) (string, bool) {
	path, ok := c.entries[filename]

	return path, ok
}

func (c *fakeCache) Add(srcPath, filename string) error {
	c.added = append(c.added, filename)

	return nil
}

func TestDownloadCacheHitSkipsNetwork(t *testing.T) {
	content := []byte("cached wheel")
	cachedPath := filepath.Join(t.TempDir(), "demo-1.0.0-py3-none-any.whl")

	if err := os.WriteFile(cachedPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cache := &fakeCache{entries: map[string]string{"demo-1.0.0-py3-none-any.whl": cachedPath}}

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("network should not be contacted on a cache hit")
	})

	mgr := downloader.New(t.TempDir(), downloader.WithHTTPClient(srv.Client()), downloader.WithCache(cache))

	results, err := mgr.Download(context.Background(), []downloader.Request{{
		Name:     "demo",
		URL:      srv.URL + "/demo.whl",
		SHA256:   sha256Hex(content),
		Filename: "demo-1.0.0-py3-none-any.whl",
	}})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if !results[0].Cached || results[0].FilePath != cachedPath {
		t.Fatalf("expected a cache hit result, got %+v", results[0])
	}
}

func TestDownloadFillsCacheAfterVerification(t *testing.T) {
	content := []byte("fresh wheel")

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	})

	cache := &fakeCache{entries: map[string]string{}}
	mgr := downloader.New(t.TempDir(), downloader.WithHTTPClient(srv.Client()), downloader.WithCache(cache))

	results, err := mgr.Download(context.Background(), []downloader.Request{{
		Name:     "demo",
		URL:      srv.URL + "/demo.whl",
		SHA256:   sha256Hex(content),
		Filename: "demo-1.0.0-py3-none-any.whl",
	}})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if results[0].Cached {
		t.Error("expected a cache miss result")
	}

	if len(cache.added) != 1 || cache.added[0] != "demo-1.0.0-py3-none-any.whl" {
		t.Errorf("expected the verified wheel to be added to the cache, got %v", cache.added)
	}
}
