package httpcache_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pipg-project/pipg/internal/httpcache"

	"context"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, now func() time.Time) (*httpcache.Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := httpcache.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return httpcache.New(store, httpcache.WithHTTPClient(srv.Client()), httpcache.WithClock(now)), srv
}

func TestGetServesFreshFromCache(t *testing.T) {
	requests := 0
	now := time.Now()

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte("payload-v1"))
	}, func() time.Time { return now })

	body, err := client.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if string(body) != "payload-v1" {
		t.Fatalf("got %q", body)
	}

	now = now.Add(30 * time.Second)

	body, err = client.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}

	if string(body) != "payload-v1" {
		t.Fatalf("got %q from cache", body)
	}

	if requests != 1 {
		t.Errorf("expected exactly 1 origin request, got %d", requests)
	}
}

func TestGetRevalidatesStaleEntry(t *testing.T) {
	requests := 0
	now := time.Now()

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++

		if r.Header.Get("If-None-Match") == "etag-1" {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		w.Header().Set("ETag", "etag-1")
		w.Header().Set("Cache-Control", "max-age=1")
		_, _ = w.Write([]byte("payload-v1"))
	}, func() time.Time { return now })

	if _, err := client.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get: %v", err)
	}

	now = now.Add(10 * time.Second)

	body, err := client.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get (revalidated): %v", err)
	}

	if string(body) != "payload-v1" {
		t.Fatalf("got %q", body)
	}

	if requests != 2 {
		t.Errorf("expected a revalidation request, got %d total requests", requests)
	}
}

func TestGetAllowStaleServesExpiredEntry(t *testing.T) {
	requests := 0
	now := time.Now()

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Cache-Control", "max-age=1")
		_, _ = w.Write([]byte("payload-v1"))
	}, func() time.Time { return now })

	if _, err := client.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get: %v", err)
	}

	now = now.Add(time.Hour)

	body, err := client.GetAllowStale(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetAllowStale: %v", err)
	}

	if string(body) != "payload-v1" {
		t.Fatalf("got %q", body)
	}

	if requests != 1 {
		t.Errorf("expected the stale entry to be served without a request, origin saw %d", requests)
	}
}

func TestTransformRunsBeforeStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		_, _ = w.Write([]byte("  raw  "))
	}))
	t.Cleanup(srv.Close)

	store, err := httpcache.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	client := httpcache.New(store,
		httpcache.WithHTTPClient(srv.Client()),
		httpcache.WithTransform(func(b []byte) ([]byte, error) {
			return []byte("transformed"), nil
		}),
	)

	for range 2 {
		body, err := client.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}

		if string(body) != "transformed" {
			t.Fatalf("got %q, want the transformed artifact on both fetch and cache hit", body)
		}
	}
}

func TestTransportServesFreshWithoutOrigin(t *testing.T) {
	requests := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Cache-Control", "max-age=300")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	store, err := httpcache.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	client := &http.Client{Transport: httpcache.NewTransport(store, nil, nil)}

	for range 2 {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		_ = resp.Body.Close()
	}

	if requests != 1 {
		t.Errorf("expected the second request to be served from cache, origin saw %d", requests)
	}
}

func TestTransportRevalidatesWithConditionalRequest(t *testing.T) {
	requests := 0
	conditional := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)

			return
		}

		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("body"))
	}))
	t.Cleanup(srv.Close)

	store, err := httpcache.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	client := &http.Client{Transport: httpcache.NewTransport(store, nil, nil)}

	for range 2 {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}

		body, err := httpcache.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if err != nil {
			t.Fatalf("reading body: %v", err)
		}

		if string(body) != "body" {
			t.Fatalf("body = %q", body)
		}
	}

	if requests != 2 || conditional != 1 {
		t.Errorf("expected 1 full fetch + 1 conditional revalidation, got %d requests (%d conditional)", requests, conditional)
	}
}

func TestEntryRoundTrip(t *testing.T) {
	store, err := httpcache.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	entry := httpcache.Entry{
		Payload: []byte("hello world"),
		Policy:  httpcache.CachePolicy{ETag: `"abc"`, MaxAge: time.Minute, FetchedAt: time.Now()},
	}

	if err := store.Store("https://example.com/x", entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := store.Load("https://example.com/x")
	if !ok {
		t.Fatal("expected a cached entry")
	}

	if string(got.Payload) != "hello world" {
		t.Errorf("payload = %q, want %q", got.Payload, "hello world")
	}

	if got.Policy.ETag != `"abc"` {
		t.Errorf("ETag = %q, want %q", got.Policy.ETag, `"abc"`)
	}
}
