package registry_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipg-project/pipg/internal/registry"
)

const projectDoc = `{
  "info": {
    "name": "flask",
    "version": "3.0.0",
    "requires_dist": ["werkzeug>=3.0", "jinja2>=3.1"],
    "requires_python": ">=3.8"
  },
  "urls": [
    {"filename": "flask-3.0.0-py3-none-any.whl", "url": "https://files.example/flask-3.0.0-py3-none-any.whl",
     "size": 101862, "packagetype": "bdist_wheel", "digests": {"sha256": "abc123"}}
  ],
  "releases": {
    "3.0.0": [
      {"filename": "flask-3.0.0-py3-none-any.whl", "url": "https://files.example/flask-3.0.0-py3-none-any.whl",
       "size": 101862, "packagetype": "bdist_wheel", "digests": {"sha256": "abc123"}},
      {"filename": "flask-3.0.0.tar.gz", "url": "https://files.example/flask-3.0.0.tar.gz",
       "size": 674573, "packagetype": "sdist", "digests": {"sha256": "def456"}}
    ],
    "2.3.0": [
      {"filename": "flask-2.3.0-py3-none-any.whl", "url": "https://files.example/flask-2.3.0-py3-none-any.whl",
       "size": 96112, "packagetype": "bdist_wheel", "yanked": true, "digests": {"sha256": "0ld"}}
    ]
  }
}`

func newTestClient(t *testing.T, handler http.Handler) *registry.HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return registry.NewClient(
		registry.WithBaseURL(srv.URL),
		registry.WithHTTPClient(srv.Client()),
	)
}

func TestProjectConvertsWireDocument(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flask/json" {
			http.NotFound(w, r)

			return
		}

		fmt.Fprint(w, projectDoc)
	}))

	proj, err := client.Project(context.Background(), "flask")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	if proj.Name != "flask" || proj.Latest.Version != "3.0.0" {
		t.Fatalf("unexpected project header: %+v", proj)
	}

	if len(proj.Latest.RequiresDist) != 2 {
		t.Errorf("RequiresDist = %v", proj.Latest.RequiresDist)
	}

	files := proj.Versions["3.0.0"]
	if len(files) != 2 {
		t.Fatalf("expected 2 files for 3.0.0, got %d", len(files))
	}

	if files[0].Kind != registry.FileWheel || files[0].SHA256 != "abc123" {
		t.Errorf("wheel file not converted: %+v", files[0])
	}

	if files[1].Kind != registry.FileSdist {
		t.Errorf("sdist file not converted: %+v", files[1])
	}

	if old := proj.Versions["2.3.0"]; len(old) != 1 || !old[0].Yanked {
		t.Errorf("expected the old release's yank state to survive conversion, got %+v", old)
	}
}

func TestReleaseUsesTopLevelFileList(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flask/3.0.0/json" {
			http.NotFound(w, r)

			return
		}

		fmt.Fprint(w, projectDoc)
	}))

	rel, err := client.Release(context.Background(), "flask", "3.0.0")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	if rel.Version != "3.0.0" || len(rel.Files) != 1 {
		t.Fatalf("unexpected release: %+v", rel)
	}

	if rel.Files[0].Filename != "flask-3.0.0-py3-none-any.whl" {
		t.Errorf("Files[0] = %+v", rel.Files[0])
	}
}

func TestProjectNotFoundIsPermanent(t *testing.T) {
	requests := 0

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))

	if _, err := client.Project(context.Background(), "no-such-package"); err == nil {
		t.Fatal("expected an error for a missing package")
	}

	if requests != 1 {
		t.Errorf("expected a 404 not to be retried, origin saw %d requests", requests)
	}
}

func TestProjectRetriesServerErrors(t *testing.T) {
	requests := 0

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		fmt.Fprint(w, projectDoc)
	}))

	proj, err := client.Project(context.Background(), "flask")
	if err != nil {
		t.Fatalf("Project after retry: %v", err)
	}

	if proj.Latest.Version != "3.0.0" {
		t.Errorf("Latest.Version = %q", proj.Latest.Version)
	}

	if requests != 2 {
		t.Errorf("expected exactly one retry, origin saw %d requests", requests)
	}
}
