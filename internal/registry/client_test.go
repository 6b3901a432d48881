package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jellypm/jelly/internal/core"
)

func testPackageId(t *testing.T) core.PackageId {
	t.Helper()
	id, err := core.ParsePackageId("sleitnick/net")
	if err != nil {
		t.Fatalf("ParsePackageId: %v", err)
	}
	return id
}

const metadataFixture = `{
  "versions": [
    {
      "package": {
        "name": "net",
        "version": "0.2.0",
        "description": "networking utilities",
        "license": "MIT",
        "realm": "shared"
      },
      "dependencies": {
        "sleitnick/signal": "^1.0.0"
      }
    },
    {
      "package": {
        "name": "net",
        "version": "0.1.0",
        "realm": "shared"
      },
      "dependencies": {}
    }
  ]
}`

func TestClientMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/package-metadata/sleitnick/net" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(metadataFixture))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	id := testPackageId(t)

	meta, err := c.Metadata(context.Background(), id)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if len(meta.Versions) != 2 {
		t.Fatalf("len(Versions) = %d, want 2", len(meta.Versions))
	}
	latest, ok := meta.Latest()
	if !ok || latest.Version.String() != "0.2.0" {
		t.Errorf("Latest() = %+v, ok=%v, want 0.2.0", latest, ok)
	}
	if len(latest.Dependencies) != 1 {
		t.Errorf("len(Dependencies) = %d, want 1", len(latest.Dependencies))
	}
}

func TestClientMetadataCached(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte(metadataFixture))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	id := testPackageId(t)

	if _, err := c.Metadata(context.Background(), id); err != nil {
		t.Fatalf("Metadata (first): %v", err)
	}
	if _, err := c.Metadata(context.Background(), id); err != nil {
		t.Fatalf("Metadata (second): %v", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (second call should hit cache)", requests)
	}
}

func TestClientMetadataNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(server.URL, nil)
	id := testPackageId(t)

	_, err := c.Metadata(context.Background(), id)
	var notFound *core.PackageNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Metadata error = %v (%T), want *core.PackageNotFoundError", err, err)
	}
}

func TestClientLatestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataFixture))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	id := testPackageId(t)

	v, err := c.LatestVersion(context.Background(), id)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if v.String() != "0.2.0" {
		t.Errorf("LatestVersion = %s, want 0.2.0", v)
	}
}

const searchFixture = `{
  "data": [
    {"scope": "sleitnick", "name": "net", "versions": ["0.2.0", "0.1.0"], "description": "networking utilities"}
  ]
}`

func TestClientSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "net" {
			t.Errorf("query = %q, want net", r.URL.Query().Get("query"))
		}
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer server.Close()

	c := New(server.URL, nil)
	results, err := c.Search(context.Background(), "net", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Id.String() != "sleitnick/net" {
		t.Errorf("Id = %s, want sleitnick/net", results[0].Id)
	}
	if len(results[0].Versions) != 2 {
		t.Errorf("len(Versions) = %d, want 2", len(results[0].Versions))
	}
}

func TestClientDownload(t *testing.T) {
	content := []byte("PK\x03\x04fakezip")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		_, _ = w.Write(content)
	}))
	defer server.Close()

	c := New(server.URL, nil)
	id := testPackageId(t)
	v, err := core.ParseVersion("0.2.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}

	body, size, err := c.Download(context.Background(), id, v)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()

	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
}
