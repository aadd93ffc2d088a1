package snapshot

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":[{"version":"1.2-3"},{"version":"1.2-2"}]}`)
	}))
	defer srv.Close()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(store, nil)
	c.BaseURL = srv.URL

	versions, err := c.ListVersions("gzrt")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0] != "1.2-3" {
		t.Fatalf("got %v", versions)
	}

	// A second call should hit the on-disk cache, not the server; close
	// the server and confirm the cached result is still returned.
	srv.Close()
	versions2, err := c.ListVersions("gzrt")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions2) != 2 {
		t.Fatalf("got %v from cache", versions2)
	}
}

func TestFetchSrcFilesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(store, nil)
	c.BaseURL = srv.URL

	_, err = c.FetchSrcFiles("gzrt", "1.0-1")
	if _, ok := err.(*MissingSource); !ok {
		t.Fatalf("got %v, want *MissingSource", err)
	}
}
