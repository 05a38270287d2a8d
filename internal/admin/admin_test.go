package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/starford/kilnd/internal/kiln"
	"github.com/starford/kilnd/internal/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *kiln.Manager, string) {
	t.Helper()

	manager := testutil.NewManager(t)

	root := t.TempDir()
	testutil.WriteNote(t, root, "note.md", "# Hello\n\nsearchable body text\n")
	if err := manager.Open(root); err != nil {
		t.Fatalf("open kiln: %v", err)
	}

	srv := httptest.NewServer(NewRouter(manager, nil))
	t.Cleanup(srv.Close)
	return srv, manager, root
}

func getJSON(t *testing.T, rawURL string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", rawURL, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	live := getJSON(t, srv.URL+"/health/live", http.StatusOK)
	if live["status"] != "ok" {
		t.Errorf("live = %v", live)
	}

	ready := getJSON(t, srv.URL+"/health/ready", http.StatusOK)
	if ready["open_kilns"] != float64(1) {
		t.Errorf("ready = %v, want open_kilns 1", ready)
	}
}

func TestListKilns(t *testing.T) {
	srv, _, root := newTestServer(t)

	body := getJSON(t, srv.URL+"/api/kilns", http.StatusOK)
	kilns, _ := body["kilns"].([]any)
	if len(kilns) != 1 {
		t.Fatalf("kilns = %v, want 1", body)
	}
	entry, _ := kilns[0].(map[string]any)
	if entry["path"] != root {
		t.Errorf("path = %v, want %s", entry["path"], root)
	}
}

func TestKilnStats(t *testing.T) {
	srv, _, root := newTestServer(t)

	body := getJSON(t, srv.URL+"/api/kilns/stats?path="+url.QueryEscape(root), http.StatusOK)
	if body["path"] != root {
		t.Errorf("path = %v", body["path"])
	}
	if _, ok := body["queue"].(map[string]any); !ok {
		t.Errorf("missing queue stats: %v", body)
	}

	getJSON(t, srv.URL+"/api/kilns/stats", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/kilns/stats?path=/nope", http.StatusNotFound)
}

func TestSearch(t *testing.T) {
	srv, manager, root := newTestServer(t)

	// Index the kiln and wait for the write to land.
	k, err := manager.Get(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Index(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.WaitDrained(t, k)

	query := srv.URL + "/api/search?path=" + url.QueryEscape(root) + "&q=searchable"
	body := getJSON(t, query, http.StatusOK)
	if body["total"] != float64(1) {
		t.Fatalf("search body = %v, want one hit", body)
	}

	getJSON(t, srv.URL+"/api/search?path="+url.QueryEscape(root), http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/search?path=/nope&q=x", http.StatusNotFound)
}
