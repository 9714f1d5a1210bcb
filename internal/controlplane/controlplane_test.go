package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/fingerprinter"
	"github.com/putplace/assist/internal/scanner"
	"github.com/putplace/assist/internal/store"
	"github.com/putplace/assist/internal/uploader"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "assist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sc := scanner.New(st, zap.NewNop())
	fp := fingerprinter.New(st, zap.NewNop(), fingerprinter.Config{})
	up := uploader.New(st, zap.NewNop(), uploader.Config{})

	return New(st, sc, fp, up, zap.NewNop(), "test"), st
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer res.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decoding /health: %v", err)
	}
	if !health.OK {
		t.Fatalf("health.OK = false, want true")
	}

	res2, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer res2.Body.Close()
	var status statusResponse
	if err := json.NewDecoder(res2.Body).Decode(&status); err != nil {
		t.Fatalf("decoding /status: %v", err)
	}
	if status.Version != "test" {
		t.Fatalf("status.Version = %q, want test", status.Version)
	}
}

func TestCreateRootConflictReturnsExistingID(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"path":"/srv/data","recursive":true}`
	res1, err := http.Post(srv.URL+"/roots", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	var root1 store.Root
	if err := json.NewDecoder(res1.Body).Decode(&root1); err != nil {
		t.Fatalf("decoding first create: %v", err)
	}
	res1.Body.Close()
	if res1.StatusCode != http.StatusOK {
		t.Fatalf("first create status = %d, want 200", res1.StatusCode)
	}

	res2, err := http.Post(srv.URL+"/roots", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409", res2.StatusCode)
	}
	var root2 store.Root
	if err := json.NewDecoder(res2.Body).Decode(&root2); err != nil {
		t.Fatalf("decoding second create: %v", err)
	}
	if root2.ID != root1.ID {
		t.Fatalf("conflict root id = %d, want existing id %d", root2.ID, root1.ID)
	}
}

func TestListFilesAndActivity(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	root, err := st.CreateRoot("/srv/data", true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
	if _, _, err := st.DiscoverFile(root.ID, "/srv/data/a.txt", store.DiscoveredAttrs{Size: 5, MtimeNs: 1}); err != nil {
		t.Fatalf("discovering file: %v", err)
	}

	res, err := http.Get(srv.URL + "/files")
	if err != nil {
		t.Fatalf("GET /files: %v", err)
	}
	defer res.Body.Close()
	var files []store.File
	if err := json.NewDecoder(res.Body).Decode(&files); err != nil {
		t.Fatalf("decoding /files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}

	res2, err := http.Get(srv.URL + "/activity?since_id=0")
	if err != nil {
		t.Fatalf("GET /activity: %v", err)
	}
	defer res2.Body.Close()
	var events []store.ActivityEvent
	if err := json.NewDecoder(res2.Body).Decode(&events); err != nil {
		t.Fatalf("decoding /activity: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("len(events) = 0, want at least the file_discovered event")
	}
}

func TestServerResponseNeverCarriesSecret(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	if _, err := st.CreateServer("primary", "http://example.invalid", "alice", "topsecret", true); err != nil {
		t.Fatalf("creating server: %v", err)
	}

	res, err := http.Get(srv.URL + "/servers")
	if err != nil {
		t.Fatalf("GET /servers: %v", err)
	}
	defer res.Body.Close()

	var servers []serverResponse
	if err := json.NewDecoder(res.Body).Decode(&servers); err != nil {
		t.Fatalf("decoding /servers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(servers))
	}
	if strings.Contains(servers[0].SecretFingerprint, "topsecret") {
		t.Fatalf("secret_fingerprint leaked the plaintext secret: %q", servers[0].SecretFingerprint)
	}
}
