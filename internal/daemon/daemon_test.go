package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/config"
	"github.com/putplace/assist/internal/store"
)

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(dir, "assist.db")
	cfg.Server.Port = 0 // picked dynamically below
	cfg.Watcher.Enabled = false
	cfg.Uploader.Parallel = 1
	return cfg
}

func TestNewSeedsDefaultServerFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.RemoteServer = config.RemoteServerConfig{
		Name:     "primary",
		URL:      "https://example.invalid",
		Username: "alice",
		Password: "s3cret",
	}

	d, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	server, err := d.store.DefaultServer()
	if err != nil {
		t.Fatalf("DefaultServer: %v", err)
	}
	if server.Name != "primary" {
		t.Fatalf("seeded server name = %q, want primary", server.Name)
	}
}

func TestNewIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.RemoteServer = config.RemoteServerConfig{Name: "primary", URL: "https://example.invalid"}

	d1, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	d1.Close()

	d2, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("second New (restart): %v", err)
	}
	defer d2.Close()

	servers, err := d2.store.ListServers()
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1 (no duplicate seeding on restart)", len(servers))
	}
}

func TestRunServesHealthAndStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	d, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitForHealth(t, cfg.Server.Host, cfg.Server.Port)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop within 5s of cancel")
	}
}

func TestNextMidnightIsAlwaysInTheFuture(t *testing.T) {
	now := time.Now()
	next := nextMidnight(now)
	if !next.After(now) {
		t.Fatalf("nextMidnight(%v) = %v, want a time after now", now, next)
	}
	if next.Sub(now) > 24*time.Hour {
		t.Fatalf("nextMidnight(%v) = %v, more than 24h away", now, next)
	}
}

func TestExpandHomeResolvesTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir available: %v", err)
	}
	got, err := expandHome("~/assist/assist.db")
	if err != nil {
		t.Fatalf("expandHome: %v", err)
	}
	want := filepath.Join(home, "assist", "assist.db")
	if got != want {
		t.Fatalf("expandHome = %q, want %q", got, want)
	}
}

func TestSeedDefaultServerLeavesExistingServerUntouched(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "assist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	if _, err := st.CreateServer("primary", "https://first.invalid", "alice", "secret", true); err != nil {
		t.Fatalf("creating server: %v", err)
	}

	err = seedDefaultServer(st, config.RemoteServerConfig{Name: "primary", URL: "https://second.invalid"})
	if err != nil {
		t.Fatalf("seedDefaultServer on conflict should be a no-op, got: %v", err)
	}

	server, err := st.DefaultServer()
	if err != nil {
		t.Fatalf("DefaultServer: %v", err)
	}
	if server.BaseURL != "https://first.invalid" {
		t.Fatalf("existing server was overwritten: base_url = %q", server.BaseURL)
	}
}

func TestPruneFloorFallsBackToLatestWithNoActiveStream(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	d, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if err := d.store.Append(store.ActivityEvent{Kind: store.EventFileDiscovered}); err != nil {
		t.Fatalf("appending activity event: %v", err)
	}
	latest, err := d.store.LatestActivityID()
	if err != nil {
		t.Fatalf("LatestActivityID: %v", err)
	}

	floor, err := d.pruneFloor()
	if err != nil {
		t.Fatalf("pruneFloor: %v", err)
	}
	if floor != latest {
		t.Fatalf("pruneFloor() = %d, want %d (latest id, no stream connected)", floor, latest)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForHealth(t *testing.T, host string, port int) {
	t.Helper()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		res, err := http.Get("http://" + addr + "/health")
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("control plane never became healthy at %s", addr)
}
