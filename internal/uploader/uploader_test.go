package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

func newTestRig(t *testing.T, handler http.Handler) (*Uploader, *store.Store, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "assist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if _, err := st.CreateServer("primary", srv.URL, "alice", "secret", true); err != nil {
		t.Fatalf("creating server: %v", err)
	}

	u := New(st, zap.NewNop(), Config{Workers: 1, PollInterval: 10 * time.Millisecond, Hostname: "host", IPAddress: "127.0.0.1"})
	return u, st, srv
}

func enqueueReadyFile(t *testing.T, st *store.Store, dir, name, content, sha256 string) *store.File {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	root, err := st.CreateRoot(dir, true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
	file, _, err := st.DiscoverFile(root.ID, path, store.DiscoveredAttrs{Size: int64(len(content)), MtimeNs: 1})
	if err != nil {
		t.Fatalf("discovering file: %v", err)
	}
	if err := st.FinishFingerprint(file.ID, store.FingerprintResult{SHA256: sha256, Size: int64(len(content)), MtimeNs: 1, ExpectedMtimeNs: 1}); err != nil {
		t.Fatalf("finishing fingerprint: %v", err)
	}
	reloaded, err := st.GetFile(file.ID)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	return reloaded
}

func TestUploadSkipsContentWhenServerDeduplicates(t *testing.T) {
	var putFileCalls, uploadCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/put_file", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&putFileCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{"upload_required": false})
	})
	mux.HandleFunc("/upload_file/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uploadCalls, 1)
		w.WriteHeader(http.StatusOK)
	})

	u, st, _ := newTestRig(t, mux)
	dir := t.TempDir()
	file := enqueueReadyFile(t, st, dir, "a.txt", "hello", "deadbeef")

	entries, err := st.Claim(store.QueueUpload, "test", time.Minute, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("claiming upload entry: entries=%d err=%v", len(entries), err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u.handle(ctx, entries[0])

	if atomic.LoadInt32(&putFileCalls) != 1 {
		t.Fatalf("put_file calls = %d, want 1", putFileCalls)
	}
	if atomic.LoadInt32(&uploadCalls) != 0 {
		t.Fatalf("upload_file calls = %d, want 0 (server deduplicated)", uploadCalls)
	}

	got, err := st.GetFile(file.ID)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestUploadStreamsContentWhenRequired(t *testing.T) {
	var uploadCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/put_file", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"upload_required": true, "upload_url": "/upload_file/deadbeef"})
	})
	mux.HandleFunc("/upload_file/deadbeef", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uploadCalls, 1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart upload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	u, st, _ := newTestRig(t, mux)
	dir := t.TempDir()
	file := enqueueReadyFile(t, st, dir, "a.txt", "hello world", "deadbeef")

	entries, err := st.Claim(store.QueueUpload, "test", time.Minute, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("claiming upload entry: entries=%d err=%v", len(entries), err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u.handle(ctx, entries[0])

	if atomic.LoadInt32(&uploadCalls) != 1 {
		t.Fatalf("upload_file calls = %d, want 1", uploadCalls)
	}

	got, err := st.GetFile(file.ID)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestParseRetryAfterAcceptsSecondsAndHTTPDate(t *testing.T) {
	seconds := httptest.NewRecorder()
	seconds.Header().Set("Retry-After", "120")
	if got := parseRetryAfter(&http.Response{Header: seconds.Header()}); got != 120*time.Second {
		t.Fatalf("parseRetryAfter(seconds) = %v, want 120s", got)
	}

	future := time.Now().Add(5 * time.Minute).UTC().Format(http.TimeFormat)
	date := httptest.NewRecorder()
	date.Header().Set("Retry-After", future)
	got := parseRetryAfter(&http.Response{Header: date.Header()})
	if got <= 4*time.Minute || got > 5*time.Minute {
		t.Fatalf("parseRetryAfter(http-date) = %v, want close to 5m", got)
	}

	absent := httptest.NewRecorder()
	if got := parseRetryAfter(&http.Response{Header: absent.Header()}); got != 0 {
		t.Fatalf("parseRetryAfter(missing header) = %v, want 0", got)
	}
}

func TestClassifyHTTPErrorCarriesRetryAfterFor429(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Retry-After", "30")
	rec.WriteHeader(http.StatusTooManyRequests)
	res := rec.Result()

	err := classifyHTTPError(res, errors.New("429"))
	var te *transientError
	if !errors.As(err, &te) {
		t.Fatalf("classifyHTTPError(429) did not produce a transientError: %v", err)
	}
	if te.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %v, want 30s", te.RetryAfter)
	}
}

func TestUploadHonorsRetryAfterOn429(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/put_file", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	u, st, _ := newTestRig(t, mux)
	dir := t.TempDir()
	enqueueReadyFile(t, st, dir, "a.txt", "hello", "deadbeef")

	entries, err := st.Claim(store.QueueUpload, "test", time.Minute, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("claiming upload entry: entries=%d err=%v", len(entries), err)
	}
	before := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u.handle(ctx, entries[0])

	again, err := st.Claim(store.QueueUpload, "test2", time.Minute, 1)
	if err != nil {
		t.Fatalf("re-claiming: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("entry visible again immediately after a 429 with Retry-After: 42s; rescheduled too soon")
	}

	pending, err := st.PendingCount(store.QueueUpload)
	if err != nil || pending != 1 {
		t.Fatalf("pending uploads = %d err=%v, want 1 (rescheduled, not dropped)", pending, err)
	}
	if time.Since(before) > time.Second {
		t.Fatalf("test took too long; something other than scheduling blocked")
	}
}

func TestUploadTerminalFailureMarksFileFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/put_file", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	u, st, _ := newTestRig(t, mux)
	dir := t.TempDir()
	file := enqueueReadyFile(t, st, dir, "a.txt", "hello", "deadbeef")

	entries, err := st.Claim(store.QueueUpload, "test", time.Minute, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("claiming upload entry: entries=%d err=%v", len(entries), err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u.handle(ctx, entries[0])

	got, err := st.GetFile(file.ID)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed (terminal 400 response)", got.Status)
	}

	pending, err := st.PendingCount(store.QueueUpload)
	if err != nil {
		t.Fatalf("counting pending uploads: %v", err)
	}
	if pending != 0 {
		t.Fatalf("pending uploads = %d, want 0 (terminal failure drains the entry)", pending)
	}
}
