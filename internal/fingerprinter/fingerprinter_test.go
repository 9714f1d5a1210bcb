package fingerprinter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

func newTestRig(t *testing.T) (*Fingerprinter, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "assist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := New(st, zap.NewNop(), Config{ChunkSize: 4, PollInterval: 10 * time.Millisecond})
	return f, st, dir
}

func runUntilIdle(t *testing.T, f *Fingerprinter, st *store.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		pending, err := st.PendingCount(store.QueueChecksum)
		if err != nil {
			t.Fatalf("counting pending: %v", err)
		}
		if pending == 0 {
			return
		}
		entries, err := st.Claim(store.QueueChecksum, "test", time.Minute, 1)
		if err != nil {
			t.Fatalf("claiming: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		f.process(ctx, entries[0])
	}
}

func TestProcessHashesFileAndMarksReadyForUpload(t *testing.T) {
	f, st, dir := newTestRig(t)

	path := filepath.Join(dir, "a.txt")
	content := []byte("hello world, this is more than one chunk long")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	info, _ := os.Stat(path)

	root, err := st.CreateRoot(dir, true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
	_, _, err = st.DiscoverFile(root.ID, path, store.DiscoveredAttrs{
		Size:    info.Size(),
		MtimeNs: info.ModTime().UnixNano(),
	})
	if err != nil {
		t.Fatalf("discovering file: %v", err)
	}

	runUntilIdle(t, f, st)

	file, err := st.GetFileByPath(path)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	want := sha256.Sum256(content)
	if file.SHA256 != hex.EncodeToString(want[:]) {
		t.Fatalf("sha256 = %s, want %x", file.SHA256, want)
	}
	if file.Status != store.StatusReadyForUpload {
		t.Fatalf("status = %s, want ready_for_upload", file.Status)
	}

	processed, failed := f.Counters()
	if processed != 1 || failed != 0 {
		t.Fatalf("counters = (%d, %d), want (1, 0)", processed, failed)
	}
}

func TestProcessMarksMissingFileWithoutFailure(t *testing.T) {
	f, st, dir := newTestRig(t)

	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	root, err := st.CreateRoot(dir, true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
	if _, _, err := st.DiscoverFile(root.ID, path, store.DiscoveredAttrs{Size: 1, MtimeNs: 1}); err != nil {
		t.Fatalf("discovering file: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing fixture: %v", err)
	}

	runUntilIdle(t, f, st)

	file, err := st.GetFileByPath(path)
	if err != nil {
		t.Fatalf("reloading file: %v", err)
	}
	if file.Status != store.StatusDiscovered {
		t.Fatalf("status = %s, want discovered (unchanged on missing file)", file.Status)
	}
}

func TestHashFileAgreesAcrossFastAndThrottledPaths(t *testing.T) {
	_, _, dir := newTestRig(t)

	path := filepath.Join(dir, "both.txt")
	content := []byte("the fast path and the throttled path must hash identically")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	want := sha256.Sum256(content)
	wantHex := hex.EncodeToString(want[:])

	fast := New(nil, zap.NewNop(), Config{ChunkSize: 4})
	sum, size, err := fast.hashFile(context.Background(), path)
	if err != nil {
		t.Fatalf("hashFile (fast path): %v", err)
	}
	if sum != wantHex {
		t.Fatalf("fast path sha256 = %s, want %s", sum, wantHex)
	}
	if size != int64(len(content)) {
		t.Fatalf("fast path size = %d, want %d", size, len(content))
	}

	throttled := New(nil, zap.NewNop(), Config{ChunkSize: 4, ChunkDelay: time.Millisecond})
	sum, size, err = throttled.hashFile(context.Background(), path)
	if err != nil {
		t.Fatalf("hashFile (throttled path): %v", err)
	}
	if sum != wantHex {
		t.Fatalf("throttled path sha256 = %s, want %s", sum, wantHex)
	}
	if size != int64(len(content)) {
		t.Fatalf("throttled path size = %d, want %d", size, len(content))
	}
}
