package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

func newTestScanner(t *testing.T) (*Scanner, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(t.TempDir(), "assist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, zap.NewNop()), st, dir
}

func TestScanDiscoversRegularFilesAndSkipsExcludes(t *testing.T) {
	s, st, dir := newTestScanner(t)

	if err := os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatalf("making excluded dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "skip.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing fixture file under excluded dir: %v", err)
	}

	if _, err := st.CreateExclude("node_modules"); err != nil {
		t.Fatalf("creating exclude: %v", err)
	}
	root, err := st.CreateRoot(dir, true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}

	discovered, err := s.Scan(root.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if discovered != 1 {
		t.Fatalf("discovered = %d, want 1 (excluded subtree must be skipped)", discovered)
	}

	files, err := st.ListFiles(store.ListFilesFilter{})
	if err != nil {
		t.Fatalf("listing files: %v", err)
	}
	if len(files) != 1 || files[0].Path != filepath.Join(dir, "keep.txt") {
		t.Fatalf("unexpected files recorded: %+v", files)
	}
}

func TestScanRecordsSymlinksWithoutEnqueueingChecksum(t *testing.T) {
	s, st, dir := newTestScanner(t)

	target := filepath.Join(dir, "real.txt")
	if err := os.WriteFile(target, []byte("content"), 0o644); err != nil {
		t.Fatalf("writing link target: %v", err)
	}
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	root, err := st.CreateRoot(dir, true)
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
	if _, err := s.Scan(root.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}

	linkFile, err := st.GetFileByPath(link)
	if err != nil {
		t.Fatalf("getting symlink file: %v", err)
	}
	if !linkFile.IsSymlink || linkFile.LinkTarget != target {
		t.Fatalf("symlink not recorded correctly: %+v", linkFile)
	}
	if linkFile.Status != store.StatusSymlink {
		t.Fatalf("symlink status = %s, want symlink (never fingerprinted, no sha256)", linkFile.Status)
	}
	if linkFile.SHA256 != "" {
		t.Fatalf("symlink has non-empty sha256 %q; StatusSymlink rows must stay outside the hash-bearing statuses", linkFile.SHA256)
	}

	pending, err := st.PendingCount(store.QueueChecksum)
	if err != nil {
		t.Fatalf("counting pending checksums: %v", err)
	}
	if pending != 1 {
		t.Fatalf("pending checksum entries = %d, want exactly 1 (only the regular file)", pending)
	}
}

func TestScanAllContinuesPastAFailedRoot(t *testing.T) {
	s, st, dir := newTestScanner(t)

	good := filepath.Join(dir, "good")
	if err := os.Mkdir(good, 0o755); err != nil {
		t.Fatalf("making good root dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(good, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	goodRoot, err := st.CreateRoot(good, true)
	if err != nil {
		t.Fatalf("creating good root: %v", err)
	}
	missingRoot, err := st.CreateRoot(filepath.Join(dir, "does-not-exist"), true)
	if err != nil {
		t.Fatalf("creating missing root: %v", err)
	}

	if err := s.ScanAll(); err == nil {
		t.Fatalf("expected ScanAll to report the missing root's error")
	}

	files, err := st.ListFiles(store.ListFilesFilter{PathPrefix: good})
	if err != nil {
		t.Fatalf("listing files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("good root was not scanned despite the other root's failure: got %d files", len(files))
	}

	if _, err := st.GetRoot(goodRoot.ID); err != nil {
		t.Fatalf("good root missing from store: %v", err)
	}
	if _, err := st.GetRoot(missingRoot.ID); err != nil {
		t.Fatalf("missing root's registration should still exist: %v", err)
	}
}
