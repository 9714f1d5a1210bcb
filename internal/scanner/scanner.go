// Package scanner walks registered roots and keeps their fsnotify watches
// alive, translating what it sees on disk into Store transactions. It never
// reads file content — that's the fingerprinter's job.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

// Scanner owns the registered roots' full walks and their live watches.
type Scanner struct {
	store *store.Store
	log   *zap.Logger

	watchersMu sync.Mutex
	watchers   map[uint]*watcher // root id -> its live notifier, one per spec.md section 5

	activeScans int32 // atomic count of in-flight Scan calls; >0 => status "active"
}

// Active reports whether a full walk is currently in progress, surfaced by
// the control plane's /status endpoint.
func (s *Scanner) Active() bool {
	return atomic.LoadInt32(&s.activeScans) > 0
}

func New(st *store.Store, log *zap.Logger) *Scanner {
	return &Scanner{store: st, log: log, watchers: make(map[uint]*watcher)}
}

// Scan walks root depth-first, upserting every regular file and symlink it
// finds via Store.DiscoverFile, skipping anything matched by the registered
// exclude patterns. Directories themselves are not recorded — only the
// data model's File rows are.
func (s *Scanner) Scan(rootID uint) (discovered int, err error) {
	atomic.AddInt32(&s.activeScans, 1)
	defer atomic.AddInt32(&s.activeScans, -1)

	root, err := s.store.GetRoot(rootID)
	if err != nil {
		return 0, fmt.Errorf("loading root %d: %w", rootID, err)
	}
	excludes, err := s.store.ListExcludes()
	if err != nil {
		return 0, fmt.Errorf("loading excludes: %w", err)
	}
	patterns := make([]string, len(excludes))
	for i, e := range excludes {
		patterns[i] = e.Pattern
	}

	if err := s.store.Append(store.ActivityEvent{
		Kind:     store.EventScanStarted,
		RootID:   &rootID,
		FilePath: root.Path,
		Message:  "scan started: " + root.Path,
	}); err != nil {
		return 0, err
	}

	walkErr := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn("walk error", zap.String("path", path), zap.Error(err))
			if path == root.Path {
				return err
			}
			return nil
		}
		if path == root.Path {
			return nil
		}
		if matchesExclude(path, root.Path, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !root.Recursive && path != root.Path {
				return filepath.SkipDir
			}
			return nil
		}

		attrs, derr := statPath(path, d)
		if derr != nil {
			s.log.Warn("stat failed during scan", zap.String("path", path), zap.Error(derr))
			return nil
		}
		if _, _, derr := s.store.DiscoverFile(root.ID, path, attrs); derr != nil {
			s.log.Warn("discover failed during scan", zap.String("path", path), zap.Error(derr))
			return nil
		}
		discovered++
		return nil
	})
	if walkErr != nil {
		return discovered, fmt.Errorf("walking root %s: %w", root.Path, walkErr)
	}

	if err := s.store.MarkRootScanned(rootID); err != nil {
		return discovered, err
	}
	if err := s.store.Append(store.ActivityEvent{
		Kind:     store.EventScanComplete,
		RootID:   &rootID,
		FilePath: root.Path,
		Message:  fmt.Sprintf("scan complete: %s (%d files)", root.Path, discovered),
		Details:  store.JSONMap{"files_discovered": discovered},
	}); err != nil {
		return discovered, err
	}
	return discovered, nil
}

// ScanAll scans every enabled root in registration order, continuing past
// a failed root rather than aborting the whole pass.
func (s *Scanner) ScanAll() error {
	roots, err := s.store.ListRoots()
	if err != nil {
		return fmt.Errorf("listing roots: %w", err)
	}
	var firstErr error
	for _, root := range roots {
		if !root.Enabled {
			continue
		}
		if _, err := s.Scan(root.ID); err != nil {
			s.log.Warn("scan failed", zap.Uint("root_id", root.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// statPath derives DiscoveredAttrs for path, handling the symlink case
// (lstat semantics: record the link itself, never follow it).
func statPath(path string, d fs.DirEntry) (store.DiscoveredAttrs, error) {
	if d.Type()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return store.DiscoveredAttrs{}, fmt.Errorf("reading symlink %s: %w", path, err)
		}
		info, err := os.Lstat(path)
		if err != nil {
			return store.DiscoveredAttrs{}, fmt.Errorf("lstat %s: %w", path, err)
		}
		attrs, err := extractAttrs(info)
		if err != nil {
			return store.DiscoveredAttrs{}, err
		}
		attrs.IsSymlink = true
		attrs.LinkTarget = target
		return attrs, nil
	}

	info, err := d.Info()
	if err != nil {
		return store.DiscoveredAttrs{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return extractAttrs(info)
}
