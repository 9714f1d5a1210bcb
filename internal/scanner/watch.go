package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

// DefaultDebounce matches spec.md section 4.2's default coalescing window
// for bursts of events against the same path.
const DefaultDebounce = 2 * time.Second

type watcher struct {
	fs       *fsnotify.Watcher
	scanner  *Scanner
	rootID   uint
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	roots   map[string]uint // watched dir path -> root id owning it
	done    chan struct{}
	stopped chan struct{}
}

// WatchStart begins a recursive fsnotify watch of root, debouncing repeat
// events against the same path by debounce (DefaultDebounce if zero).
// Watching is idempotent: calling it twice on an already-watched root is a
// no-op. Each root gets its own watcher goroutine and fsnotify handle, per
// spec.md section 5's "one notifier watcher per root."
func (s *Scanner) WatchStart(rootID uint, debounce time.Duration) error {
	s.watchersMu.Lock()
	if _, active := s.watchers[rootID]; active {
		s.watchersMu.Unlock()
		return nil
	}
	s.watchersMu.Unlock()

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	root, err := s.store.GetRoot(rootID)
	if err != nil {
		return fmt.Errorf("loading root %d: %w", rootID, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}

	w := &watcher{
		fs:       fsw,
		scanner:  s,
		rootID:   rootID,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		roots:    make(map[string]uint),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if err := addRecursive(fsw, root.Path, rootID, w.roots, root.Recursive); err != nil {
		fsw.Close()
		return fmt.Errorf("watching root %s: %w", root.Path, err)
	}

	s.watchersMu.Lock()
	s.watchers[rootID] = w
	s.watchersMu.Unlock()

	go w.run()
	return nil
}

// WatchStop tears down rootID's active watch, if any.
func (s *Scanner) WatchStop(rootID uint) error {
	s.watchersMu.Lock()
	w, active := s.watchers[rootID]
	if active {
		delete(s.watchers, rootID)
	}
	s.watchersMu.Unlock()
	if !active {
		return nil
	}
	close(w.done)
	<-w.stopped
	return w.fs.Close()
}

// WatchStopAll tears down every active watcher, used on daemon shutdown.
func (s *Scanner) WatchStopAll() error {
	s.watchersMu.Lock()
	ids := make([]uint, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	s.watchersMu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.WatchStop(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func addRecursive(fsw *fsnotify.Watcher, dir string, rootID uint, roots map[string]uint, recursive bool) error {
	if err := fsw.Add(dir); err != nil {
		return err
	}
	roots[dir] = rootID
	if !recursive {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := addRecursive(fsw, filepath.Join(dir, entry.Name()), rootID, roots, recursive); err != nil {
				return err
			}
		}
	}
	return nil
}

// run drains fsnotify's Events/Errors channels, grounded on the teacher's
// FilesystemWatcherRoutine select loop, generalized to debounce bursts
// into a single Store transaction per path.
func (w *watcher) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			w.mu.Lock()
			for _, t := range w.timers {
				t.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.scanner.log.Warn("fs watcher error", zap.Error(err))
			if isOverflow(err) {
				w.recover()
			}
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := event.Name
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.settle(path, event.Op)
	})
}

// settle is invoked once debounce has elapsed with no further events
// against path; it re-stats the path and issues the matching Store
// transaction.
func (w *watcher) settle(path string, op fsnotify.Op) {
	w.mu.Lock()
	delete(w.timers, path)
	rootID := w.findRoot(path)
	w.mu.Unlock()
	if rootID == 0 {
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if file, ferr := w.scanner.store.GetFileByPath(path); ferr == nil {
				if merr := w.scanner.store.MarkDeleted(file.ID); merr != nil {
					w.scanner.log.Warn("marking deleted failed", zap.String("path", path), zap.Error(merr))
				}
			}
			return
		}
		w.scanner.log.Warn("lstat during settle failed", zap.String("path", path), zap.Error(err))
		return
	}

	if info.IsDir() {
		if op&fsnotify.Create != 0 {
			w.mu.Lock()
			if err := addRecursive(w.fs, path, rootID, w.roots, true); err != nil {
				w.scanner.log.Warn("watching new dir failed", zap.String("path", path), zap.Error(err))
			}
			w.mu.Unlock()
		}
		return
	}

	attrs, err := statEntry(path, info)
	if err != nil {
		w.scanner.log.Warn("stat during settle failed", zap.String("path", path), zap.Error(err))
		return
	}
	if _, _, err := w.scanner.store.DiscoverFile(rootID, path, attrs); err != nil {
		w.scanner.log.Warn("discover during settle failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *watcher) findRoot(path string) uint {
	for dir, rootID := range w.roots {
		if dir == path || isUnder(dir, path) {
			return rootID
		}
	}
	return 0
}

func isUnder(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && len(rel) > 0 && rel[0] != '.'
}

// recover handles a kernel-buffer-overflow notification: the daemon can no
// longer trust that it saw every event, so it falls back to a full rescan
// of the root this watcher covers and records scan_recovered.
func (w *watcher) recover() {
	seen := make(map[uint]bool)
	w.mu.Lock()
	for _, rootID := range w.roots {
		seen[rootID] = true
	}
	w.mu.Unlock()

	for rootID := range seen {
		if _, err := w.scanner.Scan(rootID); err != nil {
			w.scanner.log.Warn("recovery scan failed", zap.Uint("root_id", rootID), zap.Error(err))
			continue
		}
		if err := w.scanner.store.Append(store.ActivityEvent{
			Kind:    store.EventScanRecovered,
			RootID:  &rootID,
			Message: "watch overflow recovered via full rescan",
		}); err != nil {
			w.scanner.log.Warn("recording scan_recovered failed", zap.Error(err))
		}
	}
}

func isOverflow(err error) bool {
	return err == fsnotify.ErrEventOverflow
}

func statEntry(path string, info os.FileInfo) (store.DiscoveredAttrs, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return store.DiscoveredAttrs{}, fmt.Errorf("reading symlink %s: %w", path, err)
		}
		attrs, err := extractAttrs(info)
		if err != nil {
			return store.DiscoveredAttrs{}, err
		}
		attrs.IsSymlink = true
		attrs.LinkTarget = target
		return attrs, nil
	}
	return extractAttrs(info)
}
