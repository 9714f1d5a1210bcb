// Package daemon wires the Store, Scanner, Fingerprinter, Uploader and
// control plane into one running process. Grounded on the teacher's
// v1/basic/cloud/server.Server: NewServer reads config, connects the
// logger and the database, then Start spawns the daemon's background
// routines, the way server.Server.Start launches its watcher, listener
// and admin goroutines.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/config"
	"github.com/putplace/assist/internal/controlplane"
	"github.com/putplace/assist/internal/fingerprinter"
	"github.com/putplace/assist/internal/scanner"
	"github.com/putplace/assist/internal/store"
	"github.com/putplace/assist/internal/uploader"
)

// Version is stamped at build time via -ldflags; left as a package var so
// cmd/assist can override it without a build-tag dance.
var Version = "dev"

// Daemon owns every long-lived collaborator and the goroutines that run
// them.
type Daemon struct {
	cfg config.Config
	log *zap.Logger

	store         *store.Store
	scanner       *scanner.Scanner
	fingerprinter *fingerprinter.Fingerprinter
	uploader      *uploader.Uploader
	controlplane  *controlplane.Server
}

// New opens the store at cfg.Database.Path, seeds the default remote
// server from cfg.RemoteServer when one is configured and none exists
// yet, and constructs every collaborator. It does not start anything —
// call Run for that.
func New(cfg config.Config, log *zap.Logger) (*Daemon, error) {
	dbPath, err := expandHome(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	st, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := seedDefaultServer(st, cfg.RemoteServer); err != nil {
		st.Close()
		return nil, err
	}

	sc := scanner.New(st, log)
	fp := fingerprinter.New(st, log, fingerprinter.Config{
		ChunkSize:  cfg.SHA256.ChunkSize,
		ChunkDelay: cfg.SHA256.InterChunkSleep,
	})
	up := uploader.New(st, log, uploader.Config{
		Workers: cfg.Uploader.Parallel,
		Policy:  contentPolicy(cfg.Uploader.Content),
		DryRun:  cfg.Uploader.DryRun,
	})
	cp := controlplane.New(st, sc, fp, up, log, Version)

	return &Daemon{
		cfg:           cfg,
		log:           log,
		store:         st,
		scanner:       sc,
		fingerprinter: fp,
		uploader:      up,
		controlplane:  cp,
	}, nil
}

func contentPolicy(uploadContent bool) uploader.ContentPolicy {
	if uploadContent {
		return uploader.PolicyContent
	}
	return uploader.PolicyMetadataOnly
}

// seedDefaultServer registers rc as the default Server row on first run.
// A name left blank means the operator hasn't configured a remote
// server yet (the control plane's /servers endpoints can still add one
// later), so that's a no-op rather than an error.
func seedDefaultServer(st *store.Store, rc config.RemoteServerConfig) error {
	if rc.Name == "" {
		return nil
	}
	_, err := st.CreateServer(rc.Name, rc.URL, rc.Username, rc.Password, true)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("seeding default server %s: %w", rc.Name, err)
	}
	return nil
}

// Run starts every background routine and the control plane listener,
// blocking until ctx is canceled. It always performs an initial
// ScanAll before the watchers and workers come up, so a fresh daemon
// doesn't wait on fsnotify alone to notice pre-existing files.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.scanner.ScanAll(); err != nil {
		d.log.Warn("initial scan reported errors", zap.Error(err))
	}

	if d.cfg.Watcher.Enabled {
		if err := d.startWatchers(); err != nil {
			d.log.Warn("starting watchers failed", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	runOrLog := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				d.log.Error(name+" stopped", zap.Error(err))
			}
		}()
	}

	runOrLog("fingerprinter", func() error { return d.fingerprinter.Run(ctx) })
	runOrLog("uploader", func() error { return d.uploader.Run(ctx) })
	runOrLog("activity pruner", func() error { d.runActivityPruner(ctx); return nil })
	runOrLog("daily counter reset", func() error { d.runDailyCounterReset(ctx); return nil })

	cpErr := d.controlplane.ListenAndServe(ctx, d.cfg.Server.Host, d.cfg.Server.Port)

	if err := d.scanner.WatchStopAll(); err != nil {
		d.log.Warn("stopping watchers failed", zap.Error(err))
	}
	wg.Wait()

	return cpErr
}

// Close releases the store's handle. Callers should only call this once
// Run has returned.
func (d *Daemon) Close() error {
	return d.store.Close()
}

func (d *Daemon) startWatchers() error {
	roots, err := d.store.ListRoots()
	if err != nil {
		return fmt.Errorf("listing roots for watch: %w", err)
	}
	var firstErr error
	for _, root := range roots {
		if !root.Enabled {
			continue
		}
		if err := d.scanner.WatchStart(root.ID, d.cfg.Watcher.Debounce); err != nil {
			d.log.Warn("watching root failed", zap.Uint("root_id", root.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// activityRetention bounds how long the activity log keeps rows a
// client hasn't read yet, matching spec.md section 9's property that
// the log is append-only but not unbounded.
const activityRetention = 30 * 24 * time.Hour

// pruneFloor is the lowest activity id PruneActivity must leave
// untouched: the oldest cursor among live SSE streams, tracked by the
// control plane's cursor registry. If no stream is connected there's
// nothing to protect, so it falls back to the latest persisted id —
// pruning then bounded by activityRetention alone.
func (d *Daemon) pruneFloor() (uint, error) {
	if cursor, ok := d.controlplane.OldestActiveCursor(); ok {
		return cursor, nil
	}
	return d.store.LatestActivityID()
}

func (d *Daemon) runActivityPruner(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			floor, err := d.pruneFloor()
			if err != nil {
				d.log.Warn("reading activity prune floor failed", zap.Error(err))
				continue
			}
			pruned, err := d.store.PruneActivity(activityRetention, floor)
			if err != nil {
				d.log.Warn("pruning activity log failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				d.log.Info("pruned activity log", zap.Int64("rows", pruned))
			}
		}
	}
}

// runDailyCounterReset zeroes the fingerprinter's processed/failed
// counters at the next local midnight and every midnight after that.
func (d *Daemon) runDailyCounterReset(ctx context.Context) {
	for {
		wait := time.Until(nextMidnight(time.Now()))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			d.fingerprinter.ResetDailyCounters()
		}
	}
}

func nextMidnight(from time.Time) time.Time {
	y, m, day := from.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, from.Location()).AddDate(0, 0, 1)
}

// expandHome resolves a leading "~" to the invoking user's home
// directory, matching the original source's os.path.expanduser on its
// configured paths.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
