// Package fingerprinter drains the pending_checksum queue with a single
// worker, computing rate-limited SHA-256 digests and reporting the result
// back to the Store.
package fingerprinter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lazybark/go-helpers/hasher"
	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

// Config carries the rate-limiting and retry knobs spec.md section 4.3
// exposes under the sha256 TOML table.
type Config struct {
	ChunkSize     int           // bytes read per step; 0 defaults to 1MiB
	ChunkDelay    time.Duration // sleep injected after every chunk read
	PollInterval  time.Duration // how often to poll an empty queue
	LeaseDuration time.Duration
	MaxAttempts   int // attempts before a checksum entry is given up on
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1 << 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Fingerprinter is the single-worker checksum processor. Grounded on the
// original source's Sha256Processor: one logical worker, one
// currently-processing path, daily processed/failed counters.
type Fingerprinter struct {
	store  *store.Store
	log    *zap.Logger
	cfg    Config
	workerID string

	mu            sync.Mutex
	currentPath   string
	processedToday int
	failedToday    int
}

func New(st *store.Store, log *zap.Logger, cfg Config) *Fingerprinter {
	return &Fingerprinter{store: st, log: log, cfg: cfg.withDefaults(), workerID: "fingerprinter-0"}
}

// CurrentFile reports the path currently being hashed, or "" if idle —
// surfaced by the control plane's status endpoint.
func (f *Fingerprinter) CurrentFile() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentPath
}

// Counters reports today's processed/failed totals.
func (f *Fingerprinter) Counters() (processed, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processedToday, f.failedToday
}

// ResetDailyCounters zeroes the processed/failed counters, called by the
// daemon at local midnight.
func (f *Fingerprinter) ResetDailyCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedToday = 0
	f.failedToday = 0
}

// Run loops, claiming and hashing one checksum entry at a time, until ctx
// is canceled.
func (f *Fingerprinter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := f.store.Claim(store.QueueChecksum, f.workerID, f.cfg.LeaseDuration, 1)
		if err != nil {
			f.log.Warn("claiming checksum entry failed", zap.Error(err))
			if !sleepCtx(ctx, f.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if len(entries) == 0 {
			if !sleepCtx(ctx, f.cfg.PollInterval) {
				return nil
			}
			continue
		}

		f.process(ctx, entries[0])
	}
}

func (f *Fingerprinter) process(ctx context.Context, entry store.ClaimedEntry) {
	f.mu.Lock()
	f.currentPath = entry.File.Path
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.currentPath = ""
		f.mu.Unlock()
	}()

	if _, statErr := os.Stat(entry.File.Path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			if err := f.store.MarkFileMissing(entry.File.ID); err != nil {
				f.log.Warn("marking file missing failed", zap.Error(err))
			}
			f.completeOrLog(entry.ID)
			return
		}
		f.fail(entry, fmt.Sprintf("stat failed: %v", statErr))
		return
	}

	sum, size, err := f.hashFile(ctx, entry.File.Path)
	if err != nil {
		f.fail(entry, err.Error())
		return
	}

	err = f.store.FinishFingerprint(entry.File.ID, store.FingerprintResult{
		SHA256:          sum,
		Size:            size,
		MtimeNs:         entry.File.MtimeNs,
		ExpectedMtimeNs: entry.File.MtimeNs,
	})
	switch {
	case err == nil:
		f.mu.Lock()
		f.processedToday++
		f.mu.Unlock()
		f.completeOrLog(entry.ID)
	case errors.Is(err, store.ErrStale):
		// file moved again mid-hash; the scanner/watcher already re-enqueued
		// a fresh checksum entry for the new (size, mtime), so this one is
		// simply dropped.
		f.completeOrLog(entry.ID)
	default:
		f.fail(entry, err.Error())
	}
}

func (f *Fingerprinter) completeOrLog(entryID uint) {
	if err := f.store.Complete(entryID); err != nil {
		f.log.Warn("completing checksum entry failed", zap.Error(err))
	}
}

func (f *Fingerprinter) fail(entry store.ClaimedEntry, msg string) {
	f.mu.Lock()
	f.failedToday++
	f.mu.Unlock()

	if entry.Attempts+1 >= f.cfg.MaxAttempts {
		if err := f.store.MarkFingerprintFailed(entry.File.ID, msg); err != nil {
			f.log.Warn("marking fingerprint failed failed", zap.Error(err))
		}
		f.completeOrLog(entry.ID)
		return
	}

	backoff := time.Duration(entry.Attempts+1) * time.Second
	if err := f.store.Fail(entry.ID, msg, backoff); err != nil {
		f.log.Warn("scheduling checksum retry failed", zap.Error(err))
	}
}

// hashFile picks the hashing path based on whether an inter-chunk delay is
// configured. The throttled loop exists only to inject that delay (the
// original source's _calculate_sha256 chunked-read-with-delay loop);
// without it there's no reason to hand-roll what the teacher's own
// go-helpers/hasher already does.
func (f *Fingerprinter) hashFile(ctx context.Context, path string) (sum string, size int64, err error) {
	if f.cfg.ChunkDelay <= 0 {
		return f.hashFileFast(path)
	}
	return f.hashFileThrottled(ctx, path)
}

// hashFileFast delegates to the teacher's hasher.HashFilePath (as used in
// fp/proc_files.go) for the common case: no rate limiting configured.
func (f *Fingerprinter) hashFileFast(path string) (sum string, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", path, err)
	}
	sum, err = hasher.HashFilePath(path, hasher.SHA256, f.cfg.ChunkSize)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, info.Size(), nil
}

// hashFileThrottled reads path in Config.ChunkSize chunks, sleeping
// ChunkDelay between reads to bound CPU/disk use — ported from the
// original source's _calculate_sha256 chunked-read-with-delay loop. Used
// only when ChunkDelay > 0, a knob hasher.HashFilePath's signature has no
// room for.
func (f *Fingerprinter) hashFileThrottled(ctx context.Context, path string) (sum string, size int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, f.cfg.ChunkSize)
	for {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		default:
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, fmt.Errorf("reading %s: %w", path, readErr)
		}
		if f.cfg.ChunkDelay > 0 {
			if !sleepCtx(ctx, f.cfg.ChunkDelay) {
				return "", 0, ctx.Err()
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
