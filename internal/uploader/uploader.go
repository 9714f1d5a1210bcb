// Package uploader drains the pending_upload queue with a bounded worker
// pool, sending metadata records and (when required) streamed content to
// the default remote server.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/putplace/assist/internal/store"
)

// ContentPolicy controls whether the uploader only sends metadata or also
// streams file content.
type ContentPolicy string

const (
	PolicyMetadataOnly ContentPolicy = "metadata"
	PolicyContent      ContentPolicy = "content"
)

// Config carries the worker-pool and policy knobs of spec.md section 4.4's
// [uploader] TOML table.
type Config struct {
	Workers      int
	PollInterval time.Duration
	LeaseDuration time.Duration
	Policy       ContentPolicy
	DryRun       bool
	Hostname     string
	IPAddress    string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 10 * time.Minute
	}
	if c.Policy == "" {
		c.Policy = PolicyContent
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.IPAddress == "" {
		c.IPAddress = localIPAddress()
	}
	return c
}

// Uploader is the bounded worker pool. Grounded on
// function61-varasto/pkg/stoclient/backgrounduploader.go's fixed-size
// goroutine pool, generalized from an in-memory job channel to a Store
// claim loop since queue state here must survive a restart.
type Uploader struct {
	store *store.Store
	log   *zap.Logger
	cfg   Config

	// policy holds the live ContentPolicy; it starts at cfg.Policy but can
	// be flipped at runtime by the control plane's upload trigger (the
	// request's upload_content flag), so it's read/written atomically
	// rather than baked into the immutable cfg every worker shares.
	policy atomic.Value
}

func New(st *store.Store, log *zap.Logger, cfg Config) *Uploader {
	u := &Uploader{store: st, log: log, cfg: cfg.withDefaults()}
	u.policy.Store(u.cfg.Policy)
	return u
}

// Policy returns the content policy currently in effect.
func (u *Uploader) Policy() ContentPolicy {
	return u.policy.Load().(ContentPolicy)
}

// SetPolicy changes the content policy workers observe on their next
// claim. Used by the control plane's uploads-trigger endpoint to honor a
// per-request upload_content flag.
func (u *Uploader) SetPolicy(p ContentPolicy) {
	if p == "" {
		p = u.cfg.Policy
	}
	u.policy.Store(p)
}

// Run starts cfg.Workers claim loops and blocks until ctx is canceled.
func (u *Uploader) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < u.cfg.Workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("uploader-%d", i)
		go func() {
			defer wg.Done()
			u.runWorker(ctx, workerID)
		}()
	}
	wg.Wait()
	return nil
}

func (u *Uploader) runWorker(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := u.store.Claim(store.QueueUpload, workerID, u.cfg.LeaseDuration, 1)
		if err != nil {
			u.log.Warn("claiming upload entry failed", zap.Error(err))
			if !sleepCtx(ctx, u.cfg.PollInterval) {
				return
			}
			continue
		}
		if len(entries) == 0 {
			if !sleepCtx(ctx, u.cfg.PollInterval) {
				return
			}
			continue
		}

		u.handle(ctx, entries[0])
	}
}

func (u *Uploader) handle(ctx context.Context, entry store.ClaimedEntry) {
	server, err := u.store.DefaultServer()
	if err != nil {
		u.log.Warn("no default server configured, leaving entry queued", zap.Error(err))
		if err := u.store.Fail(entry.ID, "no default server configured", 30*time.Second); err != nil {
			u.log.Warn("rescheduling entry failed", zap.Error(err))
		}
		return
	}

	if u.cfg.DryRun {
		u.log.Info("dry run: would upload", zap.String("path", entry.File.Path))
		if err := u.store.Append(store.ActivityEvent{
			Kind:     store.EventUploadComplete,
			FilePath: entry.File.Path,
			Message:  "dry run: skipped network upload",
		}); err != nil {
			u.log.Warn("recording dry-run activity failed", zap.Error(err))
		}
		u.finish(entry)
		return
	}

	if err := u.store.MarkUploading(entry.File.ID); err != nil {
		u.log.Warn("marking file uploading failed", zap.Error(err))
	}

	err = u.upload(ctx, server, entry)
	switch {
	case err == nil:
		if err := u.store.MarkUploaded(entry.File.ID); err != nil {
			u.log.Warn("marking file uploaded failed", zap.Error(err))
		}
		u.finish(entry)

	case isTerminal(err):
		if err := u.store.MarkUploadFailed(entry.File.ID, err.Error()); err != nil {
			u.log.Warn("marking file upload-failed failed", zap.Error(err))
		}
		if aerr := u.store.Append(store.ActivityEvent{
			Kind:     store.EventUploadFailed,
			FilePath: entry.File.Path,
			Message:  err.Error(),
		}); aerr != nil {
			u.log.Warn("recording upload failure failed", zap.Error(aerr))
		}
		u.finish(entry)

	default:
		backoff := retryBackoff(entry.Attempts)
		var te *transientError
		if errors.As(err, &te) && te.RetryAfter > 0 {
			backoff = te.RetryAfter
		}
		if ferr := u.store.Fail(entry.ID, err.Error(), backoff); ferr != nil {
			u.log.Warn("scheduling upload retry failed", zap.Error(ferr))
		}
	}
}

func (u *Uploader) finish(entry store.ClaimedEntry) {
	if err := u.store.Complete(entry.ID); err != nil {
		u.log.Warn("completing upload entry failed", zap.Error(err))
	}
}

// upload runs the put_file + optional content-upload sequence, refreshing
// the cached bearer token on first login and exactly once more after a 401,
// per spec.md section 4.4's auth taxonomy.
func (u *Uploader) upload(ctx context.Context, server *store.Server, entry store.ClaimedEntry) error {
	c := newClient(server.BaseURL)

	token, err := u.ensureToken(ctx, c, server)
	if err != nil {
		return err
	}

	record := buildRecord(u.cfg.Hostname, u.cfg.IPAddress, entry.File)

	uploadRequired, uploadURL, err := c.PutFile(ctx, token, record)
	if isAuthError(err) {
		token, err = u.refreshToken(ctx, c, server)
		if err != nil {
			return err
		}
		uploadRequired, uploadURL, err = c.PutFile(ctx, token, record)
	}
	if err != nil {
		return err
	}

	if !uploadRequired || u.Policy() == PolicyMetadataOnly {
		return nil
	}

	return u.streamContent(ctx, c, token, server, entry, uploadURL)
}

func (u *Uploader) streamContent(ctx context.Context, c *client, token string, server *store.Server, entry store.ClaimedEntry, uploadURL string) error {
	file, err := os.Open(entry.File.Path)
	if err != nil {
		return &terminalError{fmt.Errorf("opening %s for upload: %w", entry.File.Path, err)}
	}
	defer file.Close()

	if err := u.store.Append(store.ActivityEvent{
		Kind:     store.EventUploadStarted,
		FilePath: entry.File.Path,
		Message:  "upload started: " + entry.File.Path,
		Details:  store.JSONMap{"file_size": entry.File.Size},
	}); err != nil {
		u.log.Warn("recording upload_started failed", zap.Error(err))
	}

	lastReport := time.Now()
	progress := func(sent int64) {
		if time.Since(lastReport) < time.Second {
			return
		}
		lastReport = time.Now()
		percent := 0.0
		if entry.File.Size > 0 {
			percent = 100 * float64(sent) / float64(entry.File.Size)
		}
		if err := u.store.Append(store.ActivityEvent{
			Kind:     store.EventUploadProgress,
			FilePath: entry.File.Path,
			Message:  "uploading: " + entry.File.Path,
			Details:  store.JSONMap{"bytes_uploaded": sent, "progress_percent": percent},
		}); err != nil {
			u.log.Warn("recording upload_progress failed", zap.Error(err))
		}
	}

	err = c.UploadContent(ctx, token, uploadURL, u.cfg.Hostname, entry.File.Path, entry.File.Size, file, progress)
	if isAuthError(err) {
		token, terr := u.refreshToken(ctx, c, server)
		if terr != nil {
			return terr
		}
		if _, serr := file.Seek(0, 0); serr != nil {
			return &terminalError{fmt.Errorf("rewinding %s: %w", entry.File.Path, serr)}
		}
		err = c.UploadContent(ctx, token, uploadURL, u.cfg.Hostname, entry.File.Path, entry.File.Size, file, progress)
	}
	if err != nil {
		return err
	}

	return u.store.Append(store.ActivityEvent{
		Kind:     store.EventUploadComplete,
		FilePath: entry.File.Path,
		Message:  "upload complete: " + entry.File.Path,
	})
}

// ensureToken returns the Server's cached token, logging in if absent or
// expired.
func (u *Uploader) ensureToken(ctx context.Context, c *client, server *store.Server) (string, error) {
	if server.Token != "" && (server.TokenExpiry == nil || server.TokenExpiry.After(time.Now())) {
		return server.Token, nil
	}
	return u.refreshToken(ctx, c, server)
}

func (u *Uploader) refreshToken(ctx context.Context, c *client, server *store.Server) (string, error) {
	if err := u.store.EvictToken(server.ID); err != nil {
		u.log.Warn("evicting stale token failed", zap.Error(err))
	}
	token, expiry, err := c.Login(ctx, server.Username, server.Secret)
	if err != nil {
		return "", &authError{err}
	}
	if err := u.store.CacheToken(server.ID, token, expiry); err != nil {
		u.log.Warn("caching refreshed token failed", zap.Error(err))
	}
	return token, nil
}

func isAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

func isTerminal(err error) bool {
	var te *terminalError
	var ae *authError
	return errors.As(err, &te) || errors.As(err, &ae)
}

// retryBackoff computes the queue-visibility delay for a failed upload
// entry: base 1s, factor 2, capped at 5 minutes, with up to 20% jitter —
// spec.md section 4.4's schedule for the durable retry (distinct from the
// in-process retry.Retry/DefaultBackoff used for a single attempt's
// transient network hiccups in client.go).
func retryBackoff(attempts int) time.Duration {
	const base = time.Second
	const cap_ = 5 * time.Minute

	d := base
	for i := 0; i < attempts && d < cap_; i++ {
		d *= 2
	}
	if d > cap_ {
		d = cap_
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
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

func localIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
