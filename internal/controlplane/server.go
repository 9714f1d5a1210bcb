// Package controlplane exposes the daemon's management API: roots,
// excludes, servers, files, uploads, status/health, and an activity
// stream. Grounded on function61-varasto's pkg/stoserver/restapi.go route
// registration style (a handlers struct with one method per endpoint,
// wired into a gorilla/mux router), generalized from varasto's bbolt/blorm
// storage to this daemon's Store.
package controlplane

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/putplace/assist/internal/fingerprinter"
	"github.com/putplace/assist/internal/scanner"
	"github.com/putplace/assist/internal/store"
	"github.com/putplace/assist/internal/uploader"
)

// Server is the control plane's HTTP surface. It holds no mutable state of
// its own beyond what its collaborators already own — every write goes
// through the Store, matching spec.md section 4.5's "no in-memory caches
// that could diverge from the Store." The one exception is cursors: the
// activity pruner needs to know how far behind the slowest live SSE
// stream is, and that's state no Store row tracks.
type Server struct {
	store         *store.Store
	scanner       *scanner.Scanner
	fingerprinter *fingerprinter.Fingerprinter
	uploader      *uploader.Uploader
	log           *zap.Logger

	version   string
	startedAt time.Time
	router    *mux.Router
	httpSrv   *http.Server
	cursors   *cursorRegistry
}

// New builds the router; call ListenAndServe (or Handler, for tests) to
// serve it.
func New(
	st *store.Store,
	sc *scanner.Scanner,
	fp *fingerprinter.Fingerprinter,
	up *uploader.Uploader,
	log *zap.Logger,
	version string,
) *Server {
	s := &Server{
		store:         st,
		scanner:       sc,
		fingerprinter: fp,
		uploader:      up,
		log:           log,
		version:       version,
		startedAt:     time.Now(),
		cursors:       newCursorRegistry(),
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// OldestActiveCursor returns the lowest cursor among all currently
// connected SSE streams, and whether any stream is connected at all. The
// activity pruner uses this as its retention floor so it never deletes an
// event a live client hasn't read yet.
func (s *Server) OldestActiveCursor() (uint, bool) {
	return s.cursors.oldest()
}

// Handler returns the root http.Handler, useful for httptest.Server in
// tests without going through ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe binds host:port (loopback by default per spec.md section
// 4.5 — "any client on the host can control the daemon") and serves until
// ctx is canceled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control plane listening", zap.String("addr", addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("control plane listener: %w", err)
	}
}
