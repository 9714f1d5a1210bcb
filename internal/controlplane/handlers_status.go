package controlplane

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type healthResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Version string `json:"version"`
}

// handleHealth reports liveness and store health. A store failure does not
// crash the daemon (spec.md section 4.1's "refuses to start" applies only
// at boot, when a corrupt store is detected during Open) — once running,
// /health simply surfaces the condition so an operator or GUI can act.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Version: s.version}
	if err := s.store.Healthy(); err != nil {
		resp.OK = false
		resp.Error = err.Error()
		outJSON(w, resp)
		return
	}
	resp.OK = true
	outJSON(w, resp)
}

type statusResponse struct {
	UptimeSeconds          float64 `json:"uptime_seconds"`
	Version                string  `json:"version"`
	ScannerActive          bool    `json:"scanner_active"`
	FingerprinterActive    bool    `json:"fingerprinter_active"`
	FingerprinterFile      string  `json:"fingerprinter_current_file,omitempty"`
	FilesTracked           int64   `json:"files_tracked"`
	PendingChecksum        int64   `json:"pending_sha256"`
	PendingUploads         int64   `json:"pending_uploads"`
	PendingDeletion        int64   `json:"pending_deletion"`
	FingerprintedToday     int     `json:"fingerprinted_today"`
	FingerprintFailedToday int     `json:"fingerprint_failures_today"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	processed, failed := 0, 0
	currentFile := ""
	if s.fingerprinter != nil {
		processed, failed = s.fingerprinter.Counters()
		currentFile = s.fingerprinter.CurrentFile()
	}

	resp := statusResponse{
		UptimeSeconds:          time.Since(s.startedAt).Seconds(),
		Version:                s.version,
		ScannerActive:          s.scanner != nil && s.scanner.Active(),
		FingerprinterActive:    currentFile != "",
		FingerprinterFile:      currentFile,
		FilesTracked:           stats.FilesTracked,
		PendingChecksum:        stats.PendingChecksum,
		PendingUploads:         stats.PendingUpload,
		PendingDeletion:        stats.PendingDeletion,
		FingerprintedToday:     processed,
		FingerprintFailedToday: failed,
	}
	outJSON(w, resp)
}

func (s *Server) logHandlerErr(op string, err error) {
	if err != nil {
		s.log.Warn(op+" failed", zap.Error(err))
	}
}
