package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/putplace/assist/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running and its queue depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

// statusReport mirrors controlplane.statusResponse's wire shape.
type statusReport struct {
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

func runStatus() error {
	pidPath := defaultPIDPath()
	running, ok := daemon.IsRunning(pidPath)
	if !ok {
		return &cliError{exitProcessState, fmt.Errorf("daemon is not running")}
	}

	cfg, err := loadConfig()
	if err != nil {
		return &cliError{exitGeneric, err}
	}
	cfg = applyOverrides(cfg)

	addr := fmt.Sprintf("http://%s:%d/status", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Get(addr)
	if err != nil {
		return &cliError{exitStoreUnhealthy, fmt.Errorf("daemon pid %d is running but its control plane is unreachable: %w", running.Pid, err)}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &cliError{exitStoreUnhealthy, fmt.Errorf("control plane returned %s", res.Status)}
	}

	var report statusReport
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		return &cliError{exitGeneric, fmt.Errorf("decoding status response: %w", err)}
	}

	// A human at a terminal gets a formatted summary; anything piped
	// (scripts, tests) gets raw JSON it can parse without reformatting,
	// matching SPEC_FULL.md's "interactive prompts suppressed when piped."
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Printf("pid:                      %d\n", running.Pid)
	fmt.Printf("version:                  %s\n", report.Version)
	fmt.Printf("uptime:                   %s\n", time.Duration(report.UptimeSeconds*float64(time.Second)).Truncate(time.Second))
	fmt.Printf("scanner active:           %t\n", report.ScannerActive)
	fmt.Printf("fingerprinter active:     %t\n", report.FingerprinterActive)
	if report.FingerprinterFile != "" {
		fmt.Printf("fingerprinting:           %s\n", report.FingerprinterFile)
	}
	fmt.Printf("files tracked:            %d\n", report.FilesTracked)
	fmt.Printf("pending checksum:         %d\n", report.PendingChecksum)
	fmt.Printf("pending uploads:          %d\n", report.PendingUploads)
	fmt.Printf("pending deletion:         %d\n", report.PendingDeletion)
	fmt.Printf("fingerprinted today:      %d\n", report.FingerprintedToday)
	fmt.Printf("fingerprint failed today: %d\n", report.FingerprintFailedToday)
	return nil
}
