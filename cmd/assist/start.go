package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/putplace/assist/internal/config"
	"github.com/putplace/assist/internal/daemon"
)

var (
	foreground bool
	hostFlag   string
	portFlag   int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if foreground {
			return runForeground()
		}
		return startBackground()
	},
}

func init() {
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	startCmd.Flags().StringVar(&hostFlag, "host", "", "override the control plane bind host")
	startCmd.Flags().IntVar(&portFlag, "port", 0, "override the control plane bind port")
}

func applyOverrides(cfg config.Config) config.Config {
	if hostFlag != "" {
		cfg.Server.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	return cfg
}

// runForeground is both the direct `assist start --foreground` path and
// the body of the detached child re-exec'd by startBackground.
func runForeground() error {
	pidPath := defaultPIDPath()
	if running, ok := daemon.IsRunning(pidPath); ok {
		return &cliError{exitProcessState, fmt.Errorf("daemon already running with pid %d", running.Pid)}
	}

	cfg, err := loadConfig()
	if err != nil {
		return &cliError{exitGeneric, err}
	}
	cfg = applyOverrides(cfg)

	if err := os.MkdirAll(defaultStateDir(), 0o755); err != nil {
		return &cliError{exitGeneric, fmt.Errorf("creating state directory: %w", err)}
	}

	log, err := newLogger(defaultLogPath(), foreground)
	if err != nil {
		return &cliError{exitGeneric, fmt.Errorf("building logger: %w", err)}
	}
	defer log.Sync()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return &cliError{exitStoreUnhealthy, err}
	}
	defer d.Close()

	if _, err := daemon.WritePIDFile(pidPath); err != nil {
		return &cliError{exitProcessState, err}
	}
	defer daemon.RemovePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// startBackground re-execs the current binary with --foreground, detaches
// it into its own session (so it survives the parent shell exiting), and
// returns once the child has written its PID file or a few seconds have
// passed without one appearing. Go has no fork(); this is the standard
// self-exec pattern for daemonizing a Go process.
func startBackground() error {
	pidPath := defaultPIDPath()
	if running, ok := daemon.IsRunning(pidPath); ok {
		return &cliError{exitProcessState, fmt.Errorf("daemon already running with pid %d", running.Pid)}
	}

	self, err := os.Executable()
	if err != nil {
		return &cliError{exitGeneric, fmt.Errorf("resolving executable path: %w", err)}
	}

	childArgs := []string{"start", "--foreground", "--config", configPath}
	if hostFlag != "" {
		childArgs = append(childArgs, "--host", hostFlag)
	}
	if portFlag != 0 {
		childArgs = append(childArgs, "--port", fmt.Sprintf("%d", portFlag))
	}

	if err := os.MkdirAll(defaultStateDir(), 0o755); err != nil {
		return &cliError{exitGeneric, fmt.Errorf("creating state directory: %w", err)}
	}
	logFile, err := os.OpenFile(defaultLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &cliError{exitGeneric, fmt.Errorf("opening log file: %w", err)}
	}
	defer logFile.Close()

	cmd := exec.Command(self, childArgs...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return &cliError{exitGeneric, fmt.Errorf("starting daemon: %w", err)}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if running, ok := daemon.IsRunning(pidPath); ok && running.Pid == cmd.Process.Pid {
			fmt.Printf("Daemon started, pid %d\n", running.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return &cliError{exitGeneric, fmt.Errorf("daemon did not report ready within 5s; check %s", filepath.Clean(defaultLogPath()))}
}
