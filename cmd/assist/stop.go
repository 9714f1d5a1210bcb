package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/putplace/assist/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon()
	},
}

func stopDaemon() error {
	pidPath := defaultPIDPath()
	running, ok := daemon.IsRunning(pidPath)
	if !ok {
		return &cliError{exitProcessState, fmt.Errorf("daemon is not running")}
	}

	if err := syscall.Kill(running.Pid, syscall.SIGTERM); err != nil {
		return &cliError{exitGeneric, fmt.Errorf("signaling pid %d: %w", running.Pid, err)}
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := daemon.IsRunning(pidPath); !alive {
			fmt.Println("Daemon stopped.")
			return daemon.RemovePIDFile(pidPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return &cliError{exitGeneric, fmt.Errorf("pid %d did not exit within 10s of SIGTERM", running.Pid)}
}
