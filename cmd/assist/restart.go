package main

import (
	"github.com/spf13/cobra"

	"github.com/putplace/assist/internal/daemon"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the daemon if running, then start it again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := daemon.IsRunning(defaultPIDPath()); ok {
			if err := stopDaemon(); err != nil {
				return err
			}
		}
		if foreground {
			return runForeground()
		}
		return startBackground()
	},
}

func init() {
	restartCmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	restartCmd.Flags().StringVar(&hostFlag, "host", "", "override the control plane bind host")
	restartCmd.Flags().IntVar(&portFlag, "port", 0, "override the control plane bind port")
}
