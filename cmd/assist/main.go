// Command assist is the CLI front-end for the daemon: start/stop/status/
// restart process control plus config scaffolding. Grounded on
// theanswer42-bt-go's cmd/bt/main.go (a cobra.Command tree, a
// newApp-style config load ahead of every subcommand) and
// Regis-Caelum-drive-sync's cmd/dsync/main.go (SilenceUsage/SilenceErrors
// so cobra doesn't duplicate the error it also prints to stderr).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "assist",
	Short:         "Local file-metadata and content-deduplication assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to assist.toml")
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, restartCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "assist:", err)
		os.Exit(exitCode(err))
	}
}
