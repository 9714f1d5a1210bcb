package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/putplace/assist/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon's configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default assist.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", configPath)
		return nil
	},
}

var remoteServerName string
var remoteServerURL string
var remoteServerUsername string

var configRemoteServerCmd = &cobra.Command{
	Use:   "set-remote-server",
	Short: "Configure the default remote server this daemon uploads to",
	RunE: func(cmd *cobra.Command, args []string) error {
		if remoteServerName == "" || remoteServerURL == "" {
			return &cliError{exitGeneric, fmt.Errorf("--name and --url are required")}
		}

		password, err := readPassword()
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.RemoteServer = config.RemoteServerConfig{
			Name:     remoteServerName,
			URL:      remoteServerURL,
			Username: remoteServerUsername,
			Password: password,
		}
		fmt.Println("Remote server configured. Restart the daemon (assist restart) to apply it.")
		return writeConfig(cfg)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configRemoteServerCmd)
	configRemoteServerCmd.Flags().StringVar(&remoteServerName, "name", "", "server name")
	configRemoteServerCmd.Flags().StringVar(&remoteServerURL, "url", "", "server base URL")
	configRemoteServerCmd.Flags().StringVar(&remoteServerUsername, "username", "", "login username")
}

// readPassword prompts for the remote server's password without echoing
// it when attached to a terminal, matching the teacher's
// users.go:term.ReadPassword pattern. Piped input (tests, scripts) skips
// the prompt entirely and reads one line from stdin instead, since
// there's no terminal to suppress an echo on.
func readPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line), nil
	}

	fmt.Print("Remote server password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func loadConfig() (config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return config.Defaults(), nil
	}
	return config.Load(configPath)
}

// writeConfig persists cfg back to configPath via the same scaffolding
// writer config.Init uses, overwriting the previous file.
func writeConfig(cfg config.Config) error {
	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing previous config: %w", err)
	}
	return config.InitWith(configPath, cfg)
}
