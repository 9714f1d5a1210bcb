package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// tomlDoc mirrors Config's shape with plain Go types (no time.Duration) so
// BurntSushi/toml — which has no duration codec of its own — writes plain
// strings a human can read and viper.Load can still decode on the way back
// in via its StringToTimeDurationHookFunc.
type tomlDoc struct {
	Server   tomlServer   `toml:"server"`
	Database tomlDatabase `toml:"database"`
	Watcher  tomlWatcher  `toml:"watcher"`
	Uploader tomlUploader `toml:"uploader"`
	SHA256   tomlSHA256   `toml:"sha256"`
	RemoteServer tomlRemoteServer `toml:"remote_server"`
}

type tomlServer struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type tomlDatabase struct {
	Path string `toml:"path"`
}

type tomlWatcher struct {
	Enabled  bool   `toml:"enabled"`
	Debounce string `toml:"debounce"`
}

type tomlUploader struct {
	Parallel      int    `toml:"parallel"`
	RetryAttempts int    `toml:"retry_attempts"`
	RetryDelay    string `toml:"retry_delay"`
	Timeout       string `toml:"timeout"`
	Content       bool   `toml:"content"`
	DryRun        bool   `toml:"dry_run"`
}

type tomlSHA256 struct {
	ChunkSize       int    `toml:"chunk_size"`
	InterChunkSleep string `toml:"inter_chunk_sleep"`
}

type tomlRemoteServer struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Init writes a commented default config file at path, refusing to
// overwrite an existing one. Grounded on theanswer42-bt-go's
// internal/config.Init round-trip-TOML style (toml.NewEncoder), adapted
// from its json-shaped Config to assist's section layout.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return InitWith(path, Defaults())
}

// InitWith writes cfg to path without refusing an existing file, so
// `assist config set-remote-server` can persist a single changed section
// back through the same scaffolding writer Init uses for a fresh file.
func InitWith(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	doc := tomlDoc{
		Server:   tomlServer{Host: cfg.Server.Host, Port: cfg.Server.Port},
		Database: tomlDatabase{Path: cfg.Database.Path},
		Watcher:  tomlWatcher{Enabled: cfg.Watcher.Enabled, Debounce: cfg.Watcher.Debounce.String()},
		Uploader: tomlUploader{
			Parallel:      cfg.Uploader.Parallel,
			RetryAttempts: cfg.Uploader.RetryAttempts,
			RetryDelay:    cfg.Uploader.RetryDelay.String(),
			Timeout:       cfg.Uploader.Timeout.String(),
			Content:       cfg.Uploader.Content,
			DryRun:        cfg.Uploader.DryRun,
		},
		SHA256: tomlSHA256{
			ChunkSize:       cfg.SHA256.ChunkSize,
			InterChunkSleep: cfg.SHA256.InterChunkSleep.String(),
		},
		RemoteServer: tomlRemoteServer{
			Name:     cfg.RemoteServer.Name,
			URL:      cfg.RemoteServer.URL,
			Username: cfg.RemoteServer.Username,
			Password: cfg.RemoteServer.Password,
		},
	}

	if _, err := f.WriteString("# assist.toml - generated by `assist config init`\n" +
		"# remote_server.password is never logged; `assist config set-remote-server` prompts for it.\n\n"); err != nil {
		return fmt.Errorf("writing config header: %w", err)
	}

	if err := toml.NewEncoder(f).Encode(&doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
