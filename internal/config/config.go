// Package config loads the daemon's persisted TOML configuration, grounded
// on the teacher's helpers.LoadConfig (same viper.Unmarshal call shape),
// reconfigured for TOML per spec.md section 6 instead of the teacher's JSON.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the TOML document at ~/.config/<app>/assist.toml.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Watcher      WatcherConfig      `mapstructure:"watcher"`
	Uploader     UploaderConfig     `mapstructure:"uploader"`
	SHA256       SHA256Config       `mapstructure:"sha256"`
	RemoteServer RemoteServerConfig `mapstructure:"remote_server"`
}

// ServerConfig is the control plane's bind address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig points at the store's SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WatcherConfig controls the scanner's fsnotify watches.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// UploaderConfig controls the upload worker pool.
type UploaderConfig struct {
	Parallel     int           `mapstructure:"parallel"`
	RetryAttempts int          `mapstructure:"retry_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Content      bool          `mapstructure:"content"`
	DryRun       bool          `mapstructure:"dry_run"`
}

// SHA256Config controls the fingerprinter's rate limiting.
type SHA256Config struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	InterChunkSleep time.Duration `mapstructure:"inter_chunk_sleep"`
}

// RemoteServerConfig seeds the Store's default Server row on first run.
// Secret is never logged — callers must redact it before any debug dump
// (see internal/controlplane's secretFingerprint helper).
type RemoteServerConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Defaults mirrors the original source's configargparse defaults, adapted
// to spec.md section 6's TOML sections.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8765},
		Database: DatabaseConfig{Path: "~/.local/share/assist/assist.db"},
		Watcher:  WatcherConfig{Enabled: true, Debounce: 2 * time.Second},
		Uploader: UploaderConfig{
			Parallel:      4,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
			Timeout:       time.Hour,
			Content:       true,
		},
		SHA256: SHA256Config{ChunkSize: 1 << 20},
	}
}

// Load reads path as TOML into a Config seeded with Defaults, grounded on
// the teacher's viper.AddConfigPath/SetConfigName/ReadInConfig/Unmarshal
// sequence (helpers.LoadConfig), but pointed at a single file path and
// SetConfigType("toml") instead of the teacher's JSON.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config %s: %w", path, err)
	}
	return cfg, nil
}
