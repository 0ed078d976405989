package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig `toml:"server"`
	Sync   SyncConfig   `toml:"sync"`
	Cache  CacheConfig  `toml:"cache"`
	UI     UIConfig     `toml:"ui"`
	Notify NotifyConfig `toml:"notify"`
}

// ServerConfig holds the orchestration server connection settings
type ServerConfig struct {
	BaseURL    string `toml:"base_url"`
	Token      string `toml:"token"`
	EventsPath string `toml:"events_path"`
}

// SyncConfig holds push channel and polling settings
type SyncConfig struct {
	Enabled            bool `toml:"enabled"`
	PollIntervalMs     int  `toml:"poll_interval_ms"`
	ReconnectRefreshMs int  `toml:"reconnect_refresh_ms"`
}

// CacheConfig holds snapshot cache settings
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// UIConfig holds terminal UI settings
type UIConfig struct {
	LogFile string `toml:"log_file"`
}

// NotifyConfig holds task completion notification settings
type NotifyConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Enabled reports whether any notification channel is configured
func (c NotifyConfig) Enabled() bool {
	return c.Desktop || c.SlackWebhook != ""
}

// PollInterval returns the polling cadence
func (c SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ReconnectRefresh returns the minimum gap between error-driven refreshes
func (c SyncConfig) ReconnectRefresh() time.Duration {
	return time.Duration(c.ReconnectRefreshMs) * time.Millisecond
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			BaseURL:    "http://127.0.0.1:8080",
			EventsPath: "/api/events",
		},
		Sync: SyncConfig{
			Enabled:            true,
			PollIntervalMs:     8000,
			ReconnectRefreshMs: 60000,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".orch-console", "snapshot.db"),
		},
		UI: UIConfig{
			LogFile: filepath.Join(home, ".orch-console", "console.log"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	cfg.UI.LogFile = ExpandPath(cfg.UI.LogFile)

	return cfg, nil
}

// Validate checks the settings the engine cannot work without
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url %q must be http or https", c.Server.BaseURL)
	}
	if !strings.HasPrefix(c.Server.EventsPath, "/") {
		return fmt.Errorf("server.events_path %q must start with /", c.Server.EventsPath)
	}
	if c.Sync.PollIntervalMs <= 0 {
		return errors.New("sync.poll_interval_ms must be positive")
	}
	if c.Sync.ReconnectRefreshMs <= 0 {
		return errors.New("sync.reconnect_refresh_ms must be positive")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return errors.New("cache.path is required when the cache is enabled")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "orch-console", "config.toml")
}
