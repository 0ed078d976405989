package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/orch-console/internal/apiclient"
	"github.com/hochfrequenz/orch-console/internal/config"
	"github.com/hochfrequenz/orch-console/internal/console"
	"github.com/hochfrequenz/orch-console/internal/push"
	"github.com/hochfrequenz/orch-console/internal/taskstore"
)

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openLogFile opens the TUI log file; the terminal belongs to the UI
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func newClient(cfg *config.Config, logger *slog.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Server.Token,
		Logger:  logger,
	})
}

func openCache(cfg *config.Config) (*taskstore.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	store, err := taskstore.New(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot cache: %w", err)
	}
	return store, nil
}

// newEngine wires the REST client, both push channels and the snapshot
// cache into a sync engine. The returned func releases the cache.
func newEngine(cfg *config.Config, logger *slog.Logger) (*console.Engine, func(), error) {
	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	events, err := push.NewEventSource(push.SSEConfig{
		BaseURL: client.BaseURL(),
		Header:  client.Header(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logs, err := push.NewLogDialer(push.LogStreamConfig{
		BaseURL: client.BaseURL(),
		Header:  client.Header(),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	engineCfg := console.Config{
		API:              client,
		Events:           events,
		Logs:             logs,
		SyncEnabled:      cfg.Sync.Enabled,
		EventsEndpoint:   cfg.Server.EventsPath,
		PollInterval:     cfg.Sync.PollInterval(),
		ReconnectRefresh: cfg.Sync.ReconnectRefresh(),
		Logger:           logger,
	}

	release := func() {}
	cache, err := openCache(cfg)
	if err != nil {
		logger.Warn("snapshot cache unavailable", "error", err)
	} else if cache != nil {
		engineCfg.Cache = cache
		release = func() { cache.Close() }
	}

	engine, err := console.NewEngine(engineCfg)
	if err != nil {
		release()
		return nil, nil, err
	}
	return engine, release, nil
}
