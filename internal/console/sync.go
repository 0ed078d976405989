package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/orch-console/internal/clock"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/push"
)

// Push event names on the events endpoint
const (
	EventInit            = "init"
	EventTasksChanged    = "tasks_changed"
	EventEnvsChanged     = "envs_changed"
	EventAccountsChanged = "accounts_changed"
)

// Defaults for SyncConfig
const (
	DefaultEventsEndpoint   = "/api/events"
	DefaultReconnectRefresh = 60 * time.Second
)

// EventDialer opens the collection push channel.
// *push.EventSource implements it.
type EventDialer interface {
	Subscribe(ctx context.Context, endpoint string) (push.Subscription, error)
}

// SyncConfig configures one Synchronizer run
type SyncConfig struct {
	// Enabled false makes Start a no-op.
	Enabled bool
	// Endpoint is the events path. Defaults to DefaultEventsEndpoint.
	Endpoint string
	// ReconnectRefresh is the minimum gap between two refreshes caused
	// by channel errors, and the polling cadence when push is
	// unavailable. Defaults to DefaultReconnectRefresh.
	ReconnectRefresh time.Duration

	// OnSnapshot, when set, receives the init snapshot in one call and
	// replaces OnEnvironments, OnTasks and OnAccounts.
	OnSnapshot func(domain.Snapshot)
	// OnEnvironments, OnTasks and OnAccounts receive the init snapshot.
	OnEnvironments func([]domain.Environment)
	OnTasks        func([]domain.Task)
	OnAccounts     func(domain.AccountState)
	// OnReconcile is called for every invalidation and for rate-limited
	// channel errors. It must not block.
	OnReconcile func()
	// OnError receives init payloads that could not be decoded.
	OnError func(error)
}

func (c *SyncConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEventsEndpoint
	}
	if c.ReconnectRefresh <= 0 {
		c.ReconnectRefresh = DefaultReconnectRefresh
	}
	if c.OnEnvironments == nil {
		c.OnEnvironments = func([]domain.Environment) {}
	}
	if c.OnTasks == nil {
		c.OnTasks = func([]domain.Task) {}
	}
	if c.OnAccounts == nil {
		c.OnAccounts = func(domain.AccountState) {}
	}
	if c.OnReconcile == nil {
		c.OnReconcile = func() {}
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
}

// Synchronizer consumes the collection push channel: the init snapshot
// once per connection, then invalidation events, each of which asks
// for a full reconcile. Without a usable push channel it falls back to
// reconciling on a fixed interval.
type Synchronizer struct {
	dialer EventDialer
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	degraded bool

	// errorRefreshed and lastErrorRefresh are only touched by the run
	// goroutine
	errorRefreshed   bool
	lastErrorRefresh time.Time
}

// NewSynchronizer creates a Synchronizer. A nil dialer means push is
// unavailable and Start degrades to polling.
func NewSynchronizer(dialer EventDialer, clk clock.Clock, logger *slog.Logger) *Synchronizer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{dialer: dialer, clock: clk, logger: logger}
}

// Start subscribes to the push channel. A running Synchronizer is
// stopped first.
func (s *Synchronizer) Start(ctx context.Context, cfg SyncConfig) error {
	s.Stop()
	if !cfg.Enabled {
		return nil
	}
	cfg.applyDefaults()

	var sub push.Subscription
	if s.dialer != nil {
		var err error
		sub, err = s.dialer.Subscribe(ctx, cfg.Endpoint)
		if err != nil && !errors.Is(err, push.ErrUnsupported) {
			return fmt.Errorf("console: subscribing to %s: %w", cfg.Endpoint, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.degraded = sub == nil
	s.errorRefreshed = false
	s.mu.Unlock()

	if sub == nil {
		s.logger.Info("push channel unavailable, polling instead", "interval", cfg.ReconnectRefresh)
		go s.poll(ctx, done, cfg)
		return nil
	}
	go s.run(ctx, done, sub, cfg)
	return nil
}

// Stop closes the channel and waits until no callback can run anymore
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Degraded reports whether the running Synchronizer is polling because
// push is unavailable
func (s *Synchronizer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && s.degraded
}

func (s *Synchronizer) poll(ctx context.Context, done chan struct{}, cfg SyncConfig) {
	defer close(done)
	ticker := s.clock.NewTicker(cfg.ReconnectRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg.OnReconcile()
		}
	}
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}, sub push.Subscription, cfg SyncConfig) {
	defer close(done)
	defer sub.Close()

	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(event, cfg)
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.handleError(err, cfg)
		}
	}
}

func (s *Synchronizer) handleEvent(event push.Event, cfg SyncConfig) {
	switch event.Type {
	case EventInit:
		snap, err := decodeInit(event.Data)
		if err != nil {
			s.logger.Warn("undecodable init event", "error", err)
			cfg.OnError(err)
			return
		}
		if cfg.OnSnapshot != nil {
			cfg.OnSnapshot(snap)
			return
		}
		cfg.OnEnvironments(snap.Environments)
		cfg.OnTasks(snap.Tasks)
		cfg.OnAccounts(snap.Accounts)
	case EventTasksChanged, EventEnvsChanged, EventAccountsChanged:
		s.logger.Debug("invalidation received", "event", event.Type)
		cfg.OnReconcile()
	default:
		s.logger.Debug("ignoring push event", "event", event.Type)
	}
}

func (s *Synchronizer) handleError(err error, cfg SyncConfig) {
	now := s.clock.Now()
	if s.errorRefreshed && now.Sub(s.lastErrorRefresh) < cfg.ReconnectRefresh {
		s.logger.Debug("push channel error, refresh suppressed", "error", err)
		return
	}
	s.errorRefreshed = true
	s.lastErrorRefresh = now
	s.logger.Info("push channel error, reconciling", "error", err)
	cfg.OnReconcile()
}

// decodeInit parses an init payload. Missing or wrongly typed fields
// become empty values and undecodable list items are skipped; only a
// body that is not a JSON object is an error.
func decodeInit(data []byte) (domain.Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return domain.Snapshot{}, fmt.Errorf("console: decoding init event: %w", err)
	}

	snap := domain.Snapshot{
		Environments: decodeList[domain.Environment](fields["environments"]),
		Tasks:        decodeList[domain.Task](fields["tasks"]),
	}
	if raw := bytes.TrimSpace(fields["accounts"]); len(raw) > 0 && raw[0] == '{' {
		var accounts domain.AccountState
		if json.Unmarshal(raw, &accounts) == nil {
			snap.Accounts = accounts
		}
	}
	return snap, nil
}

func decodeList[T any](raw json.RawMessage) []T {
	out := []T{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return out
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		var v T
		if json.Unmarshal(item, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}
