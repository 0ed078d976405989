package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/orch-console/internal/clock"
)

// Config holds the collaborators and timings of an Engine
type Config struct {
	// API is required.
	API API
	// Events opens the collection push channel. Nil degrades to
	// polling at ReconnectRefresh.
	Events EventDialer
	// Logs opens per-run log streams. Nil disables live logs.
	Logs LogDialer
	// Cache persists the last snapshot. Optional.
	Cache SnapshotCache

	// SyncEnabled turns the push channel on.
	SyncEnabled bool
	// EventsEndpoint defaults to DefaultEventsEndpoint.
	EventsEndpoint string
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// ReconnectRefresh defaults to DefaultReconnectRefresh.
	ReconnectRefresh time.Duration

	// Clock drives every timer. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Engine wires the Store, Refresher, Synchronizer, Poller and
// LogSubscriber together. The Synchronizer, the Poller and RefreshNow
// only request reconciles; a single goroutine performs them, so two
// reconciles never run at once and bursts of requests collapse into
// one.
type Engine struct {
	cfg       Config
	store     *Store
	refresher *Refresher
	sync      *Synchronizer
	poller    *Poller
	logs      *LogSubscriber
	logger    *slog.Logger

	reconcile chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEngine creates an Engine
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.API == nil {
		return nil, errors.New("console: API is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	store := NewStore()
	e := &Engine{
		cfg:       cfg,
		store:     store,
		refresher: NewRefresher(cfg.API, store, cfg.Cache, cfg.Logger.With("component", "refresher")),
		sync:      NewSynchronizer(cfg.Events, cfg.Clock, cfg.Logger.With("component", "sync")),
		poller:    NewPoller(cfg.PollInterval, cfg.Clock),
		logger:    cfg.Logger,
		reconcile: make(chan struct{}, 1),
	}
	if cfg.Logs != nil {
		e.logs = NewLogSubscriber(cfg.Logs, store, cfg.Logger.With("component", "logs"))
	}
	return e, nil
}

// Store returns the engine's state
func (e *Engine) Store() *Store { return e.store }

// Start loads the cached snapshot, opens the push channel, starts
// polling and requests an initial reconcile.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("console: engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.ctx, e.cancel, e.running = ctx, cancel, true
	e.mu.Unlock()

	if e.refresher.WarmStart(ctx) {
		e.logger.Debug("showing cached snapshot until the first refresh")
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconcileLoop(ctx)
	}()

	err := e.sync.Start(ctx, SyncConfig{
		Enabled:          e.cfg.SyncEnabled,
		Endpoint:         e.cfg.EventsEndpoint,
		ReconnectRefresh: e.cfg.ReconnectRefresh,
		OnSnapshot:       e.store.ReplaceSnapshot,
		OnReconcile:      e.RefreshNow,
		OnError:          e.store.SetError,
	})
	if err != nil {
		e.Stop()
		return fmt.Errorf("console: starting sync: %w", err)
	}

	e.poller.Start(ctx, e.RefreshNow)
	if e.logs != nil {
		e.logs.Start(ctx)
	}
	e.RefreshNow()
	return nil
}

// Stop tears down every channel, timer and goroutine. Safe to call
// more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.sync.Stop()
	e.poller.Stop()
	if e.logs != nil {
		e.logs.Stop()
	}
	cancel()
	e.wg.Wait()
}

// RefreshNow requests a reconcile. Requests made while one is pending
// are merged. Never blocks.
func (e *Engine) RefreshNow() {
	select {
	case e.reconcile <- struct{}{}:
	default:
	}
}

// Select makes id the selected task and loads its detail in the
// background. An empty id clears the selection.
func (e *Engine) Select(id string) {
	e.store.Select(id)
	if id == "" {
		return
	}

	e.mu.Lock()
	ctx, running := e.ctx, e.running
	if running {
		e.wg.Add(1)
	}
	e.mu.Unlock()
	if !running {
		return
	}

	go func() {
		defer e.wg.Done()
		e.recordDetailError(id, e.refresher.LoadDetail(ctx, id))
	}()
}

// Reveal opts a large diff file into display
func (e *Engine) Reveal(path string) {
	e.store.Reveal(path)
}

// SyncDegraded reports whether push is unavailable and the engine
// relies on polling alone
func (e *Engine) SyncDegraded() bool {
	return e.sync.Degraded()
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.reconcile:
			e.refresher.Reconcile(ctx)
		}
	}
}

func (e *Engine) recordDetailError(id string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	e.logger.Warn("detail load failed", "task_id", id, "error", err)
	e.store.SetError(fmt.Errorf("load task %s: %w", id, err))
}
