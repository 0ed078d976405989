package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/push"
)

// LogDialer opens the live log stream of one run.
// *push.LogDialer implements it.
type LogDialer interface {
	OpenRunLog(ctx context.Context, taskID, runID string) (push.Subscription, error)
}

// logMessage is one frame of a run log stream
type logMessage struct {
	RunID string          `json:"runId"`
	Entry domain.LogEntry `json:"entry"`
}

// logTarget identifies the run a stream is attached to. The zero value
// means no stream.
type logTarget struct {
	taskID string
	runID  string
}

// targetFor returns the run to stream for detail: its latest run while
// the task is running or stopping
func targetFor(detail *domain.TaskDetail) logTarget {
	if detail == nil || !detail.Status.IsActive() {
		return logTarget{}
	}
	run := detail.LatestRun()
	if run == nil {
		return logTarget{}
	}
	return logTarget{taskID: detail.ID, runID: run.ID}
}

// LogSubscriber follows the Store and keeps exactly one log stream open
// while the selected task has an active run. Received entries are
// merged into the detail through Store.ApplyLogEntry.
type LogSubscriber struct {
	dialer LogDialer
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	opened int
}

// NewLogSubscriber creates a LogSubscriber
func NewLogSubscriber(dialer LogDialer, store *Store, logger *slog.Logger) *LogSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubscriber{dialer: dialer, store: store, logger: logger}
}

// Start begins following the store. A running subscriber is stopped
// first.
func (l *LogSubscriber) Start(ctx context.Context) {
	l.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	changes, unwatch := l.store.Watch()

	l.mu.Lock()
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer unwatch()
		l.run(ctx, changes)
	}()
}

// Stop closes any open stream and waits for the subscriber to exit
func (l *LogSubscriber) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Opened returns how many streams were opened so far
func (l *LogSubscriber) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

func (l *LogSubscriber) run(ctx context.Context, changes <-chan struct{}) {
	var (
		current logTarget
		sub     push.Subscription
		events  <-chan push.Event
		errs    <-chan error
	)
	closeSub := func() {
		if sub != nil {
			sub.Close()
			l.logger.Debug("log stream closed", "task_id", current.taskID, "run_id", current.runID)
		}
		sub, events, errs = nil, nil, nil
		current = logTarget{}
	}
	defer closeSub()

	retarget := func() {
		next := targetFor(l.store.Detail())
		if next == current {
			return
		}
		closeSub()
		if next == (logTarget{}) {
			return
		}

		opened, err := l.dialer.OpenRunLog(ctx, next.taskID, next.runID)
		if err != nil {
			// The next store change retries.
			l.logger.Warn("failed to open log stream", "task_id", next.taskID, "run_id", next.runID, "error", err)
			return
		}
		l.mu.Lock()
		l.opened++
		l.mu.Unlock()

		current, sub = next, opened
		events, errs = sub.Events(), sub.Errors()
		l.logger.Debug("log stream opened", "task_id", next.taskID, "run_id", next.runID)
	}

	retarget()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			retarget()
		case event, ok := <-events:
			if !ok {
				closeSub()
				continue
			}
			l.apply(current, event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.logger.Debug("log stream error", "task_id", current.taskID, "error", err)
		}
	}
}

func (l *LogSubscriber) apply(target logTarget, event push.Event) {
	var msg logMessage
	if err := json.Unmarshal(event.Data, &msg); err != nil {
		l.logger.Debug("dropping malformed log message", "error", err)
		return
	}
	if msg.RunID == "" || msg.Entry.ID == "" {
		l.logger.Debug("dropping incomplete log message", "run_id", msg.RunID)
		return
	}
	l.store.ApplyLogEntry(target.taskID, msg.RunID, msg.Entry)
}
