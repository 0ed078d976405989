package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

// SnapshotSource is what the Watcher observes. *console.Store implements it.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
	Watch() (<-chan struct{}, func())
}

// Transitions returns one notification per task that was active in prev
// and has reached a terminal status in next. Tasks that appear already
// finished, or vanish, produce nothing.
func Transitions(prev, next domain.Snapshot) []Notification {
	var out []Notification
	for _, t := range next.Tasks {
		before := prev.FindTask(t.ID)
		if before == nil || !before.Status.IsActive() || t.Status.IsActive() {
			continue
		}
		title := t.Title
		if title == "" {
			title = t.ID
		}

		n := Notification{TaskID: t.ID, Message: title}
		switch t.Status {
		case domain.StatusCompleted:
			n.Title, n.Level = "Task completed", LevelSuccess
		case domain.StatusFailed:
			n.Title, n.Level = "Task failed", LevelError
		case domain.StatusStopped:
			n.Title, n.Level = "Task stopped", LevelWarning
		default:
			n.Title, n.Level = fmt.Sprintf("Task %s", t.Status), LevelInfo
		}
		out = append(out, n)
	}
	return out
}

// Watcher compares successive snapshots and sends a notification for
// every task that finished in between
type Watcher struct {
	source   SnapshotSource
	notifier Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher
func NewWatcher(source SnapshotSource, notifier Notifier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: source, notifier: notifier, logger: logger}
}

// Run blocks until ctx is done. The snapshot current at the start is the
// baseline, so tasks finished before Run are never reported.
func (w *Watcher) Run(ctx context.Context) {
	changes, unwatch := w.source.Watch()
	defer unwatch()

	prev := w.source.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		next := w.source.Snapshot()
		for _, n := range Transitions(prev, next) {
			if err := w.notifier.Send(ctx, n); err != nil {
				w.logger.Warn("notification failed", "task", n.TaskID, "error", err)
			}
		}
		prev = next
	}
}
