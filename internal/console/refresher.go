package console

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/orch-console/internal/apiclient"
	"github.com/hochfrequenz/orch-console/internal/domain"
)

// API is the part of the REST boundary the engine consumes.
// *apiclient.Client implements it.
type API interface {
	FetchSnapshot(ctx context.Context) (domain.Snapshot, error)
	GetTask(ctx context.Context, id string) (*domain.TaskDetail, error)
	GetTaskDiff(ctx context.Context, id string) (*domain.TaskDiff, error)
}

// SnapshotCache persists the last good snapshot
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	LoadSnapshot(ctx context.Context) (domain.Snapshot, bool, error)
}

// Refresher fetches collections and task details and writes them into
// a Store. Every refresh is a full overwrite, so concurrent refreshes
// are harmless: the last one to finish wins.
type Refresher struct {
	api    API
	store  *Store
	cache  SnapshotCache
	logger *slog.Logger
}

// NewRefresher creates a Refresher. cache may be nil.
func NewRefresher(api API, store *Store, cache SnapshotCache, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{api: api, store: store, cache: cache, logger: logger}
}

// BulkRefresh replaces the snapshot with a fresh fetch of every
// collection. On failure the snapshot is left untouched.
func (r *Refresher) BulkRefresh(ctx context.Context) error {
	snap, err := r.api.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	r.store.ReplaceSnapshot(snap)

	if r.cache != nil {
		if err := r.cache.SaveSnapshot(ctx, r.store.Snapshot()); err != nil {
			r.logger.Warn("failed to cache snapshot", "error", err)
		}
	}
	return nil
}

// RefreshDetail re-fetches the detail and diff of task id. See
// loadDetail for how absences are handled.
func (r *Refresher) RefreshDetail(ctx context.Context, id string) error {
	return r.loadDetail(ctx, id, false)
}

// LoadDetail is the first fetch after id was selected. Unlike
// RefreshDetail it withholds every large diff file again.
func (r *Refresher) LoadDetail(ctx context.Context, id string) error {
	return r.loadDetail(ctx, id, true)
}

// loadDetail fetches the detail, then the diff. A missing diff is
// stored as nil. A missing task clears the selection and is not an
// error. Results for a selection that changed meanwhile are dropped.
func (r *Refresher) loadDetail(ctx context.Context, id string, fresh bool) error {
	if id == "" {
		return nil
	}
	selected, gen := r.store.Selected()
	if selected != id {
		return nil
	}

	detail, err := r.api.GetTask(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			if r.store.ClearSelection(id, gen) {
				r.logger.Info("selected task no longer exists", "task_id", id)
			}
			return nil
		}
		return err
	}

	diff, diffErr := r.api.GetTaskDiff(ctx, id)
	if diffErr != nil {
		if !apiclient.IsNotFound(diffErr) {
			// Keep the diff we have; the detail is still worth showing.
			diff = r.store.Diff()
		} else {
			diff = nil
		}
	}

	if !r.store.ApplyDetail(id, gen, detail, diff, fresh) {
		r.logger.Debug("discarding detail for stale selection", "task_id", id)
		return nil
	}
	if diffErr != nil && !apiclient.IsNotFound(diffErr) {
		return diffErr
	}
	return nil
}

// Reconcile runs a bulk refresh and then refreshes the selected task.
// Failures land in the store's error slot; a clean pass clears it.
func (r *Refresher) Reconcile(ctx context.Context) {
	err := r.BulkRefresh(ctx)
	if err != nil {
		r.logger.Warn("bulk refresh failed", "error", err)
	}

	if id, _ := r.store.Selected(); id != "" {
		if detailErr := r.RefreshDetail(ctx, id); detailErr != nil {
			r.logger.Warn("detail refresh failed", "task_id", id, "error", detailErr)
			if err == nil {
				err = detailErr
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.store.SetError(fmt.Errorf("refresh: %w", err))
		return
	}
	r.store.SetError(nil)
}

// WarmStart loads the cached snapshot into the store if the store is
// still empty. It reports whether a cached snapshot was applied.
func (r *Refresher) WarmStart(ctx context.Context) bool {
	if r.cache == nil {
		return false
	}
	snap, ok, err := r.cache.LoadSnapshot(ctx)
	if err != nil {
		r.logger.Warn("failed to load cached snapshot", "error", err)
		return false
	}
	if !ok || r.store.Version() != 0 {
		return false
	}
	r.store.ReplaceSnapshot(snap)
	return true
}
