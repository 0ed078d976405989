package taskstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

func sampleSnapshot() domain.Snapshot {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		Environments: []domain.Environment{
			{ID: "e2", Name: "billing", RepoURL: "git@example.com:billing.git"},
			{ID: "e1", Name: "erp", DefaultBranch: "main"},
		},
		Tasks: []domain.Task{
			{ID: "t1", EnvID: "e1", Title: "Validators", Status: domain.StatusRunning, CreatedAt: created, UpdatedAt: created,
				Runs: []domain.Run{{ID: "r1", Status: domain.RunRunning, StartedAt: created}}},
			{ID: "t2", EnvID: "e2", Title: "Invoices", Status: domain.StatusCompleted, CreatedAt: created, UpdatedAt: created},
		},
		Accounts: domain.AccountState{
			ActiveID: "a1",
			Accounts: []domain.Account{{ID: "a1", Label: "primary", Status: domain.AccountActive}},
		},
	}
}

func TestStore_SaveAndLoadSnapshot(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, ok, err := store.LoadSnapshot(ctx); err != nil || ok {
		t.Fatalf("LoadSnapshot() on empty store = %v, %v; want false, nil", ok, err)
	}

	if err := store.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = %v, %v", ok, err)
	}

	if len(got.Environments) != 2 || got.Environments[0].ID != "e2" {
		t.Errorf("Environments = %+v, want order preserved", got.Environments)
	}
	if got.Environments[0].RepoURL != "git@example.com:billing.git" {
		t.Errorf("RepoURL = %q", got.Environments[0].RepoURL)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].ID != "t1" {
		t.Fatalf("Tasks = %+v", got.Tasks)
	}
	if got.Tasks[0].Status != domain.StatusRunning {
		t.Errorf("Status = %q, want running", got.Tasks[0].Status)
	}
	if len(got.Tasks[0].Runs) != 1 || got.Tasks[0].Runs[0].ID != "r1" {
		t.Errorf("Runs = %+v", got.Tasks[0].Runs)
	}
	if got.Tasks[1].Runs != nil {
		t.Errorf("task without runs loaded %+v", got.Tasks[1].Runs)
	}
	if got.Accounts.ActiveID != "a1" || len(got.Accounts.Accounts) != 1 {
		t.Errorf("Accounts = %+v", got.Accounts)
	}
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	store.SaveSnapshot(ctx, sampleSnapshot())
	if err := store.SaveSnapshot(ctx, domain.Snapshot{
		Environments: []domain.Environment{{ID: "e1", Name: "erp"}},
	}); err != nil {
		t.Fatal(err)
	}

	got, _, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Environments) != 1 {
		t.Errorf("Environments count = %d, want 1", len(got.Environments))
	}
	if got.Tasks == nil || len(got.Tasks) != 0 {
		t.Errorf("Tasks = %+v, want empty", got.Tasks)
	}
	if got.Accounts.ActiveID != "" {
		t.Errorf("ActiveID = %q, want empty", got.Accounts.ActiveID)
	}
}

func TestStore_SavedAt(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	if _, ok, _ := store.SavedAt(ctx); ok {
		t.Error("SavedAt() ok on empty store")
	}
	store.SaveSnapshot(ctx, domain.Snapshot{})

	got, ok, err := store.SavedAt(ctx)
	if err != nil || !ok {
		t.Fatalf("SavedAt() = %v, %v", ok, err)
	}
	if !got.Equal(fixed) {
		t.Errorf("SavedAt() = %v, want %v", got, fixed)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, ok, err := reopened.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = %v, %v", ok, err)
	}
	if len(got.Tasks) != 2 {
		t.Errorf("Tasks count = %d, want 2", len(got.Tasks))
	}
}
