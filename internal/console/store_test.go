package console

import (
	"reflect"
	"testing"

	"github.com/hochfrequenz/orch-console/internal/diffview"
	"github.com/hochfrequenz/orch-console/internal/domain"
)

func selectDetail(t *testing.T, s *Store, detail *domain.TaskDetail) uint64 {
	t.Helper()
	gen := s.Select(detail.ID)
	if !s.ApplyDetail(detail.ID, gen, detail, nil, true) {
		t.Fatal("ApplyDetail rejected the current selection")
	}
	return gen
}

func TestStore_ReplaceSnapshotKeepsListsAsReceived(t *testing.T) {
	s := NewStore()
	before := s.Version()
	s.ReplaceSnapshot(domain.Snapshot{
		Environments: []domain.Environment{{ID: "e1"}},
		Tasks:        []domain.Task{{ID: "t1", EnvID: "e1"}, {ID: "t2", EnvID: "created-later"}},
	})

	snap := s.Snapshot()
	if len(snap.Tasks) != 2 {
		t.Errorf("Tasks = %+v, want t1 and t2", snap.Tasks)
	}
	if got := s.Version() - before; got != 1 {
		t.Errorf("ReplaceSnapshot bumped version by %d, want 1", got)
	}

	s.ReplaceSnapshot(domain.Snapshot{})
	if s.Snapshot().Environments == nil || s.Snapshot().Tasks == nil {
		t.Error("empty snapshot should have non-nil lists")
	}
}

func TestStore_MalformedEnvironmentsKeepTasks(t *testing.T) {
	snap, err := decodeInit([]byte(`{
		"environments": "oops",
		"tasks": [{"taskId": "t1", "envId": "e1", "status": "running"}]
	}`))
	if err != nil {
		t.Fatalf("decodeInit() error = %v", err)
	}

	s := NewStore()
	s.SetEnvironments(snap.Environments)
	s.SetTasks(snap.Tasks)

	got := s.Snapshot()
	if len(got.Environments) != 0 {
		t.Errorf("Environments = %+v, want empty", got.Environments)
	}
	if got.FindTask("t1") == nil {
		t.Errorf("Tasks = %+v, want t1 kept", got.Tasks)
	}

	s.ReplaceSnapshot(snap)
	if s.Snapshot().FindTask("t1") == nil {
		t.Error("ReplaceSnapshot dropped a task with an unknown environment")
	}
}

func TestStore_ApplyLogEntry(t *testing.T) {
	s := NewStore()
	selectDetail(t, s, runningTask("t1", "r1", "r2"))

	before := s.Detail()
	if !s.ApplyLogEntry("t1", "r2", entry("a")) {
		t.Fatal("ApplyLogEntry(a) = false, want true")
	}
	after := s.Detail()

	if before == after {
		t.Error("detail pointer unchanged after merge")
	}
	if &before.Runs[0] == &after.Runs[0] {
		t.Error("run slice shared after merge")
	}
	if len(before.Runs[1].Entries) != 0 {
		t.Error("previous detail was mutated")
	}
	if got := entryIDs(after.Runs[1]); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("entries = %v, want [a]", got)
	}

	// Duplicate delivery changes nothing.
	if s.ApplyLogEntry("t1", "r2", entry("a")) {
		t.Error("duplicate ApplyLogEntry = true, want false")
	}
	if s.Detail() != after {
		t.Error("duplicate delivery replaced the detail")
	}
}

func TestStore_ApplyLogEntryDropsStale(t *testing.T) {
	s := NewStore()
	if s.ApplyLogEntry("t1", "r1", entry("a")) {
		t.Error("entry without detail should be dropped")
	}

	selectDetail(t, s, runningTask("t1", "r1"))
	version := s.Version()

	if s.ApplyLogEntry("t1", "old-run", entry("a")) {
		t.Error("entry for unknown run should be dropped")
	}
	if s.ApplyLogEntry("t2", "r1", entry("a")) {
		t.Error("entry for another task should be dropped")
	}
	if s.Version() != version {
		t.Error("dropped entries must not change the store")
	}
}

func TestStore_OrderPreservedUnderRedelivery(t *testing.T) {
	s := NewStore()
	selectDetail(t, s, runningTask("t1", "r1"))

	for _, id := range []string{"e1", "e2", "e1", "e3", "e2", "e4", "e4", "e1"} {
		s.ApplyLogEntry("t1", "r1", entry(id))
	}

	got := entryIDs(s.Detail().Runs[0])
	want := []string{"e1", "e2", "e3", "e4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %v, want %v", got, want)
	}
}

func TestStore_ApplyDetailStaleGeneration(t *testing.T) {
	s := NewStore()
	gen := s.Select("t1")
	s.Select("t2")

	if s.ApplyDetail("t1", gen, runningTask("t1"), nil, true) {
		t.Error("detail for a previous selection was applied")
	}
	if s.Detail() != nil {
		t.Error("detail should still be nil")
	}

	// Reselecting t1 starts a new generation; the old one stays stale.
	s.Select("t1")
	if s.ApplyDetail("t1", gen, runningTask("t1"), nil, true) {
		t.Error("detail from an older generation of the same id was applied")
	}
}

func TestStore_ApplyDetailKeepsStreamedEntries(t *testing.T) {
	s := NewStore()
	gen := selectDetail(t, s, runningTask("t1", "r1"))
	s.ApplyLogEntry("t1", "r1", entry("a"))
	s.ApplyLogEntry("t1", "r1", entry("b"))

	// A fetch that started before "b" arrived.
	fetched := runningTask("t1", "r1")
	fetched.Runs[0].Entries = []domain.LogEntry{entry("a")}
	s.ApplyDetail("t1", gen, fetched, nil, false)

	if got := entryIDs(s.Detail().Runs[0]); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("entries = %v, want [a b]", got)
	}
	if len(fetched.Runs[0].Entries) != 1 {
		t.Error("fetched detail was mutated")
	}
}

func TestStore_ClearSelection(t *testing.T) {
	s := NewStore()
	gen := selectDetail(t, s, runningTask("t1"))

	if s.ClearSelection("t1", gen+1) {
		t.Error("ClearSelection with a stale generation succeeded")
	}
	if !s.ClearSelection("t1", gen) {
		t.Fatal("ClearSelection = false, want true")
	}
	if id, _ := s.Selected(); id != "" {
		t.Errorf("selected = %q, want empty", id)
	}
	if s.Detail() != nil || s.Diff() != nil {
		t.Error("detail and diff should be cleared")
	}
}

func TestStore_RevealGate(t *testing.T) {
	diff := &domain.TaskDiff{
		Available: true,
		Files: []domain.DiffFile{
			{Path: "small.go", Text: "@@ -1 +1 @@\n-a\n+b\n"},
			{Path: "big.sql", Text: "@@ -0,0 +1,2 @@\n+x\n+y\n", TooLarge: true},
		},
	}

	s := NewStore()
	gen := s.Select("t1")
	s.ApplyDetail("t1", gen, runningTask("t1"), diff, true)

	view, ok := s.DiffView("small.go")
	if !ok || view.Withheld || len(view.Result.Rows) != 3 {
		t.Errorf("small.go view = %+v, %v", view, ok)
	}

	view, _ = s.DiffView("big.sql")
	if !view.Withheld || len(view.Result.Rows) != 0 {
		t.Errorf("big.sql should be withheld, got %+v", view)
	}

	s.Reveal("big.sql")
	view, _ = s.DiffView("big.sql")
	if view.Withheld {
		t.Fatal("big.sql still withheld after Reveal")
	}
	if view.Result.Stats != (diffview.Stats{Additions: 2}) {
		t.Errorf("Stats = %+v, want 2 additions", view.Result.Stats)
	}

	// A periodic refresh keeps the flag, a fresh load resets it.
	s.ApplyDetail("t1", gen, runningTask("t1"), diff, false)
	if !s.Revealed("big.sql") {
		t.Error("refresh reset the reveal flag")
	}
	s.ApplyDetail("t1", gen, runningTask("t1"), diff, true)
	if s.Revealed("big.sql") {
		t.Error("fresh load kept the reveal flag")
	}

	s.Reveal("big.sql")
	s.Select("t2")
	if s.Revealed("big.sql") {
		t.Error("selection change kept the reveal flag")
	}

	if _, ok := s.DiffView("missing"); ok {
		t.Error("DiffView on a missing path should report false")
	}
}

func TestStore_Watch(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Watch()
	defer cancel()

	s.SetEnvironments([]domain.Environment{{ID: "e1"}})
	s.SetTasks([]domain.Task{{ID: "t1", EnvID: "e1"}})

	select {
	case <-ch:
	default:
		t.Fatal("no change notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
}
