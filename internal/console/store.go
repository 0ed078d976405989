// Package console is the state-synchronization engine behind the
// operator console. It keeps a local copy of environments, tasks and
// accounts in step with the orchestration server, maintains the detail
// of the selected task, and merges live run output into it.
//
// All state lives in a Store. Writers replace whole values and never
// mutate what a reader may hold, so consumers can detect changes by
// comparing pointers or slice headers.
package console

import (
	"sync"

	"github.com/hochfrequenz/orch-console/internal/diffview"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/runlog"
)

// Store holds the collection snapshot and the selected task's detail.
// Values returned by its getters are shared and must be treated as
// read-only.
type Store struct {
	mu sync.RWMutex

	snapshot domain.Snapshot

	selectedID string
	generation uint64
	detail     *domain.TaskDetail
	diff       *domain.TaskDiff
	gate       diffview.RevealGate

	lastErr error
	version uint64

	watchers map[chan struct{}]struct{}
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		snapshot: domain.Snapshot{
			Environments: []domain.Environment{},
			Tasks:        []domain.Task{},
		},
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Watch returns a channel that receives a value after every change.
// Notifications coalesce: a slow reader sees one signal for many
// changes. Call cancel to stop watching.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}
}

// changedLocked must be called with mu held for writing
func (s *Store) changedLocked() {
	s.version++
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Version increases with every change
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns the current collections
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// ReplaceSnapshot swaps in a freshly fetched snapshot as one change.
// The lists are kept as received; nil lists become empty.
func (s *Store) ReplaceSnapshot(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = normalize(snap)
	s.changedLocked()
}

// SetEnvironments replaces the environment list
func (s *Store) SetEnvironments(envs []domain.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snapshot
	next.Environments = envs
	s.snapshot = normalize(next)
	s.changedLocked()
}

// SetTasks replaces the task list
func (s *Store) SetTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snapshot
	next.Tasks = tasks
	s.snapshot = normalize(next)
	s.changedLocked()
}

// SetAccounts replaces the account state
func (s *Store) SetAccounts(accounts domain.AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snapshot
	next.Accounts = accounts
	s.snapshot = next
	s.changedLocked()
}

func normalize(snap domain.Snapshot) domain.Snapshot {
	if snap.Environments == nil {
		snap.Environments = []domain.Environment{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap
}

// Select makes id the selected task. The previous detail, diff and
// reveal flags are discarded. Selecting the current task again is a
// no-op. An empty id clears the selection.
func (s *Store) Select(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.selectedID {
		return s.generation
	}
	s.resetSelectionLocked(id)
	return s.generation
}

// Selected returns the selected task id and the selection generation.
// The generation changes whenever the selection does, so results
// fetched for an earlier selection can be recognised.
func (s *Store) Selected() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID, s.generation
}

// ClearSelection drops the selection if it still is id at generation
// gen. It reports whether anything was cleared.
func (s *Store) ClearSelection(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID != id || s.generation != gen || id == "" {
		return false
	}
	s.resetSelectionLocked("")
	return true
}

func (s *Store) resetSelectionLocked(id string) {
	s.selectedID = id
	s.generation++
	s.detail = nil
	s.diff = nil
	s.gate.Reset()
	s.changedLocked()
}

// ApplyDetail stores a fetched detail and diff for id. It returns
// false without changing anything when the selection moved on since
// gen was read. A fresh load also withholds every large diff file
// again.
//
// Entries already merged from the live stream that the fetch does not
// yet include are kept at the end of their run.
func (s *Store) ApplyDetail(id string, gen uint64, detail *domain.TaskDetail, diff *domain.TaskDiff, fresh bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID != id || s.generation != gen {
		return false
	}

	s.detail = carryEntries(s.detail, detail)
	s.diff = diff
	if fresh {
		s.gate.Reset()
	}
	s.changedLocked()
	return true
}

// carryEntries returns next, with entries of prev's runs appended to
// the matching runs of next when next lacks them
func carryEntries(prev, next *domain.TaskDetail) *domain.TaskDetail {
	if prev == nil || next == nil || prev.ID != next.ID {
		return next
	}

	var runs []domain.Run
	for i, run := range next.Runs {
		j := prev.RunIndex(run.ID)
		if j < 0 {
			continue
		}
		merged := runlog.MergeAll(run.Entries, prev.Runs[j].Entries...)
		if len(merged) == len(run.Entries) {
			continue
		}
		if runs == nil {
			runs = append([]domain.Run{}, next.Runs...)
		}
		runs[i].Entries = merged
	}
	if runs == nil {
		return next
	}

	updated := *next
	updated.Runs = runs
	return &updated
}

// ApplyLogEntry merges entry into run runID of the selected task's
// detail. Entries for another task, for a run the detail does not
// contain, or already present are dropped. On success the detail, its
// run slice and the run are all new values.
func (s *Store) ApplyLogEntry(taskID, runID string, entry domain.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detail == nil || s.detail.ID != taskID {
		return false
	}
	i := s.detail.RunIndex(runID)
	if i < 0 {
		return false
	}

	entries, added := runlog.Merge(s.detail.Runs[i].Entries, entry)
	if !added {
		return false
	}

	updated := *s.detail
	updated.Runs = append([]domain.Run{}, s.detail.Runs...)
	run := updated.Runs[i]
	run.Entries = entries
	updated.Runs[i] = run

	s.detail = &updated
	s.changedLocked()
	return true
}

// Detail returns the selected task's detail, or nil
func (s *Store) Detail() *domain.TaskDetail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detail
}

// Diff returns the selected task's diff. Nil means no diff is
// available yet.
func (s *Store) Diff() *domain.TaskDiff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diff
}

// FileView is one file of the selected diff as the renderer sees it
type FileView struct {
	File     domain.DiffFile
	Withheld bool
	Result   diffview.Result
}

// DiffView returns the rendered form of the diff file at path. Rows
// are only present when the file is not withheld. The bool is false if
// the diff has no such file.
func (s *Store) DiffView(path string) (FileView, bool) {
	s.mu.RLock()
	file := s.diff.File(path)
	gate := s.gate.Clone()
	s.mu.RUnlock()

	if file == nil {
		return FileView{}, false
	}
	result, visible := gate.Visible(*file)
	return FileView{File: *file, Withheld: !visible, Result: result}, true
}

// Reveal opts the large diff file at path into display until the next
// fresh detail load
func (s *Store) Reveal(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate.Revealed(path) {
		return
	}
	s.gate.Reveal(path)
	s.changedLocked()
}

// Revealed reports whether path was revealed
func (s *Store) Revealed(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gate.Revealed(path)
}

// SetError records err in the error slot. Nil clears it.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && s.lastErr == nil {
		return
	}
	s.lastErr = err
	s.changedLocked()
}

// LastError returns the most recent non-fatal failure, or nil
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
