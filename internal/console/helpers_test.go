package console

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/orch-console/internal/apiclient"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/push"
)

// fakeSub is a push.Subscription driven by the test
type fakeSub struct {
	events chan push.Event
	errors chan error

	mu     sync.Mutex
	closed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan push.Event, 16), errors: make(chan error, 16)}
}

func (s *fakeSub) Events() <-chan push.Event { return s.events }
func (s *fakeSub) Errors() <-chan error      { return s.errors }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// newLockstepSub returns a fakeSub with unbuffered channels: a send
// returns only once the consumer picked the value up, and a second send
// only once it finished handling the first.
func newLockstepSub() *fakeSub {
	return &fakeSub{events: make(chan push.Event), errors: make(chan error)}
}

// fakeEventDialer hands out one fakeSub per Subscribe
type fakeEventDialer struct {
	mu       sync.Mutex
	subs     []*fakeSub
	err      error
	lockstep bool
}

func (d *fakeEventDialer) Subscribe(ctx context.Context, endpoint string) (push.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	sub := newFakeSub()
	if d.lockstep {
		sub = newLockstepSub()
	}
	d.subs = append(d.subs, sub)
	return sub, nil
}

func (d *fakeEventDialer) last() *fakeSub {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subs) == 0 {
		return nil
	}
	return d.subs[len(d.subs)-1]
}

// fakeLogDialer records every OpenRunLog
type fakeLogDialer struct {
	mu     sync.Mutex
	opened []logTarget
	subs   []*fakeSub
}

func (d *fakeLogDialer) OpenRunLog(ctx context.Context, taskID, runID string) (push.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := newFakeSub()
	d.opened = append(d.opened, logTarget{taskID: taskID, runID: runID})
	d.subs = append(d.subs, sub)
	return sub, nil
}

func (d *fakeLogDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

func (d *fakeLogDialer) sub(i int) (*fakeSub, logTarget) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[i], d.opened[i]
}

func (d *fakeLogDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

// fakeAPI serves canned responses
type fakeAPI struct {
	mu        sync.Mutex
	snapshot  domain.Snapshot
	snapErr   error
	details   map[string]*domain.TaskDetail
	detailErr error
	diffs     map[string]*domain.TaskDiff
	diffErr   error
	calls     map[string]int

	// block, when set, is waited on by GetTask
	block chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		details: make(map[string]*domain.TaskDetail),
		diffs:   make(map[string]*domain.TaskDiff),
		calls:   make(map[string]int),
	}
}

func notFound(path string) error {
	return &apiclient.APIError{StatusCode: 404, Path: path}
}

func (f *fakeAPI) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["snapshot"]++
	return f.snapshot, f.snapErr
}

func (f *fakeAPI) GetTask(ctx context.Context, id string) (*domain.TaskDetail, error) {
	f.mu.Lock()
	block := f.block
	if block != nil {
		f.calls["blocked"]++
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["task"]++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	d, ok := f.details[id]
	if !ok {
		return nil, notFound("/api/tasks/" + id)
	}
	return d, nil
}

func (f *fakeAPI) GetTaskDiff(ctx context.Context, id string) (*domain.TaskDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["diff"]++
	if f.diffErr != nil {
		return nil, f.diffErr
	}
	d, ok := f.diffs[id]
	if !ok {
		return nil, notFound("/api/tasks/" + id + "/diff")
	}
	return d, nil
}

func (f *fakeAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runningTask(id string, runIDs ...string) *domain.TaskDetail {
	detail := &domain.TaskDetail{ID: id, EnvID: "e1", Status: domain.StatusRunning}
	for _, runID := range runIDs {
		detail.Runs = append(detail.Runs, domain.Run{ID: runID, Status: domain.RunRunning})
	}
	return detail
}

func entry(id string) domain.LogEntry {
	return domain.LogEntry{ID: id, Type: "text", Raw: "line " + id}
}

func logFrame(t *testing.T, runID string, e domain.LogEntry) push.Event {
	t.Helper()
	data, err := json.Marshal(logMessage{RunID: runID, Entry: e})
	if err != nil {
		t.Fatal(err)
	}
	return push.Event{Type: "message", Data: data}
}

func entryIDs(run domain.Run) []string {
	ids := make([]string, len(run.Entries))
	for i, e := range run.Entries {
		ids[i] = e.ID
	}
	return ids
}
