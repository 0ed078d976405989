package console

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hochfrequenz/orch-console/internal/apiclient"
	"github.com/hochfrequenz/orch-console/internal/clock"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/mockapi"
	"github.com/hochfrequenz/orch-console/internal/push"
)

func newTestEngine(t *testing.T, api *mockapi.Server, clk *clock.FakeClock) *Engine {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	t.Cleanup(api.Close)

	client, err := apiclient.New(apiclient.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	events, err := push.NewEventSource(push.SSEConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	logs, err := push.NewLogDialer(push.LogStreamConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(Config{
		API:         client,
		Events:      events,
		Logs:        logs,
		SyncEnabled: true,
		Clock:       clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func seededServer() *mockapi.Server {
	api := mockapi.New()
	api.SetEnvironments(domain.Environment{ID: "e1", Name: "erp"})
	api.PutTask(domain.TaskDetail{
		ID:     "t1",
		EnvID:  "e1",
		Status: domain.StatusRunning,
		Runs: []domain.Run{{
			ID:      "r1",
			Status:  domain.RunRunning,
			Entries: []domain.LogEntry{entry("e0")},
		}},
	})
	return api
}

func TestEngine_EndToEnd(t *testing.T) {
	api := seededServer()
	engine := newTestEngine(t, api, clock.Fake(epoch))
	store := engine.Store()

	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer engine.Stop()

	waitFor(t, "snapshot", func() bool { return len(store.Snapshot().Tasks) == 1 })

	engine.Select("t1")
	waitFor(t, "detail", func() bool { return store.Detail() != nil })
	if store.Diff() != nil {
		t.Errorf("Diff = %+v, want nil before the diff exists", store.Diff())
	}

	// Live log entries merge into the detail exactly once.
	waitFor(t, "log stream", func() bool { return api.LogSubscribers("t1", "r1") == 1 })
	api.PublishLog("t1", "r1", entry("e1"))
	api.PublishRawLog("t1", "r1", []byte(`{"runId":"r1","entry":{"id":"e1","type":"text"}}`))
	api.PublishRawLog("t1", "r1", []byte(`garbage`))
	api.PublishLog("t1", "r1", entry("e2"))
	waitFor(t, "streamed entries", func() bool {
		return len(store.Detail().Runs[0].Entries) == 3
	})
	if got := entryIDs(store.Detail().Runs[0]); got[0] != "e0" || got[1] != "e1" || got[2] != "e2" {
		t.Errorf("entries = %v, want [e0 e1 e2]", got)
	}

	// An invalidation reconciles collections and the selected detail.
	api.PutTask(domain.TaskDetail{ID: "t2", EnvID: "e1", Status: domain.StatusCompleted})
	api.SetDiff("t1", &domain.TaskDiff{
		Available: true,
		Files:     []domain.DiffFile{{Path: "f", Text: "@@ -1 +1 @@\n-a\n+b\n"}},
	})
	api.Broadcast(EventTasksChanged, map[string]string{"taskId": "t2"})
	waitFor(t, "second task", func() bool { return len(store.Snapshot().Tasks) == 2 })
	waitFor(t, "diff", func() bool { return store.Diff() != nil })

	// Deleting the selected task clears the selection.
	api.DeleteTask("t1")
	api.Broadcast(EventTasksChanged, nil)
	waitFor(t, "selection cleared", func() bool {
		id, _ := store.Selected()
		return id == ""
	})
	waitFor(t, "log stream closed", func() bool { return api.LogSubscribers("t1", "r1") == 0 })
	if err := store.LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestEngine_PollingReconcilesWithoutPush(t *testing.T) {
	api := seededServer()
	api.SetEventsDown(true)
	clk := clock.Fake(epoch)
	engine := newTestEngine(t, api, clk)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer engine.Stop()

	waitFor(t, "initial reconcile", func() bool { return len(engine.Store().Snapshot().Tasks) == 1 })

	api.PutTask(domain.TaskDetail{ID: "t9", EnvID: "e1", Status: domain.StatusRunning})
	clk.WaitForTimers(1)
	clk.Advance(DefaultPollInterval)
	waitFor(t, "poll picks up t9", func() bool { return engine.Store().Snapshot().FindTask("t9") != nil })
}

func TestEngine_StopTearsDownChannels(t *testing.T) {
	api := seededServer()
	engine := newTestEngine(t, api, clock.Fake(epoch))

	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Select("t1")
	waitFor(t, "event client", func() bool { return api.EventClients() == 1 })
	waitFor(t, "log stream", func() bool { return api.LogSubscribers("t1", "r1") == 1 })

	engine.Stop()
	engine.Stop()

	waitFor(t, "events closed", func() bool { return api.EventClients() == 0 })
	waitFor(t, "log stream closed", func() bool { return api.LogSubscribers("t1", "r1") == 0 })

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	engine.Stop()
}

func TestEngine_RefreshNowCoalesces(t *testing.T) {
	api := newFakeAPI()
	engine, err := NewEngine(Config{API: api, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		engine.RefreshNow()
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer engine.Stop()

	waitFor(t, "reconcile", func() bool { return api.callCount("snapshot") >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := api.callCount("snapshot"); got != 1 {
		t.Errorf("snapshot fetches = %d, want 1", got)
	}
}

func TestNewEngine_RequiresAPI(t *testing.T) {
	if _, err := NewEngine(Config{}); err == nil {
		t.Error("NewEngine() error = nil, want error")
	}
}
