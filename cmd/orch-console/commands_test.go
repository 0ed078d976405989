package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/orch-console/internal/console"
	"github.com/hochfrequenz/orch-console/internal/diffview"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/mockapi"
)

// syncBuffer is written by a running command while the test reads it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestServer starts a mock server and writes a config pointing at it
func newTestServer(t *testing.T) (*mockapi.Server, string) {
	t.Helper()
	api := mockapi.New()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	t.Cleanup(api.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[server]
base_url = %q

[cache]
enabled = true
path = %q

[ui]
log_file = %q
`, server.URL, filepath.Join(dir, "snapshot.db"), filepath.Join(dir, "console.log"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return api, path
}

func execute(out io.Writer, args ...string) error {
	logsFollow, diffFile, diffReveal, statusCache, debug = false, "", false, false, false
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out syncBuffer
	if err := execute(&out, args...); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestStatus_FetchesAndCaches(t *testing.T) {
	api, cfg := newTestServer(t)
	seedDemo(api, time.Now())

	out := runCommand(t, "--config", cfg, "status")
	for _, want := range []string{
		"Tasks: 2 total | 1 running | 1 completed | 0 failed",
		"Active account: acct-primary",
		demoTaskID, "demo-done", "erp", "Add invoice export",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	// The cached snapshot answers without the server.
	api.DeleteTask("demo-done")
	out = runCommand(t, "--config", cfg, "status", "--cached")
	if !strings.Contains(out, "Cached") || !strings.Contains(out, "demo-done") {
		t.Errorf("cached status output:\n%s", out)
	}
}

func TestStatus_CachedWithoutSnapshot(t *testing.T) {
	_, cfg := newTestServer(t)
	if err := execute(io.Discard, "--config", cfg, "status", "--cached"); err == nil {
		t.Error("status --cached on an empty cache should fail")
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.Snapshot{
		Environments: []domain.Environment{{ID: "e1", Name: "erp"}},
		Tasks: []domain.Task{
			{ID: "t1", EnvID: "e1", Title: "Export", Status: domain.StatusFailed, UpdatedAt: now.Add(-3 * time.Hour)},
			{ID: "t2", Status: domain.StatusRunning, Runs: []domain.Run{{ID: "r1"}, {ID: "r2"}}},
		},
	}

	var out bytes.Buffer
	printStatus(&out, snap, now)
	got := out.String()

	for _, want := range []string{"0 completed | 1 failed", "3 hours ago", "erp"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Active account") {
		t.Error("no active account should be printed")
	}
	lines := strings.Split(strings.TrimSpace(got), "\n")
	last := strings.Fields(lines[len(lines)-1])
	if last[0] != "t2" || last[1] != "-" || last[3] != "2" {
		t.Errorf("t2 row = %v, want id, '-' env and 2 runs", last)
	}
}

func TestLogs_PrintsLatestRun(t *testing.T) {
	api, cfg := newTestServer(t)
	api.PutTask(domain.TaskDetail{
		ID:     "t1",
		Status: domain.StatusCompleted,
		Runs: []domain.Run{
			{ID: "r1", Entries: []domain.LogEntry{{ID: "old", Type: "text", Raw: "first attempt"}}},
			{ID: "r2", Entries: []domain.LogEntry{
				{ID: "1", Type: "text", Raw: "\x1b[1mcompiling\x1b[0m"},
				{ID: "2", Type: "tool", Payload: []byte(`{"message":"go test ./..."}`)},
			}},
		},
	})

	out := runCommand(t, "--config", cfg, "logs", "t1")
	if !strings.Contains(out, "[text] compiling") || !strings.Contains(out, "[tool] go test ./...") {
		t.Errorf("logs output:\n%q", out)
	}
	if strings.Contains(out, "first attempt") {
		t.Error("printed an earlier run")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("ANSI sequences were not stripped")
	}

	if err := execute(io.Discard, "--config", cfg, "logs", "missing"); err == nil {
		t.Error("logs for an unknown task should fail")
	}
}

func TestLogs_Follow(t *testing.T) {
	api, cfg := newTestServer(t)
	running := domain.TaskDetail{
		ID:     "t1",
		Status: domain.StatusRunning,
		Runs: []domain.Run{{
			ID:      "r1",
			Status:  domain.RunRunning,
			Entries: []domain.LogEntry{{ID: "e0", Type: "text", Raw: "booting"}},
		}},
	}
	api.PutTask(running)

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- execute(&out, "--config", cfg, "logs", "t1", "--follow") }()

	waitFor(t, "event channel", func() bool { return api.EventClients() == 1 })
	waitFor(t, "log stream", func() bool { return api.LogSubscribers("t1", "r1") == 1 })
	api.PublishLog("t1", "r1", domain.LogEntry{ID: "e1", Type: "text", Raw: "working"})
	waitFor(t, "streamed entry", func() bool { return strings.Contains(out.String(), "working") })

	finished := running
	finished.Status = domain.StatusCompleted
	finished.Runs = []domain.Run{{
		ID:     "r1",
		Status: domain.RunCompleted,
		Entries: []domain.LogEntry{
			{ID: "e0", Type: "text", Raw: "booting"},
			{ID: "e1", Type: "text", Raw: "working"},
			{ID: "e2", Type: "text", Raw: "done"},
		},
	}}
	api.PutTask(finished)
	api.Broadcast(console.EventTasksChanged, map[string]string{"taskId": "t1"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("logs --follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("logs --follow did not return after the task completed")
	}

	got := out.String()
	for _, line := range []string{"booting", "working", "done"} {
		if n := strings.Count(got, line); n != 1 {
			t.Errorf("%q printed %d times, want 1:\n%s", line, n, got)
		}
	}
}

func TestDiff(t *testing.T) {
	api, cfg := newTestServer(t)
	seedDemo(api, time.Now())

	out := runCommand(t, "--config", cfg, "diff", demoTaskID)
	if !strings.Contains(out, "=== export/invoice.go +2 -1") {
		t.Errorf("missing small file header:\n%s", out)
	}
	if !strings.Contains(out, "+func Invoice() error") {
		t.Errorf("missing added line:\n%s", out)
	}
	if !strings.Contains(out, "25,000 lines, use --all") || strings.Contains(out, "id,amount") {
		t.Errorf("large file not withheld:\n%s", out)
	}

	out = runCommand(t, "--config", cfg, "diff", demoTaskID, "--all", "--file", "testdata/invoices.csv")
	if !strings.Contains(out, "+id,amount") || strings.Contains(out, "invoice.go") {
		t.Errorf("--all --file output:\n%s", out)
	}

	out = runCommand(t, "--config", cfg, "diff", "demo-done")
	if !strings.Contains(out, "worktree was cleaned up") {
		t.Errorf("unavailable diff output:\n%s", out)
	}

	out = runCommand(t, "--config", cfg, "diff", "no-such-task")
	if !strings.Contains(out, "has no diff") {
		t.Errorf("missing diff output:\n%s", out)
	}

	if err := execute(io.Discard, "--config", cfg, "diff", demoTaskID, "--file", "nope.go"); err == nil {
		t.Error("diff --file for an unchanged path should fail")
	}
}

func TestFormatRow(t *testing.T) {
	tests := []struct {
		row  diffview.Row
		want string
	}{
		{diffview.Row{Kind: diffview.RowHunk, Text: "@@ -1 +1 @@"}, "@@ -1 +1 @@"},
		{diffview.Row{Kind: diffview.RowAdd, NewLine: 4, Text: "x"}, "          4 +x"},
		{diffview.Row{Kind: diffview.RowDel, OldLine: 12, Text: "y"}, "   12       -y"},
		{diffview.Row{Kind: diffview.RowContext, OldLine: 1, NewLine: 2, Text: "z"}, "    1     2  z"},
	}
	for _, tt := range tests {
		if got := formatRow(tt.row); got != tt.want {
			t.Errorf("formatRow(%+v) = %q, want %q", tt.row, got, tt.want)
		}
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\nbase_url = \"ftp://nope\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := execute(io.Discard, "--config", path, "status"); err == nil {
		t.Error("status with an invalid config should fail")
	}
}

func TestSeedDemo(t *testing.T) {
	api := mockapi.New()
	defer api.Close()
	seedDemo(api, time.Now())

	snap := api.Snapshot()
	if got := len(snap.Tasks); got != 2 {
		t.Errorf("tasks = %d, want 2", got)
	}
	if snap.FindTask(demoTaskID).Status != domain.StatusRunning {
		t.Error("demo task should be running")
	}
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
