package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/orch-console/internal/console"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/mockapi"
)

const (
	demoTaskID = "demo-running"
	demoRunID  = "run-1"
)

// seedDemo fills the mock server with a small but complete data set
func seedDemo(api *mockapi.Server, now time.Time) {
	api.SetEnvironments(
		domain.Environment{ID: "env-erp", Name: "erp", RepoURL: "https://example.com/erp.git", DefaultBranch: "main"},
		domain.Environment{ID: "env-web", Name: "web", DefaultBranch: "main"},
	)

	expires := now.Add(36 * time.Hour)
	rotated := now.Add(-2 * time.Hour)
	api.SetAccounts(domain.AccountState{
		ActiveID:  "acct-primary",
		RotatedAt: &rotated,
		Accounts: []domain.Account{
			{ID: "acct-primary", Label: "primary", Status: domain.AccountActive, ExpiresAt: &expires},
			{ID: "acct-backup", Label: "backup", Status: domain.AccountRotating},
		},
	})

	api.PutTask(domain.TaskDetail{
		ID:        demoTaskID,
		EnvID:     "env-erp",
		Title:     "Add invoice export",
		Status:    domain.StatusRunning,
		CreatedAt: now.Add(-10 * time.Minute),
		UpdatedAt: now,
		Runs: []domain.Run{{
			ID:        demoRunID,
			Status:    domain.RunRunning,
			StartedAt: now.Add(-9 * time.Minute),
			Entries:   []domain.LogEntry{demoEntry(now, "starting run")},
		}},
	})
	api.SetDiff(demoTaskID, &domain.TaskDiff{
		Available: true,
		BaseSHA:   "4f2a9c1",
		Files: []domain.DiffFile{
			{
				Path:      "export/invoice.go",
				LineCount: 6,
				Text:      "@@ -1,3 +1,4 @@\n package export\n \n-func Invoice() {}\n+func Invoice() error { return nil }\n+\n",
			},
			{
				Path:      "testdata/invoices.csv",
				LineCount: 25000,
				TooLarge:  true,
				Text:      "@@ -0,0 +1,2 @@\n+id,amount\n+1,100\n",
			},
		},
	})

	finished := now.Add(-time.Hour)
	api.PutTask(domain.TaskDetail{
		ID:        "demo-done",
		EnvID:     "env-web",
		Title:     "Bump dependencies",
		Status:    domain.StatusCompleted,
		UpdatedAt: finished,
		Runs: []domain.Run{{
			ID:         demoRunID,
			Status:     domain.RunCompleted,
			StartedAt:  finished.Add(-4 * time.Minute),
			FinishedAt: &finished,
		}},
	})
	api.SetDiff("demo-done", &domain.TaskDiff{Available: false, Reason: "worktree was cleaned up"})
}

// produceDemoOutput keeps the running demo task producing log output
// and periodically announces task changes
func produceDemoOutput(ctx context.Context, api *mockapi.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			step++
			api.PublishLog(demoTaskID, demoRunID, demoEntry(now, fmt.Sprintf("step %d done", step)))
			if step%10 == 0 {
				api.Broadcast(console.EventTasksChanged, map[string]string{"taskId": demoTaskID})
			}
		}
	}
}

func demoEntry(now time.Time, message string) domain.LogEntry {
	payload, _ := json.Marshal(map[string]string{"message": message})
	return domain.LogEntry{
		ID:        uuid.NewString(),
		Type:      "text",
		Payload:   payload,
		Timestamp: now,
	}
}
