package domain

import "time"

// Environment is a source repository tasks are launched against
type Environment struct {
	ID            string `json:"envId"`
	Name          string `json:"name"`
	RepoURL       string `json:"repoUrl,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

// Task is a long-running agent job. Tasks are only ever replaced as a
// whole from a fetch; the one exception is the entries of a run, which
// the log stream appends to.
type Task struct {
	ID        string     `json:"taskId"`
	EnvID     string     `json:"envId"`
	Title     string     `json:"title,omitempty"`
	Status    TaskStatus `json:"status"`
	Runs      []Run      `json:"runs,omitempty"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

// LatestRun returns the most recent run, or nil if the task never ran
func (t *Task) LatestRun() *Run {
	if len(t.Runs) == 0 {
		return nil
	}
	return &t.Runs[len(t.Runs)-1]
}

// RunIndex returns the position of the run with the given id, or -1
func (t *Task) RunIndex(runID string) int {
	for i := range t.Runs {
		if t.Runs[i].ID == runID {
			return i
		}
	}
	return -1
}

// TaskDetail is the full view of one task including runs and their entries.
type TaskDetail = Task
