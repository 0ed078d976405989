package domain

import "time"

// Account is one credential the orchestrator rotates
type Account struct {
	ID        string        `json:"accountId"`
	Label     string        `json:"label,omitempty"`
	Status    AccountStatus `json:"status"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

// AccountState is the server's full view of credential rotation
type AccountState struct {
	Accounts  []Account  `json:"accounts"`
	ActiveID  string     `json:"activeId,omitempty"`
	RotatedAt *time.Time `json:"rotatedAt,omitempty"`
}

// Snapshot is the console's copy of all top-level collections.
// It is always replaced as a whole.
type Snapshot struct {
	Environments []Environment `json:"environments"`
	Tasks        []Task        `json:"tasks"`
	Accounts     AccountState  `json:"accounts"`
}

// FindTask returns the task with the given id, or nil
func (s Snapshot) FindTask(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}
