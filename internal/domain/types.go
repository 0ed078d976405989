package domain

// TaskStatus represents the lifecycle state of a task as reported by the server
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusStopping  TaskStatus = "stopping"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusStopped   TaskStatus = "stopped"
	StatusUnknown   TaskStatus = "unknown"
)

// ParseTaskStatus maps a wire value onto a known status.
// Anything the console does not recognise becomes StatusUnknown.
func ParseTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case StatusRunning, StatusStopping, StatusCompleted, StatusFailed, StatusStopped:
		return TaskStatus(s)
	}
	return StatusUnknown
}

// IsActive returns true while the task still produces run output
func (s TaskStatus) IsActive() bool {
	return s == StatusRunning || s == StatusStopping
}

// UnmarshalText normalises unknown values instead of failing the whole payload
func (s *TaskStatus) UnmarshalText(text []byte) error {
	*s = ParseTaskStatus(string(text))
	return nil
}

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// AccountStatus represents the credential state of an account
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountRotating AccountStatus = "rotating"
	AccountExpired  AccountStatus = "expired"
)
