package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single execution attempt of a task
type Run struct {
	ID         string     `json:"runId"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Entries    []LogEntry `json:"entries,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Finished returns true once the run is immutable
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Duration returns how long the run took, or has been running so far
func (r *Run) Duration(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// LogEntry is one unit of streamed run output. ID is unique within a run.
type LogEntry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Raw       string          `json:"raw,omitempty"`
	Timestamp time.Time       `json:"ts,omitempty"`
}

// Text returns a single display string for the entry: the structured
// payload's "message"/"text" field if present, the raw fallback
// otherwise, and the compact payload as a last resort.
func (e LogEntry) Text() string {
	if len(e.Payload) > 0 {
		var fields struct {
			Message string `json:"message"`
			Text    string `json:"text"`
		}
		if json.Unmarshal(e.Payload, &fields) == nil {
			if fields.Message != "" {
				return fields.Message
			}
			if fields.Text != "" {
				return fields.Text
			}
		}
	}
	if e.Raw != "" {
		return e.Raw
	}
	return string(e.Payload)
}

// Artifact is a file produced by a run
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}
