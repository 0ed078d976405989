// Package runlog merges streamed log entries into a run's entry list.
//
// Delivery from the log stream is at-least-once: the same entry may
// arrive again after a reconnect or be present already in a freshly
// fetched detail. Merge makes the visible effect exactly-once.
package runlog

import "github.com/hochfrequenz/orch-console/internal/domain"

// Merge returns entries with entry appended, unless an entry with the
// same ID is already present. The input slice is never modified; when
// an append happens the result is a new slice. The bool reports
// whether the entry was added.
func Merge(entries []domain.LogEntry, entry domain.LogEntry) ([]domain.LogEntry, bool) {
	if Contains(entries, entry.ID) {
		return entries, false
	}
	merged := make([]domain.LogEntry, len(entries), len(entries)+1)
	copy(merged, entries)
	return append(merged, entry), true
}

// MergeAll folds incoming into entries in order.
func MergeAll(entries []domain.LogEntry, incoming ...domain.LogEntry) []domain.LogEntry {
	for _, e := range incoming {
		entries, _ = Merge(entries, e)
	}
	return entries
}

// Contains reports whether an entry with id is present
func Contains(entries []domain.LogEntry, id string) bool {
	for i := range entries {
		if entries[i].ID == id {
			return true
		}
	}
	return false
}
