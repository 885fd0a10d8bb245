package models

import "time"

// SyncSummary reports the outcome of one reconciliation pass. Created and
// updated are distinguished by the record's state before the push attempt.
type SyncSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Total returns the number of records the pass attempted.
func (s SyncSummary) Total() int {
	return s.Created + s.Updated + s.Deleted + s.Failed
}

// SyncStatus describes the reconciler's most recent activity.
type SyncStatus struct {
	Running     bool        `json:"running"`
	LastRunAt   *time.Time  `json:"lastRunAt,omitempty"`
	LastSummary SyncSummary `json:"lastSummary"`
	LastError   string      `json:"lastError,omitempty"`
}
