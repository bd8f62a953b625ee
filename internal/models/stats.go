package models

import "time"

// ProjectStats is one row of the GET /projects listing.
type ProjectStats struct {
	Project     string    `json:"project"`
	Sessions    int64     `json:"sessions"`
	LastStarted time.Time `json:"last_started"`
}

// StoreStats summarizes relational row counts for GET /stats and the
// status command.
type StoreStats struct {
	Sessions      int64 `json:"sessions"`
	Observations  int64 `json:"observations"`
	Summaries     int64 `json:"summaries"`
	UserPrompts   int64 `json:"user_prompts"`
	PendingQueued int64 `json:"pending_queued"`
}

// BackendStats describes a vector backend for GET /stats.
type BackendStats struct {
	Backend    string     `json:"backend"`
	Collection string     `json:"collection,omitempty"`
	Documents  int64      `json:"documents"`
	Dimensions int        `json:"dimensions,omitempty"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
}
