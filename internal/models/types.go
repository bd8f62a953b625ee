package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Sessions, observations, summaries, prompts, pending messages use int64
//   (auto-increment; append-only logs benefit from sequential IDs).
// - Vector documents use composed string IDs ("obs_<n>_<field>") so a
//   re-sync of the owning row is an upsert, not a duplicate.

// SessionStatus represents the lifecycle state of a capture session.
type SessionStatus string

// Session status constants.
const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal returns true once a session can no longer accept work.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is one logical conversation with the host editor.
// ContentSessionID comes from the host and is unique; MemorySessionID is the
// extractor's own identifier, assigned at most once and never changed.
type Session struct {
	ID               int64         `json:"id"`
	ContentSessionID string        `json:"content_session_id"`
	MemorySessionID  string        `json:"memory_session_id,omitempty"`
	Project          string        `json:"project"`
	Status           SessionStatus `json:"status"`
	UserPrompt       string        `json:"user_prompt,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
}

// ObservationType classifies what kind of work an observation captured.
type ObservationType string

// Observation type constants. Unknown types from the extractor default
// to discovery rather than failing the parse.
const (
	ObservationDiscovery ObservationType = "discovery"
	ObservationBugfix    ObservationType = "bugfix"
	ObservationFeature   ObservationType = "feature"
	ObservationRefactor  ObservationType = "refactor"
	ObservationDecision  ObservationType = "decision"
	ObservationChange    ObservationType = "change"
)

// Valid reports whether t is one of the recognized observation types.
func (t ObservationType) Valid() bool {
	switch t {
	case ObservationDiscovery, ObservationBugfix, ObservationFeature,
		ObservationRefactor, ObservationDecision, ObservationChange:
		return true
	}
	return false
}

// Observation is one atomic capture derived from a tool invocation.
// Observations are append-only; rows are never mutated after insert.
// Dedup key: (memory_session_id, title, created_at_epoch).
type Observation struct {
	ID               int64           `json:"id"`
	ContentSessionID string          `json:"content_session_id"`
	MemorySessionID  string          `json:"memory_session_id"`
	Project          string          `json:"project"`
	Type             ObservationType `json:"type"`
	Title            string          `json:"title"`
	Subtitle         string          `json:"subtitle,omitempty"`
	Narrative        string          `json:"narrative,omitempty"`
	Facts            []string        `json:"facts,omitempty"`
	Concepts         []string        `json:"concepts,omitempty"`
	FilesRead        []string        `json:"files_read,omitempty"`
	FilesModified    []string        `json:"files_modified,omitempty"`
	PromptNumber     int             `json:"prompt_number"`
	CreatedAtEpoch   int64           `json:"created_at_epoch"`
}

// Summary is the end-of-session roll-up. At most one exists per
// memory_session_id.
type Summary struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	MemorySessionID  string `json:"memory_session_id"`
	Project          string `json:"project"`
	Request          string `json:"request,omitempty"`
	Investigated     string `json:"investigated,omitempty"`
	Learned          string `json:"learned,omitempty"`
	Completed        string `json:"completed,omitempty"`
	NextSteps        string `json:"next_steps,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// UserPrompt stores one turn's user input text for searchability.
type UserPrompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	PromptNumber     int    `json:"prompt_number"`
	PromptText       string `json:"prompt_text"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// PendingMessageType distinguishes queued hook events.
type PendingMessageType string

// Pending message type constants.
const (
	PendingObservation PendingMessageType = "observation"
	PendingSummarize   PendingMessageType = "summarize"
)

// PendingMessage is one queued hook event awaiting the session's agent.
// Messages are consumed in enqueued_at order by exactly one generator per
// session. A row transitions processed_at NULL -> now exactly once; rows
// left in_flight by a crashed worker are resurrected on startup.
type PendingMessage struct {
	ID                   int64              `json:"id"`
	SessionID            int64              `json:"session_id"`
	Type                 PendingMessageType `json:"type"`
	ToolName             string             `json:"tool_name,omitempty"`
	ToolInput            json.RawMessage    `json:"tool_input,omitempty"`
	ToolResponse         json.RawMessage    `json:"tool_response,omitempty"`
	PromptNumber         int                `json:"prompt_number"`
	CWD                  string             `json:"cwd,omitempty"`
	LastAssistantMessage string             `json:"last_assistant_message,omitempty"`
	EnqueuedAt           time.Time          `json:"enqueued_at"`
	ProcessedAt          *time.Time         `json:"processed_at,omitempty"`
}

// DocType identifies the owning row kind of a vector document.
type DocType string

// Vector document type constants.
const (
	DocTypeObservation DocType = "observation"
	DocTypeSummary     DocType = "session_summary"
	DocTypeUserPrompt  DocType = "user_prompt"
)

// VectorDocument is one indexable text fragment derived from an observation,
// summary, or user prompt. ID is composed ("obs_<n>_<field>"), SQLiteID
// points back at the owning relational row.
type VectorDocument struct {
	ID              string          `json:"id"`
	SQLiteID        int64           `json:"sqlite_id"`
	DocType         DocType         `json:"doc_type"`
	Content         string          `json:"content"`
	MemorySessionID string          `json:"memory_session_id"`
	Project         string          `json:"project"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Embedding       []float32       `json:"-"`
}

// SearchResult is one ranked hit from a vector or text query,
// deduplicated by SQLiteID (best-scoring document per owning row).
type SearchResult struct {
	DocID    string          `json:"doc_id"`
	SQLiteID int64           `json:"sqlite_id"`
	DocType  DocType         `json:"doc_type"`
	Distance float64         `json:"distance"`
	Content  string          `json:"content,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// QueryFilters narrows a vector query. All provided fields are conjunctive.
type QueryFilters struct {
	Project         string  `json:"project,omitempty"`
	DocType         DocType `json:"doc_type,omitempty"`
	MemorySessionID string  `json:"memory_session_id,omitempty"`
	MinEpoch        int64   `json:"min_epoch,omitempty"`
	MaxEpoch        int64   `json:"max_epoch,omitempty"`
}

// Empty reports whether no filter fields are set.
func (f QueryFilters) Empty() bool {
	return f.Project == "" && f.DocType == "" && f.MemorySessionID == "" &&
		f.MinEpoch == 0 && f.MaxEpoch == 0
}

// StoreResult reports the outcome of an idempotent insert.
// Imported is false when the dedup key already existed; ID is then the
// existing row's id.
type StoreResult struct {
	ID       int64 `json:"id"`
	Imported bool  `json:"imported"`
}
