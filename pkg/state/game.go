// Package state tracks the lifecycle of every game discovered by a backfill
// run. The store is the authoritative in-memory ledger of work; the full
// RunState round-trips through JSON for durable checkpoints and resume.
package state

import (
	"time"
)

// Status is the lifecycle state of a single game.
type Status string

const (
	// StatusPending means the game is waiting for an attempt (or a retry).
	StatusPending Status = "pending"

	// StatusCompleted means every configured dataset was fetched and stored.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: the game exhausted its retry budget.
	StatusFailed Status = "failed"
)

// Game is one unit of backfill work. Games are created at discovery,
// mutated only through the Store, and never deleted, only transitioned.
type Game struct {
	// ID is the stable external game identifier (e.g. "0022300061").
	ID string `json:"id"`

	// OccurredOn is the date the game was played.
	OccurredOn time.Time `json:"occurred_on"`

	Status Status `json:"status"`

	// RetryCount is the number of failed attempts so far. A game is
	// terminally failed only once RetryCount reaches the configured
	// maximum; before that a failed attempt leaves it pending.
	RetryCount int `json:"retry_count"`

	// LastAttempt is when the most recent attempt finished, nil before
	// the first failure.
	LastAttempt *time.Time `json:"last_attempt,omitempty"`

	// ErrorMessage is the message captured from the most recent failure.
	ErrorMessage string `json:"error_message,omitempty"`

	// DatasetsCompleted lists the datasets stored for a completed game,
	// in the order they were written.
	DatasetsCompleted []string `json:"datasets_completed,omitempty"`

	// Seq is the discovery order, used to break scheduling ties.
	Seq int `json:"seq"`
}

// RunStats aggregates counters for a run. The store maintains the
// invariant Completed + Failed + Pending == TotalDiscovered; any drift
// is reported by Store.ValidateIntegrity.
type RunStats struct {
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`

	TotalDiscovered int `json:"total_discovered"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Pending         int `json:"pending"`

	TotalAPICalls    int   `json:"total_api_calls"`
	TotalFilesStored int   `json:"total_files_stored"`
	TotalBytesStored int64 `json:"total_bytes_stored"`
}

// RunState is the checkpoint payload: everything needed to resume a run
// after a process restart. The checkpoint counter is deliberately not
// serialized; it resets to zero on load.
type RunState struct {
	// RunID is stable across resumes, generated once per logical backfill.
	RunID string `json:"run_id"`

	// Season is the discovery scope, e.g. "2023-24".
	Season string `json:"season"`

	Games map[string]*Game `json:"games"`
	Stats RunStats         `json:"stats"`
}

// Progress is the observable completion summary of a run.
type Progress struct {
	TotalGames           int     `json:"total_games"`
	CompletedGames       int     `json:"completed_games"`
	PendingGames         int     `json:"pending_games"`
	CompletionPercentage float64 `json:"completion_percentage"`
}
