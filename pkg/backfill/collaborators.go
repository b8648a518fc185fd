// Package backfill implements the control loop that drives a season
// backfill: discovery, dispatch, retry accounting, durable checkpoints,
// and termination.
package backfill

import (
	"context"
	"errors"
	"time"
)

// Dataset names fetched per game, in execution order.
const (
	DatasetBoxTraditional = "box-traditional"
	DatasetBoxAdvanced    = "box-advanced"
	DatasetPlayByPlay     = "play-by-play"
)

// DefaultDatasets returns the standard per-game dataset list.
func DefaultDatasets() []string {
	return []string{DatasetBoxTraditional, DatasetBoxAdvanced, DatasetPlayByPlay}
}

// ErrCheckpointNotFound is returned by CheckpointStore.Read when no
// checkpoint exists at the given path. Any other read error is fatal
// for a resumed run.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// GameRef identifies one discoverable game.
type GameRef struct {
	ID         string
	OccurredOn time.Time
}

// CallMeta describes what one logical API call cost, including internal
// retries. The orchestrator owns all request accounting, so the data
// source reports raw observations instead of keeping counters.
type CallMeta struct {
	// Attempts is the number of HTTP requests issued, >= 1 whenever
	// any request went out.
	Attempts int

	// RateLimitHits is how many of those attempts came back 429.
	RateLimitHits int

	// StatusCode is the status of the final attempt, 0 on network failure.
	StatusCode int

	// Duration is the wall time of the final attempt.
	Duration time.Duration
}

// Add merges another call's accounting into this one.
func (m *CallMeta) Add(other CallMeta) {
	m.Attempts += other.Attempts
	m.RateLimitHits += other.RateLimitHits
	m.StatusCode = other.StatusCode
	m.Duration = other.Duration
}

// DataSource is the external stats API boundary. Implementations are
// expected to pace every request through a Pacer and to validate
// response shape before returning payload bytes.
type DataSource interface {
	// ListGames enumerates the games of a season. Called once per run
	// (or resume point); an error here is fatal for the whole run.
	ListGames(ctx context.Context, season string) ([]GameRef, CallMeta, error)

	// FetchDataset fetches one dataset for one game.
	FetchDataset(ctx context.Context, gameID, dataset string) ([]byte, CallMeta, error)
}

// CheckpointStore persists run state blobs. Read returns
// ErrCheckpointNotFound when nothing has been saved at the path.
type CheckpointStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
}

// Sink receives fetched dataset payloads. Writes must be idempotent
// overwrites: the run guarantees at-least-once delivery, not exactly-once.
type Sink interface {
	// Write stores one payload and returns the number of bytes written.
	Write(ctx context.Context, gameID, dataset string, payload []byte) (int64, error)
}

// Pacer is the adaptive rate limiter gate. The data source calls Wait
// and RecordOutcome around each request; the orchestrator calls Reset
// at the start of a fresh run.
type Pacer interface {
	Wait(ctx context.Context) error
	RecordOutcome(responseTime time.Duration, statusCode int)
	Reset()
}
