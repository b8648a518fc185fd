package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the work ledger.
var (
	gamesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backfill_games",
		Help: "Number of tracked games by status",
	}, []string{"status"})

	integrityDiscrepanciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_state_integrity_discrepancies_total",
		Help: "Total integrity discrepancies detected when validating run state",
	})
)

// Store is the authoritative ledger of discovered games and their
// scheduling order. It is owned and mutated exclusively by the backfill
// driver, so it needs no internal locking.
type Store struct {
	run *RunState

	maxRetries          int
	checkpointFrequency int
	checkpointCounter   int
	nextSeq             int

	logger zerolog.Logger
}

// NewStore creates an empty ledger for the given run.
func NewStore(runID, season string, maxRetries, checkpointFrequency int, logger zerolog.Logger) (*Store, error) {
	if maxRetries < 1 {
		return nil, fmt.Errorf("max retries must be >= 1 (got %d)", maxRetries)
	}
	if checkpointFrequency < 1 {
		return nil, fmt.Errorf("checkpoint frequency must be >= 1 (got %d)", checkpointFrequency)
	}

	return &Store{
		run: &RunState{
			RunID:  runID,
			Season: season,
			Games:  make(map[string]*Game),
			Stats: RunStats{
				StartTime:  time.Now().UTC(),
				LastUpdate: time.Now().UTC(),
			},
		},
		maxRetries:          maxRetries,
		checkpointFrequency: checkpointFrequency,
		logger:              logger,
	}, nil
}

// RunID returns the stable identifier of the run this ledger belongs to.
func (s *Store) RunID() string {
	return s.run.RunID
}

// Season returns the discovery scope.
func (s *Store) Season() string {
	return s.run.Season
}

// Stats returns a copy of the current aggregate counters.
func (s *Store) Stats() RunStats {
	return s.run.Stats
}

// AddDiscovered inserts newly discovered games as pending. Games already
// tracked (under any status) are skipped without touching counters, which
// makes re-discovery after a resume a cheap no-op. Returns the number of
// games actually inserted.
func (s *Store) AddDiscovered(games []Game) int {
	inserted := 0
	for _, g := range games {
		if _, exists := s.run.Games[g.ID]; exists {
			continue
		}

		s.run.Games[g.ID] = &Game{
			ID:         g.ID,
			OccurredOn: g.OccurredOn,
			Status:     StatusPending,
			Seq:        s.nextSeq,
		}
		s.nextSeq++

		s.run.Stats.TotalDiscovered++
		s.run.Stats.Pending++
		inserted++
	}

	if inserted > 0 {
		s.touch()
	}
	s.updateGauges()

	return inserted
}

// NextBatch returns up to n pending games ordered by ascending retry
// count, so never-attempted games are scheduled before retries. Ties are
// broken by discovery order. An empty result means no work remains.
func (s *Store) NextBatch(n int) []*Game {
	if n <= 0 {
		return nil
	}

	pending := make([]*Game, 0, n)
	for _, g := range s.run.Games {
		if g.Status == StatusPending {
			pending = append(pending, g)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].RetryCount != pending[j].RetryCount {
			return pending[i].RetryCount < pending[j].RetryCount
		}
		return pending[i].Seq < pending[j].Seq
	})

	if len(pending) > n {
		pending = pending[:n]
	}
	return pending
}

// MarkCompleted transitions a pending game to completed and records the
// datasets written for it. A duplicate mark on an already-terminal game
// is a no-op, defending against duplicate delivery.
func (s *Store) MarkCompleted(id string, datasets []string) {
	g, ok := s.run.Games[id]
	if !ok || g.Status != StatusPending {
		s.logger.Debug().Str("game_id", id).Msg("Ignoring completion for non-pending game")
		return
	}

	g.Status = StatusCompleted
	g.DatasetsCompleted = append([]string(nil), datasets...)
	g.ErrorMessage = ""

	s.run.Stats.Pending--
	s.run.Stats.Completed++
	s.touch()
	s.updateGauges()
}

// MarkFailed records a failed attempt. The game stays pending and will
// resurface in a later NextBatch until its retry budget is exhausted, at
// which point it transitions to terminal failed. Marks on games already
// completed or failed are no-ops.
func (s *Store) MarkFailed(id, errorMessage string) {
	g, ok := s.run.Games[id]
	if !ok || g.Status != StatusPending {
		s.logger.Debug().Str("game_id", id).Msg("Ignoring failure for non-pending game")
		return
	}

	now := time.Now().UTC()
	g.RetryCount++
	g.LastAttempt = &now
	g.ErrorMessage = errorMessage

	if g.RetryCount >= s.maxRetries {
		g.Status = StatusFailed
		s.run.Stats.Pending--
		s.run.Stats.Failed++

		s.logger.Warn().
			Str("game_id", id).
			Int("retry_count", g.RetryCount).
			Str("error", errorMessage).
			Msg("Game failed permanently, retry budget exhausted")
	} else {
		s.logger.Info().
			Str("game_id", id).
			Int("retry_count", g.RetryCount).
			Int("max_retries", s.maxRetries).
			Str("error", errorMessage).
			Msg("Game attempt failed, will retry")
	}

	s.touch()
	s.updateGauges()
}

// RecordAPICalls adds n to the run's API call total.
func (s *Store) RecordAPICalls(n int) {
	s.run.Stats.TotalAPICalls += n
	s.touch()
}

// RecordFileStored accounts for one file written to the sink.
func (s *Store) RecordFileStored(bytes int64) {
	s.run.Stats.TotalFilesStored++
	s.run.Stats.TotalBytesStored += bytes
	s.touch()
}

// ShouldCheckpoint advances the mutation counter and reports whether a
// durable save is due. The counter is only cleared by an explicit
// ResetCheckpointCounter, so a caller that fails to persist will be told
// to checkpoint again on the next call. This two-step protocol keeps a
// checkpoint from being marked done before the write actually succeeds.
func (s *Store) ShouldCheckpoint() bool {
	s.checkpointCounter++
	return s.checkpointCounter >= s.checkpointFrequency
}

// ResetCheckpointCounter clears the mutation counter after a successful save.
func (s *Store) ResetCheckpointCounter() {
	s.checkpointCounter = 0
}

// ProgressSummary returns the completion summary. The percentage counts
// games that have reached a terminal state (completed or failed) against
// the total discovered.
func (s *Store) ProgressSummary() Progress {
	st := s.run.Stats
	p := Progress{
		TotalGames:     st.TotalDiscovered,
		CompletedGames: st.Completed,
		PendingGames:   st.Pending,
	}
	if st.TotalDiscovered > 0 {
		p.CompletionPercentage = float64(st.TotalDiscovered-st.Pending) / float64(st.TotalDiscovered) * 100
	}
	return p
}

// Serialize encodes the full RunState for checkpointing.
func (s *Store) Serialize() ([]byte, error) {
	data, err := json.Marshal(s.run)
	if err != nil {
		return nil, fmt.Errorf("marshal run state: %w", err)
	}
	return data, nil
}

// Deserialize replaces the ledger contents with a previously serialized
// RunState. The checkpoint counter resets to zero and the discovery
// sequence continues after the highest loaded value. Callers must run
// ValidateIntegrity before trusting externally supplied state.
func (s *Store) Deserialize(payload []byte) error {
	var run RunState
	if err := json.Unmarshal(payload, &run); err != nil {
		return fmt.Errorf("unmarshal run state: %w", err)
	}
	if run.RunID == "" {
		return fmt.Errorf("run state missing run_id")
	}
	if run.Games == nil {
		run.Games = make(map[string]*Game)
	}

	s.run = &run
	s.checkpointCounter = 0

	s.nextSeq = 0
	for _, g := range run.Games {
		if g.Seq >= s.nextSeq {
			s.nextSeq = g.Seq + 1
		}
	}

	s.updateGauges()
	return nil
}

// ValidateIntegrity recomputes the status counts from the game map and
// compares them against the aggregate stats. Returns human-readable
// discrepancies; an empty slice means the ledger is healthy.
func (s *Store) ValidateIntegrity() []string {
	var completed, failed, pending int
	for _, g := range s.run.Games {
		switch g.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusPending:
			pending++
		}
	}

	var problems []string
	st := s.run.Stats

	if completed != st.Completed {
		problems = append(problems, fmt.Sprintf("completed count mismatch: stats say %d, games say %d", st.Completed, completed))
	}
	if failed != st.Failed {
		problems = append(problems, fmt.Sprintf("failed count mismatch: stats say %d, games say %d", st.Failed, failed))
	}
	if pending != st.Pending {
		problems = append(problems, fmt.Sprintf("pending count mismatch: stats say %d, games say %d", st.Pending, pending))
	}
	if total := len(s.run.Games); total != st.TotalDiscovered {
		problems = append(problems, fmt.Sprintf("total discovered mismatch: stats say %d, games say %d", st.TotalDiscovered, total))
	}
	if st.Completed+st.Failed+st.Pending != st.TotalDiscovered {
		problems = append(problems, fmt.Sprintf("stats do not balance: %d completed + %d failed + %d pending != %d discovered",
			st.Completed, st.Failed, st.Pending, st.TotalDiscovered))
	}

	if len(problems) > 0 {
		integrityDiscrepanciesTotal.Add(float64(len(problems)))
	}
	return problems
}

func (s *Store) touch() {
	s.run.Stats.LastUpdate = time.Now().UTC()
}

func (s *Store) updateGauges() {
	st := s.run.Stats
	gamesByStatus.WithLabelValues(string(StatusPending)).Set(float64(st.Pending))
	gamesByStatus.WithLabelValues(string(StatusCompleted)).Set(float64(st.Completed))
	gamesByStatus.WithLabelValues(string(StatusFailed)).Set(float64(st.Failed))
}
