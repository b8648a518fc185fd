package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/courtdata/nba-backfill/pkg/state"
)

// Prometheus metrics for run progress.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_runs_total",
		Help: "Completed backfill runs by final status",
	}, []string{"status"})

	gamesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_games_processed_total",
		Help: "Games processed by per-attempt result",
	}, []string{"result"})

	checkpointSavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_checkpoint_saves_total",
		Help: "Durable checkpoint saves performed",
	})
)

// Phase is the orchestrator's position in the run state machine.
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseDiscovering Phase = "discovering"
	PhaseProcessing  Phase = "processing"
	PhaseFinalizing  Phase = "finalizing"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// Completion status values reported in the final Result.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// APIStats is the request-level accounting for one run. Unlike the
// ledger's RunStats it is not checkpointed; it describes this process's
// API traffic only.
type APIStats struct {
	TotalRequests      int `json:"total_requests"`
	SuccessfulRequests int `json:"successful_requests"`
	FailedRequests     int `json:"failed_requests"`
	RateLimitHits      int `json:"rate_limit_hits"`
}

// Result is the structured outcome of a run. Runs always return a
// Result, never a bare error: unit-level failures are absorbed into the
// progress counts and only run-scoped failures flip the status.
type Result struct {
	RunID            string         `json:"run_id"`
	CompletionStatus string         `json:"completion_status"`
	Progress         state.Progress `json:"progress"`
	APIStatistics    APIStats       `json:"api_statistics"`
	Error            string         `json:"error,omitempty"`
}

// Config holds the run parameters.
type Config struct {
	// Season is the discovery scope, e.g. "2023-24".
	Season string

	// Datasets are fetched per game in order. Empty means DefaultDatasets.
	Datasets []string

	// BatchSize is how many games are pulled from the ledger per batch.
	BatchSize int

	// MaxRetries bounds attempts per game before it fails terminally.
	MaxRetries int

	// CheckpointFrequency is the number of processed games between
	// durable saves.
	CheckpointFrequency int

	// Resume loads a previous checkpoint for this season when true.
	Resume bool
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.Season == "" {
		return fmt.Errorf("season is required")
	}
	if len(c.Datasets) == 0 {
		c.Datasets = DefaultDatasets()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.CheckpointFrequency <= 0 {
		c.CheckpointFrequency = 10
	}
	return nil
}

// CheckpointPath returns the deterministic checkpoint location for a season.
func CheckpointPath(season string) string {
	return season + "/checkpoint.json"
}

// Orchestrator drives one backfill run as a single sequential control
// flow. All outbound calls share one external rate budget, so there is
// deliberately no worker pool: parallel callers would only contend for
// the same minimum-interval gate while complicating checkpoint ordering.
type Orchestrator struct {
	cfg         Config
	source      DataSource
	checkpoints CheckpointStore
	sink        Sink
	limiter     Pacer

	store *state.Store
	phase Phase
	api   APIStats

	logger zerolog.Logger
}

// New creates an orchestrator. The limiter may be nil when the data
// source handles pacing without exposing it.
func New(cfg Config, source DataSource, checkpoints CheckpointStore, sink Sink, limiter Pacer, logger zerolog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("data source is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	return &Orchestrator{
		cfg:         cfg,
		source:      source,
		checkpoints: checkpoints,
		sink:        sink,
		limiter:     limiter,
		phase:       PhaseStarting,
		logger:      logger.With().Str("season", cfg.Season).Logger(),
	}, nil
}

// Phase returns the orchestrator's current state-machine position.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// Progress exposes the live completion summary, usable mid-run.
func (o *Orchestrator) Progress() state.Progress {
	if o.store == nil {
		return state.Progress{}
	}
	return o.store.ProgressSummary()
}

// Run executes the full backfill state machine and always returns a
// structured Result. Individual game failures never fail the run; only
// discovery errors, unreadable checkpoints, and checkpoint write
// failures do. Cancellation is observed between games, never mid-game.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	if err := o.start(ctx); err != nil {
		return o.fail(err)
	}

	if err := o.discover(ctx); err != nil {
		return o.fail(err)
	}

	if err := o.process(ctx); err != nil {
		return o.fail(err)
	}

	return o.finalize(ctx)
}

// start resolves the run identity: either a fresh run or a resume from
// the season's checkpoint.
func (o *Orchestrator) start(ctx context.Context) error {
	o.phase = PhaseStarting

	if o.cfg.Resume {
		payload, err := o.checkpoints.Read(ctx, CheckpointPath(o.cfg.Season))
		switch {
		case err == nil:
			return o.loadCheckpoint(payload)
		case errors.Is(err, ErrCheckpointNotFound):
			o.logger.Info().Msg("No checkpoint found, starting fresh run")
		default:
			// A broken checkpoint store means progress cannot be
			// trusted or extended; do not invent partial state.
			return fmt.Errorf("read checkpoint: %w", err)
		}
	}

	return o.freshRun()
}

func (o *Orchestrator) freshRun() error {
	runID := uuid.NewString()
	store, err := state.NewStore(runID, o.cfg.Season, o.cfg.MaxRetries, o.cfg.CheckpointFrequency, o.logger)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	o.store = store

	if o.limiter != nil {
		o.limiter.Reset()
	}

	o.logger.Info().Str("run_id", runID).Msg("Starting fresh backfill run")
	return nil
}

func (o *Orchestrator) loadCheckpoint(payload []byte) error {
	store, err := state.NewStore("resume", o.cfg.Season, o.cfg.MaxRetries, o.cfg.CheckpointFrequency, o.logger)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	if err := store.Deserialize(payload); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	// Count drift in an old checkpoint is not worth blocking a
	// multi-hour run over; log it and keep going.
	if problems := store.ValidateIntegrity(); len(problems) > 0 {
		for _, p := range problems {
			o.logger.Warn().Str("discrepancy", p).Msg("Checkpoint integrity discrepancy")
		}
	}

	o.store = store
	progress := store.ProgressSummary()

	o.logger.Info().
		Str("run_id", store.RunID()).
		Int("total_games", progress.TotalGames).
		Int("completed", progress.CompletedGames).
		Int("pending", progress.PendingGames).
		Msg("Resumed backfill run from checkpoint")

	return nil
}

// discover enumerates the season's games. There is no partial season to
// back off to, so any error here is fatal for the run.
func (o *Orchestrator) discover(ctx context.Context) error {
	o.phase = PhaseDiscovering

	refs, meta, err := o.source.ListGames(ctx, o.cfg.Season)
	o.recordCall(meta, err)
	if err != nil {
		return fmt.Errorf("discover games for season %s: %w", o.cfg.Season, err)
	}

	games := make([]state.Game, len(refs))
	for i, ref := range refs {
		games[i] = state.Game{ID: ref.ID, OccurredOn: ref.OccurredOn}
	}
	inserted := o.store.AddDiscovered(games)

	o.logger.Info().
		Int("discovered", len(refs)).
		Int("new", inserted).
		Msg("Discovery complete")

	return nil
}

// process is the main loop: pull batches of pending games, attempt every
// configured dataset for each, and checkpoint at the configured cadence.
func (o *Orchestrator) process(ctx context.Context) error {
	o.phase = PhaseProcessing

	for {
		batch := o.store.NextBatch(o.cfg.BatchSize)
		if len(batch) == 0 {
			return nil
		}

		for _, game := range batch {
			// Cancellation is polled between games so a game's
			// multi-dataset write is never left half-applied
			// without being recorded as failed.
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run cancelled: %w", err)
			}

			completed, err := o.processGame(ctx, game.ID)
			if err != nil {
				// A single bad game must not abort the backfill.
				o.store.MarkFailed(game.ID, err.Error())
				gamesProcessedTotal.WithLabelValues("failed").Inc()
			} else {
				o.store.MarkCompleted(game.ID, completed)
				gamesProcessedTotal.WithLabelValues("completed").Inc()
			}

			if o.store.ShouldCheckpoint() {
				if err := o.saveCheckpoint(ctx); err != nil {
					// Without durable progress tracking the run
					// cannot safely continue.
					return fmt.Errorf("save checkpoint: %w", err)
				}
				o.store.ResetCheckpointCounter()
			}
		}
	}
}

// processGame attempts every configured dataset for one game, in order.
// Returns the dataset names written, or the first error encountered.
func (o *Orchestrator) processGame(ctx context.Context, gameID string) ([]string, error) {
	completed := make([]string, 0, len(o.cfg.Datasets))

	for _, dataset := range o.cfg.Datasets {
		payload, meta, err := o.source.FetchDataset(ctx, gameID, dataset)
		o.recordCall(meta, err)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", dataset, err)
		}

		bytes, err := o.sink.Write(ctx, gameID, dataset, payload)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", dataset, err)
		}
		o.store.RecordFileStored(bytes)

		completed = append(completed, dataset)
	}

	o.logger.Debug().
		Str("game_id", gameID).
		Strs("datasets", completed).
		Msg("Game complete")

	return completed, nil
}

// finalize performs the last unconditional save and builds the Result.
// The final save captures statistics from games processed after the last
// periodic checkpoint.
func (o *Orchestrator) finalize(ctx context.Context) *Result {
	o.phase = PhaseFinalizing

	if err := o.saveCheckpoint(ctx); err != nil {
		// All work is done at this point; losing the final counter
		// refresh is not worth failing an otherwise complete run.
		o.logger.Error().Err(err).Msg("Final checkpoint save failed")
	}

	o.phase = PhaseSucceeded
	runsTotal.WithLabelValues(StatusSuccess).Inc()

	progress := o.store.ProgressSummary()
	o.logger.Info().
		Str("run_id", o.store.RunID()).
		Int("completed", progress.CompletedGames).
		Int("total", progress.TotalGames).
		Float64("completion_pct", progress.CompletionPercentage).
		Int("api_requests", o.api.TotalRequests).
		Int("rate_limit_hits", o.api.RateLimitHits).
		Msg("Backfill run complete")

	return &Result{
		RunID:            o.store.RunID(),
		CompletionStatus: StatusSuccess,
		Progress:         progress,
		APIStatistics:    o.api,
	}
}

// fail terminates the run with a run-scoped error. A best-effort
// checkpoint preserves whatever progress was made before the failure.
func (o *Orchestrator) fail(cause error) *Result {
	o.phase = PhaseFailed
	runsTotal.WithLabelValues(StatusFailed).Inc()

	result := &Result{
		CompletionStatus: StatusFailed,
		APIStatistics:    o.api,
		Error:            cause.Error(),
	}

	if o.store != nil {
		result.RunID = o.store.RunID()
		result.Progress = o.store.ProgressSummary()

		if err := o.saveCheckpoint(context.Background()); err != nil {
			o.logger.Error().Err(err).Msg("Checkpoint save on failure path failed")
		}
	}

	o.logger.Error().Err(cause).Str("run_id", result.RunID).Msg("Backfill run failed")
	return result
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context) error {
	payload, err := o.store.Serialize()
	if err != nil {
		return err
	}
	if err := o.checkpoints.Write(ctx, CheckpointPath(o.cfg.Season), payload); err != nil {
		return err
	}

	checkpointSavesTotal.Inc()
	o.logger.Debug().Int("bytes", len(payload)).Msg("Checkpoint saved")
	return nil
}

// recordCall folds one logical API call into both the process-local
// request statistics and the checkpointed call total.
func (o *Orchestrator) recordCall(meta CallMeta, err error) {
	if meta.Attempts == 0 {
		return
	}

	o.api.TotalRequests += meta.Attempts
	o.api.RateLimitHits += meta.RateLimitHits
	if err == nil {
		o.api.SuccessfulRequests++
		o.api.FailedRequests += meta.Attempts - 1
	} else {
		o.api.FailedRequests += meta.Attempts
	}

	if o.store != nil {
		o.store.RecordAPICalls(meta.Attempts)
	}
}

// Elapsed is a helper for callers that want to log run duration from the
// ledger's own clock.
func (o *Orchestrator) Elapsed() time.Duration {
	if o.store == nil {
		return 0
	}
	return time.Since(o.store.Stats().StartTime)
}
