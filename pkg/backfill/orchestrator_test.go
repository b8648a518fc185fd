package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtdata/nba-backfill/pkg/state"
)

// fakeSource is an in-memory DataSource with scriptable per-call behavior.
type fakeSource struct {
	games   []GameRef
	listErr error

	// fetch decides the outcome of each (game, dataset) call. Nil means
	// every fetch succeeds with a small payload.
	fetch func(gameID, dataset string) ([]byte, CallMeta, error)

	fetchCalls []string
}

func (f *fakeSource) ListGames(ctx context.Context, season string) ([]GameRef, CallMeta, error) {
	meta := CallMeta{Attempts: 1, StatusCode: 200}
	if f.listErr != nil {
		meta.StatusCode = 500
		return nil, meta, f.listErr
	}
	return f.games, meta, nil
}

func (f *fakeSource) FetchDataset(ctx context.Context, gameID, dataset string) ([]byte, CallMeta, error) {
	f.fetchCalls = append(f.fetchCalls, gameID+"/"+dataset)
	if f.fetch != nil {
		return f.fetch(gameID, dataset)
	}
	return []byte(`{"resultSets": []}`), CallMeta{Attempts: 1, StatusCode: 200}, nil
}

// fakeCheckpoints is an in-memory CheckpointStore.
type fakeCheckpoints struct {
	blobs    map[string][]byte
	readErr  error
	writeErr error
	writes   int
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{blobs: make(map[string][]byte)}
}

func (f *fakeCheckpoints) Read(ctx context.Context, path string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	data, ok := f.blobs[path]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return data, nil
}

func (f *fakeCheckpoints) Write(ctx context.Context, path string, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	f.blobs[path] = append([]byte(nil), data...)
	return nil
}

// fakeSink records writes in memory.
type fakeSink struct {
	writes map[string][]byte
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{writes: make(map[string][]byte)}
}

func (f *fakeSink) Write(ctx context.Context, gameID, dataset string, payload []byte) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.writes[gameID+"/"+dataset] = append([]byte(nil), payload...)
	return int64(len(payload)), nil
}

func refs(ids ...string) []GameRef {
	out := make([]GameRef, len(ids))
	for i, id := range ids {
		out[i] = GameRef{ID: id, OccurredOn: time.Date(2023, 10, 24, 0, 0, 0, 0, time.UTC)}
	}
	return out
}

func newOrchestrator(t *testing.T, cfg Config, source DataSource, cp CheckpointStore, sink Sink) *Orchestrator {
	t.Helper()
	o, err := New(cfg, source, cp, sink, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestNew_Validation(t *testing.T) {
	cfg := Config{Season: "2023-24"}
	src := &fakeSource{}
	cp := newFakeCheckpoints()
	sink := newFakeSink()

	tests := []struct {
		name string
		fn   func() (*Orchestrator, error)
	}{
		{"missing season", func() (*Orchestrator, error) {
			return New(Config{}, src, cp, sink, nil, zerolog.Nop())
		}},
		{"missing source", func() (*Orchestrator, error) {
			return New(cfg, nil, cp, sink, nil, zerolog.Nop())
		}},
		{"missing checkpoints", func() (*Orchestrator, error) {
			return New(cfg, src, nil, sink, nil, zerolog.Nop())
		}},
		{"missing sink", func() (*Orchestrator, error) {
			return New(cfg, src, cp, nil, nil, zerolog.Nop())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(); err == nil {
				t.Error("New() should return error")
			}
		})
	}
}

func TestRun_AllGamesSucceed(t *testing.T) {
	src := &fakeSource{games: refs("g1", "g2", "g3")}
	cp := newFakeCheckpoints()
	sink := newFakeSink()

	o := newOrchestrator(t, Config{Season: "2023-24", MaxRetries: 3, CheckpointFrequency: 10, BatchSize: 2}, src, cp, sink)
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q (error %q), want success", result.CompletionStatus, result.Error)
	}
	if result.RunID == "" {
		t.Error("RunID is empty")
	}
	if result.Progress.CompletedGames != 3 || result.Progress.PendingGames != 0 {
		t.Errorf("progress = %+v", result.Progress)
	}
	if result.Progress.CompletionPercentage != 100.0 {
		t.Errorf("CompletionPercentage = %v, want 100", result.Progress.CompletionPercentage)
	}

	// 3 games x 3 datasets in the sink.
	if len(sink.writes) != 9 {
		t.Errorf("sink writes = %d, want 9", len(sink.writes))
	}

	// Final checkpoint must exist at the deterministic path.
	if _, ok := cp.blobs[CheckpointPath("2023-24")]; !ok {
		t.Error("no checkpoint written at season path")
	}

	if o.Phase() != PhaseSucceeded {
		t.Errorf("Phase = %q, want %q", o.Phase(), PhaseSucceeded)
	}
}

func TestRun_UnitFailureIsolation(t *testing.T) {
	// Discovery finds 3 games; gB's second dataset fails, gA and gC
	// succeed. One pass: completed=2, gB back to pending with one retry.
	src := &fakeSource{games: refs("gA", "gB", "gC")}
	src.fetch = func(gameID, dataset string) ([]byte, CallMeta, error) {
		if gameID == "gB" && dataset == DatasetBoxAdvanced {
			return nil, CallMeta{Attempts: 1, StatusCode: 500}, errors.New("upstream 500")
		}
		return []byte(`{}`), CallMeta{Attempts: 1, StatusCode: 200}, nil
	}
	cp := newFakeCheckpoints()
	sink := newFakeSink()

	// MaxRetries 2: gB fails once in pass one, resurfaces, fails again,
	// and goes terminal within the same run.
	cfg := Config{Season: "2023-24", MaxRetries: 2, CheckpointFrequency: 100, BatchSize: 10}
	o := newOrchestrator(t, cfg, src, cp, sink)
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q (error %q), want success: unit failures never fail the run", result.CompletionStatus, result.Error)
	}
	if result.Progress.CompletedGames != 2 {
		t.Errorf("CompletedGames = %d, want 2", result.Progress.CompletedGames)
	}
	if result.Progress.PendingGames != 0 {
		t.Errorf("PendingGames = %d, want 0 (gB exhausted retries)", result.Progress.PendingGames)
	}

	// Pass one: gA 3 calls, gB 2 calls (second fails), gC 3 calls.
	// Pass two: gB 2 calls again. Plus 1 discovery call.
	wantRequests := 1 + 3 + 2 + 3 + 2
	if result.APIStatistics.TotalRequests != wantRequests {
		t.Errorf("TotalRequests = %d, want %d", result.APIStatistics.TotalRequests, wantRequests)
	}
	if result.APIStatistics.FailedRequests != 2 {
		t.Errorf("FailedRequests = %d, want 2", result.APIStatistics.FailedRequests)
	}
}

func TestRun_SingleFailurePass(t *testing.T) {
	// The one-pass variant: with a retry budget that is not exhausted in
	// this run, the failed game is reported as still pending.
	src := &fakeSource{games: refs("gA", "gB", "gC")}
	failedOnce := false
	src.fetch = func(gameID, dataset string) ([]byte, CallMeta, error) {
		if gameID == "gB" && dataset == DatasetBoxAdvanced && !failedOnce {
			failedOnce = true
			return nil, CallMeta{Attempts: 1, StatusCode: 0}, errors.New("connection reset")
		}
		return []byte(`{}`), CallMeta{Attempts: 1, StatusCode: 200}, nil
	}
	cp := newFakeCheckpoints()
	sink := newFakeSink()

	cfg := Config{Season: "2023-24", MaxRetries: 5, CheckpointFrequency: 100, BatchSize: 10, Datasets: []string{DatasetBoxTraditional, DatasetBoxAdvanced}}
	o := newOrchestrator(t, cfg, src, cp, sink)
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q, want success", result.CompletionStatus)
	}
	// gB retries within the same run and succeeds on the second attempt.
	if result.Progress.CompletedGames != 3 {
		t.Errorf("CompletedGames = %d, want 3", result.Progress.CompletedGames)
	}

	// First pass attempted calls: gA 2, gB 2 (first ok, second failed), gC 2.
	firstPass := src.fetchCalls[:6]
	want := []string{
		"gA/" + DatasetBoxTraditional, "gA/" + DatasetBoxAdvanced,
		"gB/" + DatasetBoxTraditional, "gB/" + DatasetBoxAdvanced,
		"gC/" + DatasetBoxTraditional, "gC/" + DatasetBoxAdvanced,
	}
	for i, call := range want {
		if firstPass[i] != call {
			t.Errorf("fetch call %d = %s, want %s", i, firstPass[i], call)
		}
	}
}

func TestRun_DiscoveryFailureIsFatal(t *testing.T) {
	src := &fakeSource{listErr: errors.New("league log unavailable")}
	cp := newFakeCheckpoints()

	o := newOrchestrator(t, Config{Season: "2023-24"}, src, cp, newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusFailed {
		t.Fatalf("CompletionStatus = %q, want failed", result.CompletionStatus)
	}
	if !strings.Contains(result.Error, "league log unavailable") {
		t.Errorf("Error = %q, want underlying cause surfaced verbatim", result.Error)
	}
	if o.Phase() != PhaseFailed {
		t.Errorf("Phase = %q, want %q", o.Phase(), PhaseFailed)
	}
}

func TestRun_CheckpointReadErrorIsFatal(t *testing.T) {
	cp := newFakeCheckpoints()
	cp.readErr = errors.New("blob store unreachable")

	o := newOrchestrator(t, Config{Season: "2023-24", Resume: true}, &fakeSource{games: refs("g1")}, cp, newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusFailed {
		t.Fatalf("CompletionStatus = %q, want failed", result.CompletionStatus)
	}
	if !strings.Contains(result.Error, "blob store unreachable") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRun_ResumeNotFoundStartsFresh(t *testing.T) {
	src := &fakeSource{games: refs("g1")}
	o := newOrchestrator(t, Config{Season: "2023-24", Resume: true}, src, newFakeCheckpoints(), newFakeSink())

	result := o.Run(context.Background())
	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q (error %q), want success", result.CompletionStatus, result.Error)
	}
	if result.RunID == "" {
		t.Error("fresh run should have generated a run ID")
	}
}

func TestRun_ResumeProcessesOnlyPending(t *testing.T) {
	// Build a checkpoint with g1 completed and g2 pending.
	seed, err := state.NewStore("run-original", "2023-24", 3, 10, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	seed.AddDiscovered([]state.Game{{ID: "g1"}, {ID: "g2"}})
	seed.MarkCompleted("g1", DefaultDatasets())
	payload, err := seed.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	cp := newFakeCheckpoints()
	cp.blobs[CheckpointPath("2023-24")] = payload

	src := &fakeSource{games: refs("g1", "g2")}
	sink := newFakeSink()
	o := newOrchestrator(t, Config{Season: "2023-24", Resume: true, MaxRetries: 3, CheckpointFrequency: 10}, src, cp, sink)

	result := o.Run(context.Background())
	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q (error %q), want success", result.CompletionStatus, result.Error)
	}
	if result.RunID != "run-original" {
		t.Errorf("RunID = %q, want run-original (stable across resumes)", result.RunID)
	}
	if result.Progress.CompletedGames != 2 {
		t.Errorf("CompletedGames = %d, want 2", result.Progress.CompletedGames)
	}

	// Only g2's datasets were fetched; g1 was already done.
	for _, call := range src.fetchCalls {
		if strings.HasPrefix(call, "g1/") {
			t.Errorf("completed game refetched: %s", call)
		}
	}
	if len(src.fetchCalls) != len(DefaultDatasets()) {
		t.Errorf("fetch calls = %d, want %d", len(src.fetchCalls), len(DefaultDatasets()))
	}
}

func TestRun_CorruptCheckpointIsFatal(t *testing.T) {
	cp := newFakeCheckpoints()
	cp.blobs[CheckpointPath("2023-24")] = []byte("{broken")

	o := newOrchestrator(t, Config{Season: "2023-24", Resume: true}, &fakeSource{}, cp, newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusFailed {
		t.Fatalf("CompletionStatus = %q, want failed for unreadable checkpoint", result.CompletionStatus)
	}
}

func TestRun_CheckpointCadence(t *testing.T) {
	src := &fakeSource{games: refs("g1", "g2", "g3", "g4", "g5")}
	cp := newFakeCheckpoints()

	o := newOrchestrator(t, Config{Season: "2023-24", CheckpointFrequency: 2, BatchSize: 10}, src, cp, newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q, want success", result.CompletionStatus)
	}

	// 5 games at frequency 2: periodic saves after games 2 and 4, plus
	// the unconditional final save.
	if cp.writes != 3 {
		t.Errorf("checkpoint writes = %d, want 3", cp.writes)
	}
}

func TestRun_CheckpointWriteFailureIsFatal(t *testing.T) {
	src := &fakeSource{games: refs("g1", "g2", "g3")}
	cp := newFakeCheckpoints()
	cp.writeErr = errors.New("disk full")

	o := newOrchestrator(t, Config{Season: "2023-24", CheckpointFrequency: 1, BatchSize: 10}, src, cp, newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusFailed {
		t.Fatalf("CompletionStatus = %q, want failed", result.CompletionStatus)
	}
	if !strings.Contains(result.Error, "disk full") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRun_CancellationBetweenGames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	src := &fakeSource{games: refs("g1", "g2", "g3")}
	var fetched int
	src.fetch = func(gameID, dataset string) ([]byte, CallMeta, error) {
		fetched++
		// Cancel mid-way through the first game; the game must still
		// finish before the loop observes the cancellation.
		if fetched == 2 {
			cancel()
		}
		return []byte(`{}`), CallMeta{Attempts: 1, StatusCode: 200}, nil
	}
	cp := newFakeCheckpoints()

	o := newOrchestrator(t, Config{Season: "2023-24", BatchSize: 10, CheckpointFrequency: 100}, src, cp, newFakeSink())
	result := o.Run(ctx)

	if result.CompletionStatus != StatusFailed {
		t.Fatalf("CompletionStatus = %q, want failed on cancellation", result.CompletionStatus)
	}
	// g1 completed in full despite the cancel landing mid-game.
	if result.Progress.CompletedGames != 1 {
		t.Errorf("CompletedGames = %d, want 1", result.Progress.CompletedGames)
	}
	if fetched != len(DefaultDatasets()) {
		t.Errorf("fetches = %d, want %d (no mid-game abort, no further games)", fetched, len(DefaultDatasets()))
	}

	// Progress is preserved durably on the failure path.
	if _, ok := cp.blobs[CheckpointPath("2023-24")]; !ok {
		t.Error("no checkpoint saved on cancellation")
	}
}

func TestRun_SinkFailureMarksGameFailed(t *testing.T) {
	src := &fakeSource{games: refs("g1")}
	sink := newFakeSink()
	sink.err = errors.New("permission denied")

	o := newOrchestrator(t, Config{Season: "2023-24", MaxRetries: 1, CheckpointFrequency: 100}, src, newFakeCheckpoints(), sink)
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q, want success (sink failure is unit-scoped)", result.CompletionStatus)
	}
	if result.Progress.CompletedGames != 0 || result.Progress.PendingGames != 0 {
		t.Errorf("progress = %+v, want the single game terminally failed", result.Progress)
	}
}

func TestRun_RateLimitHitsCounted(t *testing.T) {
	src := &fakeSource{games: refs("g1")}
	src.fetch = func(gameID, dataset string) ([]byte, CallMeta, error) {
		// Each fetch succeeded after one internal 429 retry.
		return []byte(`{}`), CallMeta{Attempts: 2, RateLimitHits: 1, StatusCode: 200}, nil
	}

	o := newOrchestrator(t, Config{Season: "2023-24"}, src, newFakeCheckpoints(), newFakeSink())
	result := o.Run(context.Background())

	if result.CompletionStatus != StatusSuccess {
		t.Fatalf("CompletionStatus = %q, want success", result.CompletionStatus)
	}
	wantHits := len(DefaultDatasets())
	if result.APIStatistics.RateLimitHits != wantHits {
		t.Errorf("RateLimitHits = %d, want %d", result.APIStatistics.RateLimitHits, wantHits)
	}
	// discovery (1) + 3 datasets x 2 attempts.
	if result.APIStatistics.TotalRequests != 7 {
		t.Errorf("TotalRequests = %d, want 7", result.APIStatistics.TotalRequests)
	}
	if result.APIStatistics.SuccessfulRequests != 4 {
		t.Errorf("SuccessfulRequests = %d, want 4", result.APIStatistics.SuccessfulRequests)
	}
}

func TestCheckpointPath(t *testing.T) {
	if got := CheckpointPath("2023-24"); got != "2023-24/checkpoint.json" {
		t.Errorf("CheckpointPath() = %q", got)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Season: "2023-24"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfg.Datasets) != 3 {
		t.Errorf("Datasets = %v, want the 3 defaults", cfg.Datasets)
	}
	if cfg.BatchSize <= 0 || cfg.MaxRetries <= 0 || cfg.CheckpointFrequency <= 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestCallMeta_Add(t *testing.T) {
	m := CallMeta{Attempts: 1, RateLimitHits: 0, StatusCode: 429}
	m.Add(CallMeta{Attempts: 2, RateLimitHits: 1, StatusCode: 200, Duration: time.Second})

	if m.Attempts != 3 || m.RateLimitHits != 1 || m.StatusCode != 200 {
		t.Errorf("merged meta = %+v", m)
	}
}

func ExampleOrchestrator_Run() {
	src := &fakeSource{games: refs("0022300061")}
	o, _ := New(Config{Season: "2023-24"}, src, newFakeCheckpoints(), newFakeSink(), nil, zerolog.Nop())

	result := o.Run(context.Background())
	fmt.Println(result.CompletionStatus, result.Progress.CompletedGames)
	// Output: success 1
}
