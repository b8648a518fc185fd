// Command backfill downloads historical NBA game data for one season.
//
// Configuration comes from the environment (see internal/config). The
// process runs a single backfill to completion, prints the final result
// as JSON on stdout, and exits 0 on success or 1 on failure. SIGINT and
// SIGTERM stop the run gracefully between games; the checkpoint written
// on the way out makes the run resumable with RESUME=true.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/courtdata/nba-backfill/internal/config"
	"github.com/courtdata/nba-backfill/pkg/backfill"
	"github.com/courtdata/nba-backfill/pkg/checkpoint"
	"github.com/courtdata/nba-backfill/pkg/logging"
	"github.com/courtdata/nba-backfill/pkg/nbaclient"
	"github.com/courtdata/nba-backfill/pkg/ratelimit"
	"github.com/courtdata/nba-backfill/pkg/sink"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})
	logger = logger.With().Str("component", "backfill").Logger()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	limiter, err := ratelimit.New(cfg.Run.BaseDelay, cfg.Run.MaxDelay, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create rate limiter")
		return 1
	}

	source, err := nbaclient.New(nbaclient.Config{
		BaseURL:   cfg.Client.BaseURL,
		UserAgent: cfg.Client.UserAgent,
		Timeout:   cfg.Client.Timeout,
		Retry:     nbaclient.DefaultRetryConfig(),
	}, limiter, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create stats client")
		return 1
	}

	checkpoints, err := newCheckpointStore(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create checkpoint store")
		return 1
	}

	fileSink, err := sink.NewFileSink(cfg.Storage.DataDir, cfg.Run.Season)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create file sink")
		return 1
	}

	orch, err := backfill.New(backfill.Config{
		Season:              cfg.Run.Season,
		Datasets:            cfg.Run.Datasets,
		BatchSize:           cfg.Run.BatchSize,
		MaxRetries:          cfg.Run.MaxRetries,
		CheckpointFrequency: cfg.Run.CheckpointFrequency,
		Resume:              cfg.Run.Resume,
	}, source, checkpoints, fileSink, limiter, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := orch.Run(ctx)

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode result")
		return 1
	}
	fmt.Println(string(payload))

	if result.CompletionStatus != backfill.StatusSuccess {
		return 1
	}
	return 0
}

// newCheckpointStore builds the configured checkpoint backend. The
// Redis backend pings before use so a bad address fails the run up
// front instead of after discovery.
func newCheckpointStore(cfg *config.Config, logger zerolog.Logger) (backfill.CheckpointStore, error) {
	switch cfg.Storage.CheckpointBackend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		return checkpoint.NewRedisStore(redisClient)
	default:
		return checkpoint.NewFileStore(cfg.Storage.DataDir)
	}
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
