package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresSeason(t *testing.T) {
	t.Setenv("SEASON", "")

	if _, err := Load(); err == nil {
		t.Error("Load() without SEASON should return error")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SEASON", "2023-24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want 20", cfg.Run.BatchSize)
	}
	if cfg.Run.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Run.MaxRetries)
	}
	if cfg.Run.CheckpointFrequency != 10 {
		t.Errorf("CheckpointFrequency = %d, want 10", cfg.Run.CheckpointFrequency)
	}
	if cfg.Run.BaseDelay != 600*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 600ms", cfg.Run.BaseDelay)
	}
	if cfg.Run.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", cfg.Run.MaxDelay)
	}
	if cfg.Storage.CheckpointBackend != BackendFile {
		t.Errorf("CheckpointBackend = %q, want file", cfg.Storage.CheckpointBackend)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SEASON", "2022-23")
	t.Setenv("RESUME", "true")
	t.Setenv("DATASETS", "box-traditional, play-by-play")
	t.Setenv("BATCH_SIZE", "5")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("BASE_DELAY_SECONDS", "1.5")
	t.Setenv("CHECKPOINT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("METRICS_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.Season != "2022-23" || !cfg.Run.Resume {
		t.Errorf("run config = %+v", cfg.Run)
	}
	if len(cfg.Run.Datasets) != 2 || cfg.Run.Datasets[1] != "play-by-play" {
		t.Errorf("Datasets = %v", cfg.Run.Datasets)
	}
	if cfg.Run.BatchSize != 5 || cfg.Run.MaxRetries != 7 {
		t.Errorf("run config = %+v", cfg.Run)
	}
	if cfg.Run.BaseDelay != 1500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 1.5s", cfg.Run.BaseDelay)
	}
	if cfg.Storage.CheckpointBackend != BackendRedis {
		t.Errorf("CheckpointBackend = %q, want redis", cfg.Storage.CheckpointBackend)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("SEASON", "2023-24")
	t.Setenv("CHECKPOINT_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Error("Load() with unknown backend should return error")
	}
}

func TestValidate_DelayOrdering(t *testing.T) {
	cfg := &Config{}
	cfg.Run.Season = "2023-24"
	cfg.Run.BaseDelay = 10 * time.Second
	cfg.Run.MaxDelay = 1 * time.Second
	cfg.Storage.CheckpointBackend = BackendFile

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with max < base delay should return error")
	}
}
