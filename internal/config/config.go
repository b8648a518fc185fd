// Package config loads run configuration from environment variables and
// an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Checkpoint backend names.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the full application configuration.
type Config struct {
	Run     RunConfig
	Client  ClientConfig
	Redis   RedisConfig
	Storage StorageConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// RunConfig controls the backfill run itself.
type RunConfig struct {
	Season              string
	Resume              bool
	Datasets            []string
	BatchSize           int
	MaxRetries          int
	CheckpointFrequency int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

// ClientConfig controls the stats API client.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// RedisConfig connects the optional Redis checkpoint backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig controls where data and checkpoints land.
type StorageConfig struct {
	DataDir           string
	CheckpointBackend string
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string
	Pretty bool
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string // empty disables the endpoint
}

// Load reads configuration from the environment (and a .env file when
// present). Environment variables always take precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// The config file is optional; env-only operation is normal.
	_ = v.ReadInConfig()

	cfg := &Config{}

	cfg.Run.Season = v.GetString("SEASON")
	if cfg.Run.Season == "" {
		return nil, fmt.Errorf("SEASON is required (e.g. 2023-24)")
	}
	cfg.Run.Resume = v.GetBool("RESUME")

	if raw := v.GetString("DATASETS"); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.Run.Datasets = append(cfg.Run.Datasets, d)
			}
		}
	}

	cfg.Run.BatchSize = v.GetInt("BATCH_SIZE")
	if cfg.Run.BatchSize == 0 {
		cfg.Run.BatchSize = 20
	}

	cfg.Run.MaxRetries = v.GetInt("MAX_RETRIES")
	if cfg.Run.MaxRetries == 0 {
		cfg.Run.MaxRetries = 3
	}

	cfg.Run.CheckpointFrequency = v.GetInt("CHECKPOINT_FREQUENCY")
	if cfg.Run.CheckpointFrequency == 0 {
		cfg.Run.CheckpointFrequency = 10
	}

	cfg.Run.BaseDelay = secondsOrDefault(v, "BASE_DELAY_SECONDS", 600*time.Millisecond)
	cfg.Run.MaxDelay = secondsOrDefault(v, "MAX_DELAY_SECONDS", 60*time.Second)

	cfg.Client.BaseURL = v.GetString("STATS_BASE_URL")
	cfg.Client.UserAgent = v.GetString("USER_AGENT")
	if cfg.Client.UserAgent == "" {
		cfg.Client.UserAgent = "Mozilla/5.0 (compatible; nba-backfill/0.1)"
	}
	cfg.Client.Timeout = secondsOrDefault(v, "REQUEST_TIMEOUT_SECONDS", 30*time.Second)

	cfg.Storage.DataDir = v.GetString("DATA_DIR")
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}

	cfg.Storage.CheckpointBackend = v.GetString("CHECKPOINT_BACKEND")
	if cfg.Storage.CheckpointBackend == "" {
		cfg.Storage.CheckpointBackend = BackendFile
	}
	switch cfg.Storage.CheckpointBackend {
	case BackendFile, BackendRedis:
	default:
		return nil, fmt.Errorf("CHECKPOINT_BACKEND must be %q or %q (got %q)",
			BackendFile, BackendRedis, cfg.Storage.CheckpointBackend)
	}

	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Pretty = v.GetBool("LOG_PRETTY")

	cfg.Metrics.Addr = v.GetString("METRICS_ADDR")

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Run.Season == "" {
		return fmt.Errorf("season is required")
	}
	if c.Run.MaxDelay < c.Run.BaseDelay {
		return fmt.Errorf("MAX_DELAY_SECONDS must be >= BASE_DELAY_SECONDS")
	}
	if c.Storage.CheckpointBackend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis checkpoint backend")
	}
	return nil
}

// secondsOrDefault reads a float seconds value, falling back when unset.
func secondsOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	secs := v.GetFloat64(key)
	if secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
