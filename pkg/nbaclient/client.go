// Package nbaclient provides the HTTP client for the NBA stats API with
// adaptive pacing, retry, error classification, and response validation.
package nbaclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/courtdata/nba-backfill/pkg/backfill"
)

// Prometheus metrics for stats API operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_api_requests_total",
		Help: "Total stats API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stats_api_request_duration_seconds",
		Help:    "Stats API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_api_errors_total",
		Help: "Total stats API errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_api_retries_total",
		Help: "Total retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stats_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})
)

// DefaultBaseURL is the production stats API root.
const DefaultBaseURL = "https://stats.nba.com/stats"

// datasetEndpoints maps dataset names to stats API endpoints.
var datasetEndpoints = map[string]string{
	backfill.DatasetBoxTraditional: "boxscoretraditionalv2",
	backfill.DatasetBoxAdvanced:    "boxscoreadvancedv2",
	backfill.DatasetPlayByPlay:     "playbyplayv2",
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the stats API. Defaults to DefaultBaseURL.
	BaseURL string

	// UserAgent header. The stats API rejects requests without a
	// browser-like User-Agent.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Retry configuration for transient failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the stats API client. It implements backfill.DataSource.
// Every request goes through the pacer's Wait gate, and every response
// is reported back to it, so the adaptive delay tracks real API health.
type Client struct {
	httpClient *http.Client
	pacer      backfill.Pacer
	config     Config
	logger     zerolog.Logger
}

// New creates a stats API client.
func New(cfg Config, pacer backfill.Pacer, logger zerolog.Logger) (*Client, error) {
	if pacer == nil {
		return nil, fmt.Errorf("pacer is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pacer:      pacer,
		config:     cfg,
		logger:     logger.With().Str("component", "nba-client").Logger(),
	}, nil
}

// ListGames enumerates all games of a season from the league game log.
// The log has one row per team per game, so game IDs are deduplicated
// while preserving schedule order.
func (c *Client) ListGames(ctx context.Context, season string) ([]backfill.GameRef, backfill.CallMeta, error) {
	params := url.Values{
		"LeagueID":     {"00"},
		"Season":       {season},
		"SeasonType":   {"Regular Season"},
		"PlayerOrTeam": {"T"},
		"Counter":      {"0"},
		"Sorter":       {"DATE"},
		"Direction":    {"ASC"},
	}

	body, meta, err := c.get(ctx, "leaguegamelog", params)
	if err != nil {
		return nil, meta, err
	}

	resp, err := parseStatsResponse(body)
	if err != nil {
		return nil, meta, err
	}

	log := resp.ResultSets[0]
	idIdx := log.columnIndex("GAME_ID")
	dateIdx := log.columnIndex("GAME_DATE")
	if idIdx < 0 || dateIdx < 0 {
		return nil, meta, fmt.Errorf("%w: league game log missing GAME_ID or GAME_DATE column", ErrInvalidResponse)
	}

	seen := make(map[string]bool, len(log.RowSet)/2)
	refs := make([]backfill.GameRef, 0, len(log.RowSet)/2)
	for _, row := range log.RowSet {
		id := stringCell(row, idIdx)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		occurredOn, err := parseGameDate(stringCell(row, dateIdx))
		if err != nil {
			return nil, meta, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}

		refs = append(refs, backfill.GameRef{ID: id, OccurredOn: occurredOn})
	}

	c.logger.Info().
		Str("season", season).
		Int("games", len(refs)).
		Msg("League game log fetched")

	return refs, meta, nil
}

// FetchDataset fetches one dataset for one game and validates the
// payload shape before returning it.
func (c *Client) FetchDataset(ctx context.Context, gameID, dataset string) ([]byte, backfill.CallMeta, error) {
	endpoint, ok := datasetEndpoints[dataset]
	if !ok {
		return nil, backfill.CallMeta{}, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}

	params := url.Values{"GameID": {gameID}}
	if dataset == backfill.DatasetPlayByPlay {
		params.Set("StartPeriod", "0")
		params.Set("EndPeriod", "14")
	} else {
		params.Set("StartPeriod", "0")
		params.Set("EndPeriod", "14")
		params.Set("StartRange", "0")
		params.Set("EndRange", "0")
		params.Set("RangeType", "0")
	}

	body, meta, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, meta, err
	}

	if _, err := parseStatsResponse(body); err != nil {
		return nil, meta, err
	}

	return body, meta, nil
}

// get performs a paced GET with retry for transient failures. Each
// attempt waits at the pacer gate and reports its outcome, so internal
// retries adapt the delay exactly like top-level calls do.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, backfill.CallMeta, error) {
	requestURL := c.config.BaseURL + "/" + endpoint + "?" + params.Encode()

	var meta backfill.CallMeta
	var lastErr error
	backoff := c.config.Retry.InitialBackoff

	for attempt := 1; attempt <= c.config.Retry.MaxAttempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, meta, fmt.Errorf("wait for rate limiter: %w", err)
		}

		body, status, elapsed, err := c.attempt(ctx, endpoint, requestURL)
		meta.Attempts++
		meta.StatusCode = status
		meta.Duration = elapsed

		c.pacer.RecordOutcome(elapsed, status)

		if err == nil && status == http.StatusOK {
			if attempt > 1 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return body, meta, nil
		}

		var class ErrorClass
		if err != nil {
			class = ErrorClassNetwork
			lastErr = err
		} else {
			class = classifyStatus(status)
			if class == ErrorClassRateLimit {
				meta.RateLimitHits++
			}
			lastErr = &APIError{
				StatusCode: status,
				ErrorClass: class,
				Message:    http.StatusText(status),
			}
		}
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", status).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Err(err).
			Msg("Stats API request error")

		if !shouldRetry(class) {
			return nil, meta, lastErr
		}
		if attempt >= c.config.Retry.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		if err := sleepWithJitter(ctx, backoff, class); err != nil {
			return nil, meta, fmt.Errorf("backoff interrupted: %w", err)
		}
		backoff = c.config.Retry.next(backoff)
	}

	return nil, meta, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, meta.Attempts, lastErr)
}

// attempt executes a single HTTP request and returns the body, status,
// and wall time. A non-nil error means the request never produced a
// usable response (network failure).
func (c *Client) attempt(ctx context.Context, endpoint, requestURL string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	// The stats API rejects requests that do not look like a browser.
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://www.nba.com/")
	req.Header.Set("x-nba-stats-origin", "stats")
	req.Header.Set("x-nba-stats-token", "true")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, elapsed, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, elapsed, fmt.Errorf("read response body: %w", err)
	}

	return body, resp.StatusCode, elapsed, nil
}
