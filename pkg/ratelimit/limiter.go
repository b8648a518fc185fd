package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for adaptive pacing.
var (
	currentDelaySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_rate_limit_current_delay_seconds",
		Help: "Current adaptive inter-request delay in seconds",
	})

	rateLimitBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_rate_limit_backoffs_total",
		Help: "Total delay increases triggered by 429 responses",
	})

	serverErrorBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_rate_limit_server_error_backoffs_total",
		Help: "Total delay increases triggered by 5xx responses",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backfill_rate_limit_wait_seconds",
		Help:    "Time spent blocked in Wait before each request",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Limiter serializes outbound requests behind a single adaptive
// minimum-interval gate. This is cooperative pacing, not a token bucket:
// the backfill driver is sequential by construction, so the limiter only
// ever has one caller and needs no locking.
type Limiter struct {
	baseDelay time.Duration
	maxDelay  time.Duration

	currentDelay      time.Duration
	lastRequestTime   time.Time
	consecutiveErrors int

	logger zerolog.Logger
}

// New creates a limiter with the given delay floor and ceiling.
// Zero values fall back to the package defaults.
func New(baseDelay, maxDelay time.Duration, logger zerolog.Logger) (*Limiter, error) {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		return nil, fmt.Errorf("max delay %v must be >= base delay %v", maxDelay, baseDelay)
	}

	currentDelaySeconds.Set(baseDelay.Seconds())

	return &Limiter{
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		currentDelay: baseDelay,
		logger:       logger,
	}, nil
}

// Wait blocks until at least the current delay has elapsed since the
// previous call to Wait returned. The first call returns immediately.
// Returns the context error if the caller is cancelled mid-sleep.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.lastRequestTime.IsZero() {
		elapsed := time.Since(l.lastRequestTime)
		if remaining := l.currentDelay - elapsed; remaining > 0 {
			waitSeconds.Observe(remaining.Seconds())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}

	l.lastRequestTime = time.Now()
	return nil
}

// RecordOutcome feeds one response observation into the controller.
// Multiplicative increase on distress signals (429, 5xx), slow
// multiplicative decay on confirmed-fast successes, no change otherwise.
func (l *Limiter) RecordOutcome(responseTime time.Duration, statusCode int) {
	switch {
	case statusCode == http.StatusTooManyRequests:
		l.consecutiveErrors++
		l.setDelay(time.Duration(float64(l.currentDelay) * backoffFactor))
		rateLimitBackoffsTotal.Inc()

		l.logger.Warn().
			Dur("current_delay", l.currentDelay).
			Int("consecutive_errors", l.consecutiveErrors).
			Msg("Rate limited by stats API, backing off")

	case statusCode == http.StatusOK && responseTime < fastResponseThreshold:
		l.consecutiveErrors = 0
		l.setDelay(time.Duration(float64(l.currentDelay) * decayFactor))

	case statusCode >= 500:
		l.consecutiveErrors++
		l.setDelay(time.Duration(float64(l.currentDelay) * serverErrorFactor))
		serverErrorBackoffsTotal.Inc()

		l.logger.Warn().
			Int("status", statusCode).
			Dur("current_delay", l.currentDelay).
			Int("consecutive_errors", l.consecutiveErrors).
			Msg("Server error from stats API, slowing down")
	}
}

// Reset returns the limiter to the base delay and clears the error streak.
// Called at the start of a fresh (non-resumed) run.
func (l *Limiter) Reset() {
	l.currentDelay = l.baseDelay
	l.consecutiveErrors = 0
	currentDelaySeconds.Set(l.currentDelay.Seconds())
}

// Snapshot returns the current limiter state for logging and diagnostics.
func (l *Limiter) Snapshot() State {
	return State{
		BaseDelay:         l.baseDelay,
		CurrentDelay:      l.currentDelay,
		LastRequestTime:   l.lastRequestTime,
		ConsecutiveErrors: l.consecutiveErrors,
	}
}

// setDelay clamps the new delay to [baseDelay, maxDelay].
func (l *Limiter) setDelay(d time.Duration) {
	if d < l.baseDelay {
		d = l.baseDelay
	}
	if d > l.maxDelay {
		d = l.maxDelay
	}
	l.currentDelay = d
	currentDelaySeconds.Set(d.Seconds())
}
