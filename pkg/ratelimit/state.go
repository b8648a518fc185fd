// Package ratelimit implements adaptive request pacing for the stats API.
// The API publishes no quota, so the limiter adapts its inter-request delay
// from implicit feedback: 429 responses, server errors, and response latency.
package ratelimit

import (
	"time"
)

// Default delay bounds.
const (
	// DefaultBaseDelay is the floor for the inter-request delay.
	// 600ms keeps a season backfill near 100 requests per minute, which
	// the stats API tolerates from a single client.
	DefaultBaseDelay = 600 * time.Millisecond

	// DefaultMaxDelay bounds worst-case throughput collapse. Past this
	// the backfill is better off failing units than crawling forever.
	DefaultMaxDelay = 60 * time.Second
)

// Adaptation factors.
const (
	// backoffFactor doubles the delay on an explicit rate-limit signal.
	backoffFactor = 2.0

	// serverErrorFactor grows the delay on 5xx responses, which usually
	// mean upstream distress rather than an exhausted quota.
	serverErrorFactor = 1.5

	// decayFactor shrinks the delay after a confirmed-fast success.
	// Gradual multiplicative decay prevents oscillation from a single
	// fast response.
	decayFactor = 0.95

	// fastResponseThreshold is the latency below which a 200 counts as
	// evidence that the API is healthy enough to speed back up.
	fastResponseThreshold = 1 * time.Second
)

// State is a point-in-time snapshot of the limiter. It lives only in
// process memory and is never checkpointed; after a resume the limiter
// restarts conservatively at the base delay.
type State struct {
	// BaseDelay is the configured floor for CurrentDelay.
	BaseDelay time.Duration `json:"base_delay"`

	// CurrentDelay is the minimum interval enforced between requests.
	// Always within [BaseDelay, MaxDelay].
	CurrentDelay time.Duration `json:"current_delay"`

	// LastRequestTime is when the previous request was released.
	LastRequestTime time.Time `json:"last_request_time"`

	// ConsecutiveErrors counts back-to-back distress signals (429 or 5xx).
	// Any fast successful response resets it to zero.
	ConsecutiveErrors int `json:"consecutive_errors"`
}

// AtFloor reports whether the delay has fully decayed back to the base.
func (s State) AtFloor() bool {
	return s.CurrentDelay <= s.BaseDelay
}

// Saturated reports whether the delay has reached the given ceiling.
func (s State) Saturated(maxDelay time.Duration) bool {
	return s.CurrentDelay >= maxDelay
}
