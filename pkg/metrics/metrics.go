// Package metrics provides the centralized Prometheus metrics registry
// for the backfill service. All metrics are defined in their respective
// packages (ratelimit, state, backfill, nbaclient, checkpoint, sink) to
// maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the backfill service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - backfill_rate_limit_current_delay_seconds (Gauge): Current adaptive inter-request delay
//   - backfill_rate_limit_backoffs_total (Counter): Delay increases triggered by 429 responses
//   - backfill_rate_limit_server_error_backoffs_total (Counter): Delay increases triggered by 5xx responses
//   - backfill_rate_limit_wait_seconds (Histogram): Time spent blocked before each request
//
// Run State Metrics (pkg/state):
//   - backfill_games{status} (Gauge): Tracked games by status (pending, completed, failed)
//   - backfill_state_integrity_discrepancies_total (Counter): Integrity discrepancies found on validation
//
// Orchestrator Metrics (pkg/backfill):
//   - backfill_runs_total{status} (Counter): Completed runs by final status (success, failed)
//   - backfill_games_processed_total{result} (Counter): Per-attempt game outcomes
//   - backfill_checkpoint_saves_total (Counter): Durable checkpoint saves
//
// Stats API Metrics (pkg/nbaclient):
//   - stats_api_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - stats_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - stats_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - stats_api_retries_total{error_class} (Counter): Retry attempts by error class
//   - stats_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//
// Storage Metrics (pkg/checkpoint, pkg/sink):
//   - backfill_checkpoint_errors_total{backend, operation} (Counter): Checkpoint store errors
//   - backfill_checkpoint_bytes{backend} (Gauge): Size of the most recent checkpoint
//   - backfill_sink_bytes_total (Counter): Payload bytes written to the sink
//
// Example Prometheus Queries:
//
//   # Current pacing delay
//   backfill_rate_limit_current_delay_seconds
//
//   # Rate-limit pressure
//   rate(backfill_rate_limit_backoffs_total[5m])
//
//   # Run progress
//   backfill_games{status="completed"} / ignoring(status) sum(backfill_games)
//
//   # P95 stats API latency
//   histogram_quantile(0.95, rate(stats_api_request_duration_seconds_bucket[5m]))
//
//   # API error rate by class
//   rate(stats_api_errors_total[5m])
