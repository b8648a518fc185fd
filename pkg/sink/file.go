// Package sink stores fetched dataset payloads. Writes are idempotent
// overwrites: the backfill guarantees at-least-once delivery, so a
// re-fetched dataset simply replaces the previous file.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sinkBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "backfill_sink_bytes_total",
	Help: "Total payload bytes written to the sink",
})

// FileSink writes payloads as JSON files under
// {root}/{season}/{gameID}/{dataset}.json.
type FileSink struct {
	root   string
	season string
}

// NewFileSink creates a file sink for one season under the given root.
func NewFileSink(root, season string) (*FileSink, error) {
	if root == "" {
		return nil, fmt.Errorf("sink root directory is required")
	}
	if season == "" {
		return nil, fmt.Errorf("season is required")
	}
	if err := os.MkdirAll(filepath.Join(root, season), 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &FileSink{root: root, season: season}, nil
}

// Write stores one payload and returns the number of bytes written.
func (s *FileSink) Write(ctx context.Context, gameID, dataset string, payload []byte) (int64, error) {
	dir := filepath.Join(s.root, s.season, gameID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create game directory: %w", err)
	}

	target := filepath.Join(dir, dataset+".json")
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return 0, fmt.Errorf("write dataset file: %w", err)
	}

	sinkBytesTotal.Add(float64(len(payload)))
	return int64(len(payload)), nil
}

// Path returns where a dataset payload would be stored, for diagnostics.
func (s *FileSink) Path(gameID, dataset string) string {
	return filepath.Join(s.root, s.season, gameID, dataset+".json")
}
