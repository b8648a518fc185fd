// Package checkpoint provides durable blob storage for run state, with
// filesystem and Redis backends.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/courtdata/nba-backfill/pkg/backfill"
)

// Prometheus metrics for checkpoint operations.
var (
	checkpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_checkpoint_errors_total",
		Help: "Checkpoint store errors by backend and operation",
	}, []string{"backend", "operation"})

	checkpointBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backfill_checkpoint_bytes",
		Help: "Size of the most recently written checkpoint by backend",
	}, []string{"backend"})
)

// FileStore persists checkpoints as files under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates a file-backed checkpoint store rooted at dir.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("checkpoint root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Read returns the checkpoint blob at path, or
// backfill.ErrCheckpointNotFound if none has been written.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backfill.ErrCheckpointNotFound
		}
		checkpointErrors.WithLabelValues("file", "read").Inc()
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return data, nil
}

// Write stores the blob at path atomically: the data lands in a temp
// file first and is renamed into place, so a crash mid-write never
// leaves a truncated checkpoint behind.
func (s *FileStore) Write(ctx context.Context, path string, data []byte) error {
	target := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		checkpointErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".checkpoint-*")
	if err != nil {
		checkpointErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		checkpointErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		checkpointErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		checkpointErrors.WithLabelValues("file", "write").Inc()
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}

	checkpointBytes.WithLabelValues("file").Set(float64(len(data)))
	return nil
}
