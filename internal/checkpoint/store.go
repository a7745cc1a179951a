// Package checkpoint persists the GraphState of every run, keyed by run id.
// Each Put replaces the whole record (last writer wins per run).
package checkpoint

import (
	"context"
	"errors"
	"go-supervisor/pkg/models"
	"time"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrExists   = errors.New("checkpoint already exists")
)

// Store is an atomic per-run key/value store for checkpoints.
type Store interface {
	// Create stores the first checkpoint of a run and fails with ErrExists
	// when the run id is taken.
	Create(ctx context.Context, cp models.Checkpoint) error
	Put(ctx context.Context, cp models.Checkpoint) error
	Get(ctx context.Context, runID string) (models.Checkpoint, error)
	Delete(ctx context.Context, runID string) error
	// Prune removes terminal checkpoints last updated before the given time and
	// returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}
