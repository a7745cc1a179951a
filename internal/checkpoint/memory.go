package checkpoint

import (
	"context"
	"go-supervisor/pkg/models"
	"sync"
	"time"
)

// Memory is an in-process Store. Records are deep-copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]models.Checkpoint
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]models.Checkpoint)}
}

func (m *Memory) Create(ctx context.Context, cp models.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[cp.RunID]; ok {
		return ErrExists
	}
	m.runs[cp.RunID] = cp.Clone()
	return nil
}

func (m *Memory) Put(ctx context.Context, cp models.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[cp.RunID] = cp.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, runID string) (models.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return models.Checkpoint{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.runs[runID]
	if !ok {
		return models.Checkpoint{}, ErrNotFound
	}
	return cp.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, cp := range m.runs {
		if cp.Status.Terminal() && cp.UpdatedAt.Before(before) {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error {
	return nil
}
