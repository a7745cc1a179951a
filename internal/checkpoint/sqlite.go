package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"go-supervisor/pkg/models"
	_ "modernc.org/sqlite"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	steps      INTEGER NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status_updated ON checkpoints(status, updated_at);
`

// SQLite is a durable Store backed by a single SQLite file.
type SQLite struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenSQLite opens (and creates if needed) the database at path. WAL mode is
// enabled so inspections do not block writers.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{conn: conn, path: path}, nil
}

// Path returns the path to the database file.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Create(ctx context.Context, cp models.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, status, steps, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, cp.RunID, string(cp.Status), cp.Steps, string(body), cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, cp models.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, status, steps, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, cp.RunID, string(cp.Status), cp.Steps, string(body), cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, runID string) (models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.conn.QueryRowContext(ctx, "SELECT body FROM checkpoints WHERE run_id = ?", runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return models.Checkpoint{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLite) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE status IN (?, ?, ?, ?) AND updated_at < ?
	`, string(models.RunDone), string(models.RunEscalated), string(models.RunFailed), string(models.RunAborted), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
