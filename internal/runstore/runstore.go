// Package runstore keeps training runs and their metrics in a sqlite
// file so runs can be compared after the fact.
package runstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Run is one training run.
type Run struct {
	ID      string
	Name    string
	Created time.Time
	Config  string // JSON of the trainer config
}

// Metric is one logged interval of a run.
type Metric struct {
	RunID    string
	Update   int
	Frames   int
	Obs      float64
	Rew      float64
	KL       float64
	Total    float64
	GradNorm float64
	Recorded time.Time
}

// Store wraps the sqlite database.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var errClosed = errors.New("runstore: closed")

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "runstore: open")
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			config TEXT
		);

		CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL,
			"update" INTEGER NOT NULL,
			frames INTEGER NOT NULL,
			obs_loss REAL NOT NULL,
			rew_loss REAL NOT NULL,
			kl_loss REAL NOT NULL,
			total_loss REAL NOT NULL,
			grad_norm REAL NOT NULL,
			recorded_at INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id, "update");
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "runstore: schema")
	}
	return nil
}

// CreateRun registers a run.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, created_at, config) VALUES (?, ?, ?, ?)
	`, r.ID, r.Name, r.Created.UnixNano(), r.Config)
	return errors.Wrap(err, "runstore: create run")
}

// Record appends one metric row.
func (s *Store) Record(ctx context.Context, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (run_id, "update", frames, obs_loss, rew_loss, kl_loss, total_loss, grad_norm, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.Update, m.Frames, m.Obs, m.Rew, m.KL, m.Total, m.GradNorm, m.Recorded.UnixNano())
	return errors.Wrap(err, "runstore: record")
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, config FROM runs ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "runstore: runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdNs int64
		var config sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &createdNs, &config); err != nil {
			return nil, errors.WithStack(err)
		}
		r.Created = time.Unix(0, createdNs)
		r.Config = config.String
		runs = append(runs, r)
	}
	return runs, errors.WithStack(rows.Err())
}

// Metrics lists a run's metrics in update order.
func (s *Store) Metrics(ctx context.Context, runID string) ([]Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, "update", frames, obs_loss, rew_loss, kl_loss, total_loss, grad_norm, recorded_at
		FROM metrics WHERE run_id = ? ORDER BY "update" ASC
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "runstore: metrics")
	}
	defer rows.Close()

	var ms []Metric
	for rows.Next() {
		var m Metric
		var recordedNs int64
		if err := rows.Scan(&m.RunID, &m.Update, &m.Frames, &m.Obs, &m.Rew, &m.KL, &m.Total, &m.GradNorm, &recordedNs); err != nil {
			return nil, errors.WithStack(err)
		}
		m.Recorded = time.Unix(0, recordedNs)
		ms = append(ms, m)
	}
	return ms, errors.WithStack(rows.Err())
}

// Close closes the store. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.WithStack(s.db.Close())
}
