// Package runlog records training runs and their per-epoch results in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"siamese-iris/internal/metrics"
	"siamese-iris/internal/runlog/migrations"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Store persists run history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Run is one row of the runs table.
type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         string
	DatasetDir     string
	Device         string
	Config         string
	TrainPairs     int
	TestPairs      int
	ParamCount     int
	CheckpointPath string
}

// RunInfo is what is known when a run starts. Config is stored as JSON.
type RunInfo struct {
	DatasetDir string
	Device     string
	Config     interface{}
	TrainPairs int
	TestPairs  int
	ParamCount int
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite run log and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("run log path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// StartRun inserts a new running run and returns its id.
func (s *Store) StartRun(ctx context.Context, info RunInfo) (string, error) {
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return "", errors.Wrap(err, "encode run config")
	}
	id := uuid.NewString()
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (id, started_at, status, dataset_dir, device, config_json, train_pairs, test_pairs, param_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, toMillis(time.Now()), StatusRunning, info.DatasetDir, info.Device, string(cfg),
		info.TrainPairs, info.TestPairs, info.ParamCount,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	return id, nil
}

// RecordEpoch stores the result of one epoch. Recording the same epoch twice
// replaces the earlier row.
func (s *Store) RecordEpoch(ctx context.Context, runID string, e metrics.Epoch) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR REPLACE INTO epochs (run_id, epoch, lr, train_loss, test_loss, correct, total, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Epoch, e.LR, e.TrainLoss, e.TestLoss, e.Correct, e.Total, e.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrapf(err, "insert epoch %d of run %s", e.Epoch, runID)
	}
	return nil
}

// FinishRun marks a run as ended with status.
func (s *Store) FinishRun(ctx context.Context, runID, status, checkpointPath string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, checkpoint_path = ? WHERE id = ?",
		toMillis(time.Now()), status, checkpointPath, runID,
	)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, started_at, finished_at, status, dataset_dir, device, config_json, train_pairs, test_pairs, param_count, checkpoint_path
FROM runs WHERE id = ?`, runID)
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&r.ID, &started, &finished, &r.Status, &r.DatasetDir, &r.Device, &r.Config,
		&r.TrainPairs, &r.TestPairs, &r.ParamCount, &r.CheckpointPath)
	if err != nil {
		return Run{}, errors.Wrapf(err, "get run %s", runID)
	}
	r.StartedAt = fromMillis(started)
	if finished.Valid {
		r.FinishedAt = fromMillis(finished.Int64)
	}
	return r, nil
}

// Epochs returns the recorded epochs of a run in order.
func (s *Store) Epochs(ctx context.Context, runID string) (metrics.History, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT epoch, lr, train_loss, test_loss, correct, total, duration_ms
FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query epochs of run %s", runID)
	}
	defer rows.Close()

	var h metrics.History
	for rows.Next() {
		var (
			e  metrics.Epoch
			ms int64
		)
		if err := rows.Scan(&e.Epoch, &e.LR, &e.TrainLoss, &e.TestLoss, &e.Correct, &e.Total, &ms); err != nil {
			return nil, errors.Wrap(err, "scan epoch")
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		h = append(h, e)
	}
	return h, errors.Wrap(rows.Err(), "iterate epochs")
}
