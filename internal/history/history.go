package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"deploy-keeper/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// Store is an append-only log of finished runs backed by a SQLite file.
type Store struct {
	db *sql.DB
}

const createRuns = `CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	target            TEXT NOT NULL,
	operation         TEXT NOT NULL,
	status            TEXT NOT NULL,
	mode              TEXT NOT NULL DEFAULT '',
	backup_snapshot   TEXT NOT NULL DEFAULT '',
	rollback_snapshot TEXT NOT NULL DEFAULT '',
	safety_snapshot   TEXT NOT NULL DEFAULT '',
	failed_stage      TEXT NOT NULL DEFAULT '',
	error_kind        TEXT NOT NULL DEFAULT '',
	started_at        TEXT NOT NULL,
	finished_at       TEXT NOT NULL,
	outcome           TEXT NOT NULL
)`

const createRunsIndex = `CREATE INDEX IF NOT EXISTS runs_target_started ON runs (target, started_at)`

/**
 * Open (or create) the history database
 * @param {string} path - SQLite file, ":memory:" for tests
 * @returns {*Store} Ready store with the runs table created
 */
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// CLI进程和server可能同时写，单连接配合busy_timeout
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createRuns, createRunsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a terminal outcome. Recording the same run twice is an error.
func (s *Store) Record(ctx context.Context, o *models.DeploymentOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, target, operation, status, mode, backup_snapshot, rollback_snapshot,
		 safety_snapshot, failed_stage, error_kind, started_at, finished_at, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Target, o.Operation, string(o.Status), string(o.Mode),
		o.BackupSnapshot, o.RollbackSnapshot, o.SafetySnapshot,
		string(o.FailedStage), o.ErrorKind,
		o.StartedAt.UTC().Format(time.RFC3339Nano), o.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", o.RunID, err)
	}
	return nil
}

/**
 * List recorded runs, newest first
 * @param {string} target - Only runs of this target, empty lists every target
 * @param {int} limit - Maximum rows, <= 0 means 20
 */
func (s *Store) List(ctx context.Context, target string, limit int) ([]models.DeploymentOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT outcome FROM runs`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var result []models.DeploymentOutcome
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o models.DeploymentOutcome
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *Store) Get(ctx context.Context, runID string) (*models.DeploymentOutcome, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var o models.DeploymentOutcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &o, nil
}
