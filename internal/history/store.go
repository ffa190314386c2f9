// Package history keeps the durable log of feeder runs. Every
// (job, file) attempt lands here with its row counts, artifacts, and
// final watermark, so operators can answer "what did last night's run
// do" without trawling logs.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Run statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Run is one processing attempt of one file.
type Run struct {
	ID           string
	Job          string
	File         string
	Status       string
	StartedAt    time.Time
	FinishedAt   time.Time
	RowsRead     int
	RowsKept     int
	RowsRejected int
	FilteredOld  int
	Artifacts    []string
	Watermark    string
	Error        string
}

// Store provides durable storage for the run log. SQLite in WAL mode,
// single writer.
type Store struct {
	db *sql.DB
}

// Open creates or opens the run-log database at path, applying pragmas
// and the schema. Idempotent.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history db: %w", err)
	}

	// SQLite supports one writer at a time; a second connection would
	// only produce SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for the status API's ad-hoc reads.
func (s *Store) DB() *sql.DB { return s.db }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Record inserts a finished run, assigning it an ID when empty.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	artifacts, err := json.Marshal(run.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job, file, status, started_at, finished_at,
		 rows_read, rows_kept, rows_rejected, filtered_old, artifacts, watermark, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Job, run.File, run.Status, run.StartedAt, run.FinishedAt,
		run.RowsRead, run.RowsKept, run.RowsRejected, run.FilteredOld,
		string(artifacts), run.Watermark, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, job, file, status, started_at, finished_at,
	rows_read, rows_kept, rows_rejected, filtered_old, artifacts, watermark, error`

// ListByJob returns a job's runs, newest first.
func (s *Store) ListByJob(ctx context.Context, job string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE job = ?
		 ORDER BY started_at DESC, id LIMIT ?`, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Recent returns the latest runs across all jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LastRun returns a job's most recent run, or false when the job has
// never run.
func (s *Store) LastRun(ctx context.Context, job string) (Run, bool, error) {
	runs, err := s.ListByJob(ctx, job, 1)
	if err != nil {
		return Run{}, false, err
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var artifacts string
		if err := rows.Scan(
			&r.ID, &r.Job, &r.File, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.RowsRead, &r.RowsKept, &r.RowsRejected, &r.FilteredOld,
			&artifacts, &r.Watermark, &r.Error,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(artifacts), &r.Artifacts); err != nil {
			r.Artifacts = nil
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
