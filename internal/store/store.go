// ============================================================================
// Job Store - persistent Job Records on SQLite
// ============================================================================
//
// Package: internal/store
// Purpose: The single source of truth for job progress. Every meaningful
// engine step is persisted here before the engine moves on, so a process
// restart resumes from the last recorded outcome.
//
// Concurrency model:
//   The scheduler is the only writer during a job's turn, but external
//   pause/resume/cancel requests (the CLI, possibly another process) mutate
//   status concurrently. Every update is therefore a compare-and-set keyed
//   on the record's version column; a conflict means the caller re-reads
//   and re-evaluates instead of overwriting the concurrent change.
//
// ============================================================================

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/artisedge/importer/pkg/types"
)

var (
	// ErrJobNotFound means no record exists for the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrVersionConflict means the record changed since it was read.
	ErrVersionConflict = errors.New("job record version conflict")
	// ErrInvalidTransition means the requested status change is not legal
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is a SQLite-backed job store.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and runs
// migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) runMigrations() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		source        TEXT NOT NULL,
		query         TEXT NOT NULL,         -- JSON
		options       TEXT NOT NULL,         -- JSON
		object_ids    TEXT,                  -- JSON array, write-once
		processed_ids TEXT,                  -- JSON array
		failed_ids    TEXT,                  -- JSON array
		results       TEXT,                  -- JSON array
		progress      INTEGER NOT NULL DEFAULT 0,
		total_objects INTEGER NOT NULL DEFAULT 0,
		pause_reason  TEXT,
		resume_after  TIMESTAMP,
		error         TEXT,
		version       INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		completed_at  TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS published_objects (
		object_id    INTEGER PRIMARY KEY,
		product_ref  TEXT NOT NULL,
		job_id       TEXT NOT NULL,
		published_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ============================================================================
// Row <-> record conversion
// ============================================================================

const jobColumns = `id, status, source, query, options, object_ids, processed_ids,
	failed_ids, results, progress, total_objects, pause_reason, resume_after,
	error, version, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		j                                           types.Job
		query, options                              string
		objectIDs, processedIDs, failedIDs, results sql.NullString
		pauseReason, errText                        sql.NullString
		resumeAfter, completedAt                    sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Status, &j.Source, &query, &options,
		&objectIDs, &processedIDs, &failedIDs, &results,
		&j.Progress, &j.TotalObjects, &pauseReason, &resumeAfter,
		&errText, &j.Version, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(query), &j.Query); err != nil {
		return nil, fmt.Errorf("corrupt query column for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(options), &j.Options); err != nil {
		return nil, fmt.Errorf("corrupt options column for job %s: %w", j.ID, err)
	}
	if err := unmarshalInto(objectIDs, &j.ObjectIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(processedIDs, &j.ProcessedIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(failedIDs, &j.FailedIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(results, &j.Results); err != nil {
		return nil, err
	}
	if pauseReason.Valid {
		j.PauseReason = types.PauseReason(pauseReason.String)
	}
	if errText.Valid {
		j.Error = errText.String
	}
	if resumeAfter.Valid {
		t := resumeAfter.Time
		j.ResumeAfter = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func unmarshalInto(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
