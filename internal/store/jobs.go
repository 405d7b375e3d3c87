package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artisedge/importer/pkg/types"
)

// Create inserts a new job record in pending status. The caller assigns the
// id; timestamps and version are set here.
func (s *Store) Create(ctx context.Context, j *types.Job) error {
	now := time.Now().UTC()
	j.Status = types.StatusPending
	j.Version = 1
	j.CreatedAt = now
	j.UpdatedAt = now

	query, err := marshalJSON(j.Query)
	if err != nil {
		return err
	}
	options, err := marshalJSON(j.Options)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, status, source, query, options, progress, total_objects,
	version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, 0, 1, ?, ?)`,
		j.ID, j.Status, j.Source, query, options, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get returns the record for id, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns records filtered by status (empty status = all), FIFO by
// creation time.
func (s *Store) List(ctx context.Context, status types.JobStatus) ([]*types.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// NextEligible returns the earliest-created record the scheduler may act on:
// pending, initialized, paused for rate_limit with resume_after due, or a
// record left in initializing/processing by an interrupted run. Exactly one
// engine process runs and it selects between advancements only, so an
// in-flight status seen here is always a stale leftover to resume, never
// live work. Returns (nil, nil) when nothing is eligible.
func (s *Store) NextEligible(ctx context.Context, now time.Time) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE status IN (?, ?, ?, ?)
   OR (status = ? AND pause_reason = ? AND resume_after IS NOT NULL AND resume_after <= ?)
ORDER BY created_at ASC
LIMIT 1`,
		types.StatusPending, types.StatusInitialized,
		types.StatusInitializing, types.StatusProcessing,
		types.StatusPaused, types.PauseRateLimit, now.UTC())

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// Update persists the full record with a compare-and-set on version. On
// success the in-memory record's version is bumped to match the row. A
// concurrent change (e.g. an external cancel) surfaces as
// ErrVersionConflict and the caller must re-read.
func (s *Store) Update(ctx context.Context, j *types.Job) error {
	query, err := marshalJSON(j.Query)
	if err != nil {
		return err
	}
	options, err := marshalJSON(j.Options)
	if err != nil {
		return err
	}
	objectIDs, err := marshalJSON(j.ObjectIDs)
	if err != nil {
		return err
	}
	processedIDs, err := marshalJSON(j.ProcessedIDs)
	if err != nil {
		return err
	}
	failedIDs, err := marshalJSON(j.FailedIDs)
	if err != nil {
		return err
	}
	results, err := marshalJSON(j.Results)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?, query = ?, options = ?, object_ids = ?, processed_ids = ?,
	failed_ids = ?, results = ?, progress = ?, total_objects = ?,
	pause_reason = ?, resume_after = ?, error = ?,
	version = version + 1, updated_at = ?, completed_at = ?
WHERE id = ? AND version = ?`,
		j.Status, query, options, objectIDs, processedIDs,
		failedIDs, results, j.Progress, j.TotalObjects,
		nullableString(string(j.PauseReason)), nullableTime(j.ResumeAfter),
		nullableString(j.Error), now, nullableTime(j.CompletedAt),
		j.ID, j.Version)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		if _, getErr := s.Get(ctx, j.ID); errors.Is(getErr, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return ErrVersionConflict
	}
	j.Version++
	j.UpdatedAt = now
	return nil
}

// ============================================================================
// External control requests (pause / resume / cancel)
// ============================================================================

// RequestPause asks a running job to pause. Valid from initialized or
// processing; the scheduler observes the new status at its next re-read.
func (s *Store) RequestPause(ctx context.Context, id types.JobID) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != types.StatusInitialized && j.Status != types.StatusProcessing {
		return fmt.Errorf("%w: cannot pause job in status %s", ErrInvalidTransition, j.Status)
	}
	j.Status = types.StatusPaused
	j.PauseReason = types.PauseUser
	j.ResumeAfter = nil
	return s.Update(ctx, j)
}

// RequestResume resumes a paused job. For a user pause this re-enters the
// processing loop from the first unattempted id. For a rate_limit pause
// before resume_after it is a no-op (the record is untouched); at or after
// resume_after it transitions to initialized.
func (s *Store) RequestResume(ctx context.Context, id types.JobID, now time.Time) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != types.StatusPaused {
		return fmt.Errorf("%w: cannot resume job in status %s", ErrInvalidTransition, j.Status)
	}
	if j.PauseReason == types.PauseRateLimit && j.ResumeAfter != nil && now.Before(*j.ResumeAfter) {
		return nil
	}
	j.Status = types.StatusInitialized
	j.PauseReason = ""
	j.ResumeAfter = nil
	return s.Update(ctx, j)
}

// RequestCancel cancels a job from any non-terminal status. The record
// becomes failed with a cancellation marker; partial results stay readable.
func (s *Store) RequestCancel(ctx context.Context, id types.JobID) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel job in status %s", ErrInvalidTransition, j.Status)
	}
	j.Status = types.StatusFailed
	j.Error = "canceled by user"
	j.PauseReason = ""
	j.ResumeAfter = nil
	return s.Update(ctx, j)
}

// ============================================================================
// Published-object registry
// ============================================================================

// WasPublished returns the product ref for an object id already published by
// any job, if one exists.
func (s *Store) WasPublished(ctx context.Context, objectID int) (string, bool, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT product_ref FROM published_objects WHERE object_id = ?`, objectID).Scan(&ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return ref, true, nil
}

// MarkPublished records a successful publish. Upserts: a re-publish after a
// crash overwrites the earlier ref.
func (s *Store) MarkPublished(ctx context.Context, objectID int, productRef string, jobID types.JobID) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO published_objects (object_id, product_ref, job_id, published_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(object_id) DO UPDATE SET product_ref = excluded.product_ref,
	job_id = excluded.job_id, published_at = excluded.published_at`,
		objectID, productRef, jobID, time.Now().UTC())
	return err
}

// Stats returns per-status record counts.
func (s *Store) Stats(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.JobStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[types.JobStatus(st)] = n
	}
	return out, rows.Err()
}
