package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/memento-core/daemon/pkg/types"
)

// Enqueue inserts a pending job row (spec.md §4.2 "enqueue").
func (s *Store) Enqueue(ctx context.Context, jobType types.JobType, memoryID string, payload string) (*types.Job, error) {
	id := newID()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_jobs (id, memory_id, job_type, status, payload, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, 0, 3, $5, $5)`,
		id, memoryID, string(jobType), payload, now)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return s.getJob(ctx, id)
}

func (s *Store) getJob(ctx context.Context, id string) (*types.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, jobSelectQuery+" WHERE id = $1", id))
}

const jobSelectQuery = `SELECT id, memory_id, job_type, status, payload, attempts, max_attempts,
	leased_at, leased_by, completed_at, failed_at, error, result, created_at, updated_at
	FROM memory_jobs`

func scanJob(row rowScanner) (*types.Job, error) {
	var j types.Job
	var payload, leasedBy, errMsg, result sql.NullString
	var leasedAt, completedAt, failedAt sql.NullTime
	err := row.Scan(&j.ID, &j.MemoryID, &j.JobType, &j.Status, &payload, &j.Attempts, &j.MaxAttempts,
		&leasedAt, &leasedBy, &completedAt, &failedAt, &errMsg, &result, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload.String
	j.LeasedBy = leasedBy.String
	j.Error = errMsg.String
	j.Result = result.String
	if leasedAt.Valid {
		t := leasedAt.Time
		j.LeasedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		j.FailedAt = &t
	}
	return &j, nil
}

// Lease mirrors internal/store/sqlite.Store.Lease's select-then-update
// sequence. Unlike the sqlite backend, this store's pool holds several
// connections and each jobqueue worker leases concurrently, so the select
// takes FOR UPDATE SKIP LOCKED: two concurrent leases never claim the
// same row.
func (s *Store) Lease(ctx context.Context, workerID string, batch int, leaseTimeout time.Duration) ([]types.Job, error) {
	if batch <= 0 {
		batch = 1
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	staleCutoff := now.Add(-leaseTimeout)
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memory_jobs
		WHERE status = 'pending'
		  AND attempts < max_attempts
		  AND (leased_at IS NULL OR leased_at < $1)
		  AND (available_at IS NULL OR available_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, staleCutoff, now, batch)
	if err != nil {
		return nil, fmt.Errorf("select leasable jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var leased []types.Job
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs
			SET status = 'processing', attempts = attempts + 1, leased_at = $1, leased_by = $2, updated_at = $1
			WHERE id = $3`, now, workerID, id); err != nil {
			return nil, fmt.Errorf("lease job %s: %w", id, err)
		}
		job, err := scanJob(tx.QueryRowContext(ctx, jobSelectQuery+" WHERE id = $1", id))
		if err != nil {
			return nil, err
		}
		leased = append(leased, *job)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return leased, nil
}

// Complete marks a job completed (spec.md §4.2 "complete").
func (s *Store) Complete(ctx context.Context, jobID string, result string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memory_jobs SET status = 'completed', result = $1, completed_at = $2, updated_at = $2 WHERE id = $3`,
		result, now, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// backoffMin, backoffMax, and backoffBase bound the exponential-with-
// jitter retry delay spec.md §4.2 requires, identical to
// internal/store/sqlite's constants.
const (
	backoffMin  = 5 * time.Second
	backoffMax  = 10 * time.Minute
	backoffBase = 2 * time.Second
)

func backoffWithJitter(attempts int) time.Duration {
	d := backoffBase * time.Duration(1<<uint(attempts))
	if d > backoffMax {
		d = backoffMax
	}
	if d < backoffMin {
		d = backoffMin
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	d = d - d/4 + jitter
	if d < backoffMin {
		d = backoffMin
	}
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// Fail records a job failure, moving it to dead once max_attempts is
// reached and otherwise back to pending behind an exponential backoff
// (spec.md §4.2 "fail").
func (s *Store) Fail(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	now := time.Now()
	if job.Attempts >= job.MaxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE memory_jobs SET status = 'dead', error = $1, failed_at = $2, updated_at = $2 WHERE id = $3`,
			errMsg, now, jobID)
		if err != nil {
			return fmt.Errorf("dead-letter job %s: %w", jobID, err)
		}
		return nil
	}

	availableAt := now.Add(backoffWithJitter(job.Attempts))
	_, err = s.db.ExecContext(ctx, `
		UPDATE memory_jobs SET status = 'pending', error = $1, leased_at = NULL, available_at = $2, updated_at = $3 WHERE id = $4`,
		errMsg, availableAt, now, jobID)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}
