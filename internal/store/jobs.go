package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorgonehq/gorgone/internal/models"
)

// EnqueueJob inserts a pending job. When the job carries an idempotency key
// and a non-terminal job with the same (topic, key) already exists, the
// enqueue is a no-op and the existing job is returned. excludeJobID makes
// that job invisible to the duplicate check: an executing job re-enqueueing
// its own key must schedule its successor, not dedup against itself.
func (s *Store) EnqueueJob(ctx context.Context, job models.Job, excludeJobID string) (models.Job, bool, error) {
	if job.IdempotencyKey != "" {
		if existing, err := s.findNonTerminalJob(ctx, job.Topic, job.IdempotencyKey, excludeJobID); err != nil {
			return models.Job{}, false, err
		} else if existing != nil {
			return *existing, false, nil
		}
	}

	var idem any
	if job.IdempotencyKey != "" {
		idem = job.IdempotencyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, topic, payload, run_after, attempts, max_attempts, idempotency_key, state, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, 'pending', ?)`,
		job.ID, job.Topic, job.Payload, toUnix(job.RunAfter), job.MaxAttempts, idem, toUnix(job.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && job.IdempotencyKey != "" {
			// Concurrent enqueue with the same key won; adopt its job.
			existing, selectErr := s.findNonTerminalJob(ctx, job.Topic, job.IdempotencyKey, excludeJobID)
			if selectErr == nil && existing != nil {
				return *existing, false, nil
			}
		}
		return models.Job{}, false, fmt.Errorf("failed to enqueue job: %w", err)
	}
	job.State = models.JobPending
	return job, true, nil
}

func (s *Store) findNonTerminalJob(ctx context.Context, topic, idempotencyKey, excludeJobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, payload, run_after, attempts, max_attempts,
			COALESCE(idempotency_key, ''), state, lease_until, created_at
		FROM jobs
		WHERE topic = ? AND idempotency_key = ? AND state IN ('pending', 'inflight')
			AND id <> ?`,
		topic, idempotencyKey, excludeJobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// LeaseNextJob claims the oldest runnable pending job on a topic, marking it
// inflight with a lease deadline and bumping its attempt counter. The
// single-row conditional update is atomic under SQLite's writer lock, so at
// most one worker holds a given job.
func (s *Store) LeaseNextJob(ctx context.Context, topic string, now time.Time, lease time.Duration) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 'inflight', lease_until = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE topic = ? AND state = 'pending' AND run_after <= ?
			ORDER BY run_after, id
			LIMIT 1
		)
		RETURNING id, topic, payload, run_after, attempts, max_attempts,
			COALESCE(idempotency_key, ''), state, lease_until, created_at`,
		toUnix(now.Add(lease)), topic, toUnix(now),
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lease job on %s: %w", topic, err)
	}
	return job, nil
}

// CompleteJob marks an inflight job done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'done', lease_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// RetryJob returns a job to pending with a new run-after time.
func (s *Store) RetryJob(ctx context.Context, id string, runAfter time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'pending', lease_until = NULL, run_after = ? WHERE id = ?`,
		toUnix(runAfter), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", id, err)
	}
	return nil
}

// FailJob marks a job terminally failed.
func (s *Store) FailJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'failed', lease_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return nil
}

// ReapExpiredLeases returns inflight jobs with expired leases to pending so
// a crashed worker's jobs are re-delivered (at-least-once). An expired job
// whose key already has a pending successor is marked failed instead: the
// successor supersedes it, and a second pending row would break the per-key
// uniqueness.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reap: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'pending', lease_until = NULL
		WHERE state = 'inflight' AND lease_until < ?
			AND NOT EXISTS (
				SELECT 1 FROM jobs p
				WHERE p.topic = jobs.topic AND p.idempotency_key = jobs.idempotency_key
					AND p.state = 'pending' AND p.id <> jobs.id
			)`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired leases: %w", err)
	}
	affected, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', lease_until = NULL
		WHERE state = 'inflight' AND lease_until < ?`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to retire superseded leases: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reap: %w", err)
	}
	return affected, nil
}

// GetJob loads a job by id, or nil.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, payload, run_after, attempts, max_attempts,
			COALESCE(idempotency_key, ''), state, lease_until, created_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// CountJobs returns job counts by state.
func (s *Store) CountJobs(ctx context.Context) (map[models.JobState]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[models.JobState]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		out[models.JobState(state)] = count
	}
	return out, rows.Err()
}

// PruneTerminalJobs deletes done/failed jobs older than the retention
// window and returns the number deleted.
func (s *Store) PruneTerminalJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE state IN ('done', 'failed') AND created_at < ?`,
		toUnix(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var j models.Job
	var runAfter, createdAt int64
	var state string
	var lease sql.NullInt64
	err := row.Scan(&j.ID, &j.Topic, &j.Payload, &runAfter, &j.Attempts, &j.MaxAttempts,
		&j.IdempotencyKey, &state, &lease, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.RunAfter = fromUnix(runAfter)
	j.CreatedAt = fromUnix(createdAt)
	j.State = models.JobState(state)
	j.LeaseUntil = scanNullableUnix(lease)
	return &j, nil
}
