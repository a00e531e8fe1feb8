package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/sqlutil"
)

// Repository is the Postgres-backed job store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const insertJobQuery = `
INSERT INTO scheduled_job (job_id, fire_at, job_type, payload, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'SCHEDULED', now(), now())
ON CONFLICT (job_id) DO UPDATE
SET fire_at = EXCLUDED.fire_at,
    job_type = EXCLUDED.job_type,
    payload = EXCLUDED.payload,
    status = 'SCHEDULED',
    executed_at = NULL,
    failure_reason = NULL,
    updated_at = now()
WHERE scheduled_job.status IN ('EXECUTED', 'FAILED', 'CANCELLED')`

func (r *Repository) Insert(ctx context.Context, job models.ScheduledJob) error {
	res, err := r.db.ExecContext(ctx, insertJobQuery,
		job.JobID,
		job.FireAt,
		string(job.JobType),
		pqtype.NullRawMessage{RawMessage: job.Payload, Valid: len(job.Payload) > 0},
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrJobExists
		}
		return fmt.Errorf("failed to insert scheduled job: %w", err)
	}

	// The upsert only replaces terminal rows; zero rows affected means a
	// non-terminal job with this ID already exists.
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobExists
	}
	return nil
}

const getJobQuery = `
SELECT job_id, fire_at, job_type, payload, status, executed_at, failure_reason, created_at, updated_at
FROM scheduled_job
WHERE job_id = $1`

func (r *Repository) Get(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, getJobQuery, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scheduled job %s not found: %w", jobID, err)
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return job, nil
}

func (r *Repository) MarkExecuted(ctx context.Context, jobID string, at time.Time) (bool, error) {
	return r.markTerminal(ctx,
		`UPDATE scheduled_job SET status = 'EXECUTED', executed_at = $2, updated_at = now()
		 WHERE job_id = $1 AND status = 'SCHEDULED'`,
		jobID, at)
}

func (r *Repository) MarkFailed(ctx context.Context, jobID string, reason string) (bool, error) {
	return r.markTerminal(ctx,
		`UPDATE scheduled_job SET status = 'FAILED', failure_reason = $2, updated_at = now()
		 WHERE job_id = $1 AND status = 'SCHEDULED'`,
		jobID, reason)
}

func (r *Repository) MarkCancelled(ctx context.Context, jobID string) (bool, error) {
	return r.markTerminal(ctx,
		`UPDATE scheduled_job SET status = 'CANCELLED', updated_at = now()
		 WHERE job_id = $1 AND status = 'SCHEDULED'`,
		jobID)
}

func (r *Repository) markTerminal(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update scheduled job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

const listScheduledQuery = `
SELECT job_id, fire_at, job_type, payload, status, executed_at, failure_reason, created_at, updated_at
FROM scheduled_job
WHERE status = 'SCHEDULED'
ORDER BY fire_at`

func (r *Repository) ListScheduled(ctx context.Context) ([]models.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, listScheduledQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

const listScheduledForGameQuery = `
SELECT job_id, fire_at, job_type, payload, status, executed_at, failure_reason, created_at, updated_at
FROM scheduled_job
WHERE status = 'SCHEDULED' AND payload->>'game_id' = $1
ORDER BY fire_at`

func (r *Repository) ListScheduledForGame(ctx context.Context, gameID uuid.UUID) ([]models.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, listScheduledForGameQuery, gameID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs for game: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var (
		job           models.ScheduledJob
		jobType       string
		status        string
		payload       pqtype.NullRawMessage
		executedAt    sql.NullTime
		failureReason sql.NullString
	)
	if err := row.Scan(
		&job.JobID, &job.FireAt, &jobType, &payload, &status,
		&executedAt, &failureReason, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.JobType = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	if payload.Valid {
		job.Payload = payload.RawMessage
	}
	job.ExecutedAt = sqlutil.FromSqlTime(executedAt)
	job.FailureReason = sqlutil.FromSqlStringPtr(failureReason)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled jobs: %w", err)
	}
	return jobs, nil
}
