package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// RunStore records job runs in the job_runs table.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts a run, or refreshes it when a redelivered message reuses the id.
func (s *RunStore) StartRun(ctx context.Context, run crawler.JobRun) error {
	query := `
		INSERT INTO job_runs (id, task, target_key, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, started_at = EXCLUDED.started_at,
			finished_at = NULL, error_message = NULL, processed = 0;
	`
	_, err := s.pool.Exec(ctx, query, run.ID, string(run.Task), run.TargetKey, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start job run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run. Runs that were never
// started (expired or rejected before admission) are inserted whole.
func (s *RunStore) FinishRun(ctx context.Context, run crawler.JobRun) error {
	query := `
		INSERT INTO job_runs (id, task, target_key, status, started_at, finished_at, error_message, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at,
			error_message = EXCLUDED.error_message, processed = EXCLUDED.processed;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		run.ID,
		string(run.Task),
		run.TargetKey,
		string(run.Status),
		run.StartedAt,
		run.FinishedAt,
		run.ErrorMessage,
		run.Processed,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.JobRun, error) {
	query := `
		SELECT id, task, target_key, status, started_at, finished_at, error_message, processed
		FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.JobRun
	for rows.Next() {
		var (
			run          crawler.JobRun
			task, status string
		)
		if err := rows.Scan(
			&run.ID,
			&task,
			&run.TargetKey,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.ErrorMessage,
			&run.Processed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.Task = crawler.TaskName(task)
		run.Status = crawler.JobStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}
	return runs, nil
}
