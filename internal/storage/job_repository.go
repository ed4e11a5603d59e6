package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// JobRepository persists analysis jobs and implements the atomic FIFO claim.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new analysis job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue creates a pending job for a wallet
func (r *JobRepository) Enqueue(ctx context.Context, walletID string, taskType types.TaskType, payload map[string]any) (*types.AnalysisJob, error) {
	job := &types.AnalysisJob{
		ID:       uuid.NewString(),
		WalletID: walletID,
		TaskType: taskType,
		Status:   types.JobPending,
		Payload:  payload,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO analysis_jobs (id, wallet_id, task_type, status, attempts, payload, created_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, now())
		RETURNING created_at
	`
	err = r.db.Pool().QueryRow(ctx, query, job.ID, walletID, taskType, payloadJSON).Scan(&job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the oldest pending job of the given type.
// The claim is a single compare-and-set UPDATE; a read-then-write would
// violate the exactly-once-claim invariant. Returns nil when no job is
// pending.
func (r *JobRepository) ClaimNext(ctx context.Context, taskType types.TaskType) (*types.AnalysisJob, error) {
	query := `
		UPDATE analysis_jobs
		SET status = 'processing', processed_at = now(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM analysis_jobs
			WHERE task_type = $1 AND status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, wallet_id, task_type, status, attempts, payload, created_at, processed_at
	`

	var job types.AnalysisJob
	var payloadJSON []byte
	err := r.db.Pool().QueryRow(ctx, query, taskType).Scan(
		&job.ID,
		&job.WalletID,
		&job.TaskType,
		&job.Status,
		&job.Attempts,
		&payloadJSON,
		&job.CreatedAt,
		&job.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
		}
	}
	return &job, nil
}

// Complete marks a job as completed
func (r *JobRepository) Complete(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, types.JobCompleted)
}

// Fail marks a job as failed. Failed jobs are not retried automatically;
// the next scheduled full scan re-runs the analyzer.
func (r *JobRepository) Fail(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, types.JobFailed)
}

func (r *JobRepository) finish(ctx context.Context, jobID string, status types.JobStatus) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE analysis_jobs SET status = $2 WHERE id = $1`, jobID, status)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}
	return nil
}

// CountByStatus returns job counts grouped by status
func (r *JobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT status, count(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status types.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
