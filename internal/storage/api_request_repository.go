package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// APIRequestRepository persists gateway requests. The gateway is the only
// writer once a record leaves pending; claims stamp a processing id so stale
// holders can be reaped.
type APIRequestRepository struct {
	db *PostgresDB
}

// NewAPIRequestRepository creates a new API request repository
func NewAPIRequestRepository(db *PostgresDB) *APIRequestRepository {
	return &APIRequestRepository{db: db}
}

// Create persists a new pending request and returns its id
func (r *APIRequestRepository) Create(ctx context.Context, provider types.Provider, requestData map[string]any) (string, error) {
	id := uuid.NewString()
	dataJSON, err := json.Marshal(requestData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request data: %w", err)
	}

	query := `
		INSERT INTO api_requests (id, provider, request_data, status, attempts, created_at)
		VALUES ($1, $2, $3, 'pending', 0, now())
	`
	if _, err := r.db.Pool().Exec(ctx, query, id, provider, dataJSON); err != nil {
		return "", fmt.Errorf("failed to create api request: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the oldest dispatchable pending request for a
// provider: status pending and retry_at unset or due. The claim increments
// attempts and stamps the processing id in the same statement.
func (r *APIRequestRepository) ClaimNext(ctx context.Context, provider types.Provider, processingID string) (*types.APIRequest, error) {
	query := `
		UPDATE api_requests
		SET status = 'processing', processing_id = $2, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM api_requests
			WHERE provider = $1 AND status = 'pending'
			  AND (retry_at IS NULL OR retry_at <= now())
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, provider, request_data, status, attempts, processing_id,
			retry_at, result, error, created_at, completed_at
	`

	var req types.APIRequest
	var dataJSON []byte
	err := r.db.Pool().QueryRow(ctx, query, provider, processingID).Scan(
		&req.ID,
		&req.Provider,
		&dataJSON,
		&req.Status,
		&req.Attempts,
		&req.ProcessingID,
		&req.RetryAt,
		&req.Result,
		&req.Error,
		&req.CreatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim api request: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &req.RequestData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
		}
	}
	return &req, nil
}

// CompletedSince counts requests for a provider completed within the rolling
// window ending now. Backs the three rate-limit windows.
func (r *APIRequestRepository) CompletedSince(ctx context.Context, provider types.Provider, window time.Duration) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM api_requests
		 WHERE provider = $1 AND completed_at >= now() - ($2::float8 * interval '1 second')`,
		provider, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed requests: %w", err)
	}
	return count, nil
}

// Requeue returns a failed attempt to pending with a backoff deadline,
// preserving the error text for diagnostics.
func (r *APIRequestRepository) Requeue(ctx context.Context, id string, retryAt time.Time, errText string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE api_requests
		 SET status = 'pending', processing_id = NULL, retry_at = $2, error = $3
		 WHERE id = $1`,
		id, retryAt, errText)
	if err != nil {
		return fmt.Errorf("failed to requeue api request: %w", err)
	}
	return nil
}

// Finalize terminates a request as completed or failed and stamps
// completed_at. completed_at drives the rate-limit windows, so it is set for
// failures too.
func (r *APIRequestRepository) Finalize(ctx context.Context, id string, status types.RequestStatus, result, errText *string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE api_requests
		 SET status = $2, result = $3, error = $4, completed_at = now()
		 WHERE id = $1`,
		id, status, result, errText)
	if err != nil {
		return fmt.Errorf("failed to finalize api request: %w", err)
	}
	return nil
}

// ReapStale returns processing records older than the lease to pending (or
// failed once attempts are exhausted). Covers gateway instances that died
// mid-dispatch; the processing_id stamp makes the records identifiable.
func (r *APIRequestRepository) ReapStale(ctx context.Context, lease time.Duration, maxAttempts int) (int, error) {
	cutoff := time.Now().Add(-lease)

	failed, err := r.db.Pool().Exec(ctx,
		`UPDATE api_requests
		 SET status = 'failed', error = coalesce(error, 'reaped: stale processing claim'), completed_at = now()
		 WHERE status = 'processing' AND processing_id IS NOT NULL
		   AND created_at < $1 AND attempts >= $2`,
		cutoff, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to reap exhausted requests: %w", err)
	}

	requeued, err := r.db.Pool().Exec(ctx,
		`UPDATE api_requests
		 SET status = 'pending', processing_id = NULL, retry_at = now()
		 WHERE status = 'processing' AND processing_id IS NOT NULL
		   AND created_at < $1 AND attempts < $2`,
		cutoff, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale requests: %w", err)
	}

	return int(failed.RowsAffected() + requeued.RowsAffected()), nil
}

// QueueStats is the operator view of the request queue
type QueueStats struct {
	CountsByStatus   map[types.RequestStatus]int `json:"countsByStatus"`
	CompletedLast5m  int                         `json:"completedLast5m"`
	EstimatedDrainSeconds float64                `json:"estimatedDrainSeconds"`
}

// Stats returns counts by status, completions in the last five minutes, and
// the estimated time to drain = pending / (completed_last_5_min / 300).
func (r *APIRequestRepository) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{CountsByStatus: make(map[types.RequestStatus]int)}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT status, count(*) FROM api_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status types.RequestStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan request count: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM api_requests WHERE completed_at >= now() - interval '5 minutes'`,
	).Scan(&stats.CompletedLast5m)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent completions: %w", err)
	}

	pending := stats.CountsByStatus[types.RequestPending]
	if stats.CompletedLast5m > 0 {
		stats.EstimatedDrainSeconds = float64(pending) / (float64(stats.CompletedLast5m) / 300.0)
	}

	return stats, nil
}
