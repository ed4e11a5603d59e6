// Package queue exposes the durable analysis task queue. Jobs are keyed by
// (wallet, task type); the claim is atomic, so starting several workers per
// task type stays safe.
package queue

import (
	"context"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// Store is the persistence surface of the queue; implemented by
// storage.JobRepository and faked in tests.
type Store interface {
	Enqueue(ctx context.Context, walletID string, taskType types.TaskType, payload map[string]any) (*types.AnalysisJob, error)
	ClaimNext(ctx context.Context, taskType types.TaskType) (*types.AnalysisJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string) error
	CountByStatus(ctx context.Context) (map[types.JobStatus]int, error)
}

// Queue is the durable FIFO of typed analysis jobs
type Queue struct {
	store Store
}

// New creates a queue over the given store
func New(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue adds a pending job for a wallet
func (q *Queue) Enqueue(ctx context.Context, walletID string, taskType types.TaskType, payload map[string]any) (*types.AnalysisJob, error) {
	return q.store.Enqueue(ctx, walletID, taskType, payload)
}

// EnqueueAnalyzers fans out the four post-fetch analyzer jobs for a wallet.
// Failures are returned but the caller typically logs and continues; a
// failing sibling never blocks the others.
func (q *Queue) EnqueueAnalyzers(ctx context.Context, walletID string) error {
	var firstErr error
	for _, task := range types.AnalyzerTasks() {
		if _, err := q.store.Enqueue(ctx, walletID, task, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClaimNext atomically claims the oldest pending job of a type; nil when
// none is pending.
func (q *Queue) ClaimNext(ctx context.Context, taskType types.TaskType) (*types.AnalysisJob, error) {
	return q.store.ClaimNext(ctx, taskType)
}

// Complete marks a job completed
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.store.Complete(ctx, jobID)
}

// Fail marks a job failed; reprocessing happens on the next scheduled scan
func (q *Queue) Fail(ctx context.Context, jobID string) error {
	return q.store.Fail(ctx, jobID)
}

// CountByStatus reports queue depth by status for the ops surface
func (q *Queue) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	return q.store.CountByStatus(ctx)
}
