// Package worker implements the analysis workers: one poll-claim-process
// loop per task type, with the domain logic for fetching, approval parsing,
// contract analysis, activity metrics, and LP/stake detection.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// Handler processes one claimed job
type Handler func(ctx context.Context, job *types.AnalysisJob) error

// Worker is a single-purpose poll loop for one task type
type Worker struct {
	taskType types.TaskType
	queue    *queue.Queue
	handler  Handler
	poll     time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	log    *logrus.Entry
}

// NewWorker creates a worker for a task type
func NewWorker(taskType types.TaskType, q *queue.Queue, handler Handler, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{
		taskType: taskType,
		queue:    q,
		handler:  handler,
		poll:     poll,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      logging.Component("worker").WithField("taskType", taskType),
	}
}

// Start launches the poll loop
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the loop and waits for it to drain the in-flight job
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stopCh)
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s did not stop in time", w.taskType)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	w.log.Info("worker started")

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.log.Info("worker stopped")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce drains every pending job of this type before sleeping again
func (w *Worker) pollOnce(ctx context.Context) {
	for {
		job, err := w.queue.ClaimNext(ctx, w.taskType)
		if err != nil {
			w.log.WithError(err).Error("claim failed")
			return
		}
		if job == nil {
			return
		}

		w.process(ctx, job)

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process runs the handler; an escaping error marks the job failed without
// automatic retry.
func (w *Worker) process(ctx context.Context, job *types.AnalysisJob) {
	log := w.log.WithFields(logrus.Fields{"jobId": job.ID, "walletId": job.WalletID})

	if err := w.handler(ctx, job); err != nil {
		log.WithError(err).Error("job failed")
		if failErr := w.queue.Fail(ctx, job.ID); failErr != nil {
			log.WithError(failErr).Error("failed to mark job failed")
		}
		return
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		log.WithError(err).Error("failed to mark job completed")
		return
	}
	log.Debug("job completed")
}
