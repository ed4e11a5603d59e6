// Package scheduler enqueues a full scan for every registered wallet on a
// configurable interval, and sweeps expired telegram link tokens.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// WalletLister enumerates registered wallets; implemented by
// storage.WalletRepository.
type WalletLister interface {
	ListAll(ctx context.Context) ([]*types.Wallet, error)
}

// TokenSweeper removes expired link tokens; implemented by
// storage.LinkTokenRepository. Optional.
type TokenSweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Scheduler drives the periodic scan cycle
type Scheduler struct {
	cron     *cron.Cron
	wallets  WalletLister
	queue    *queue.Queue
	tokens   TokenSweeper
	interval time.Duration
	log      *logrus.Entry
}

// New creates a scheduler; tokens may be nil
func New(wallets WalletLister, q *queue.Queue, tokens TokenSweeper, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		wallets:  wallets,
		queue:    q,
		tokens:   tokens,
		interval: interval,
		log:      logging.Component("scheduler"),
	}
}

// Start registers the periodic jobs and begins the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.EnqueueAllScans(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule scan cycle: %w", err)
	}

	if s.tokens != nil {
		if _, err := s.cron.AddFunc("@every 1m", func() { s.sweepTokens(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule token sweep: %w", err)
		}
	}

	s.cron.Start()
	s.log.WithField("interval", s.interval).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// EnqueueAllScans enqueues a full_scan job for every registered wallet. A
// wallet that fails to enqueue is logged and skipped; the rest of the cycle
// continues.
func (s *Scheduler) EnqueueAllScans(ctx context.Context) {
	wallets, err := s.wallets.ListAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list wallets for scan cycle")
		return
	}

	enqueued := 0
	for _, wallet := range wallets {
		if _, err := s.queue.Enqueue(ctx, wallet.ID, types.TaskFullScan, nil); err != nil {
			s.log.WithError(err).WithField("walletId", wallet.ID).Warn("failed to enqueue full scan")
			continue
		}
		enqueued++
	}

	s.log.WithField("enqueued", enqueued).Info("scan cycle enqueued")
}

func (s *Scheduler) sweepTokens(ctx context.Context) {
	if n, err := s.tokens.DeleteExpired(ctx); err != nil {
		s.log.WithError(err).Warn("token sweep failed")
	} else if n > 0 {
		s.log.WithField("deleted", n).Debug("expired link tokens removed")
	}
}
