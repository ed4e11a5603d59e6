package worker

import (
	"context"
	"time"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// HandleFullScan is the no-op orchestrator: it stamps the scan time and
// enqueues the transaction fetch.
func (p *Pipeline) HandleFullScan(ctx context.Context, job *types.AnalysisJob) error {
	if err := p.wallets.StampLastScan(ctx, job.WalletID, time.Now()); err != nil {
		return err
	}
	_, err := p.queue.Enqueue(ctx, job.WalletID, types.TaskFetchTransactions, nil)
	return err
}

// fetchReport records per-stream fetch outcomes in the report so partial
// failures stay visible.
type fetchReport struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Counts    map[string]int    `json:"counts"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// HandleFetchTransactions runs the per-stream fetch: an initial scan sorted
// descending capped at the configured maximum, or an incremental ascending
// fetch from watermark+1. A failing stream records its error and never
// blocks the other streams. On completion the four analyzers are enqueued.
func (p *Pipeline) HandleFetchTransactions(ctx context.Context, job *types.AnalysisJob) error {
	wallet, err := p.wallets.GetByID(ctx, job.WalletID)
	if err != nil {
		return err
	}

	report := fetchReport{
		FetchedAt: time.Now(),
		Counts:    make(map[string]int),
		Errors:    make(map[string]string),
	}

	for _, stream := range types.Streams() {
		count, err := p.fetchStream(ctx, wallet, stream)
		if err != nil {
			p.log.WithError(err).WithFields(map[string]any{
				"walletId": wallet.ID,
				"stream":   stream,
			}).Warn("stream fetch failed")
			report.Errors[string(stream)] = err.Error()
			continue
		}
		report.Counts[string(stream)] = count
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}

	if err := p.reports.UpsertSection(ctx, wallet.ID, "fetch", report); err != nil {
		p.log.WithError(err).Warn("failed to record fetch report")
	}

	return p.queue.EnqueueAnalyzers(ctx, wallet.ID)
}

// fetchStream fetches one stream and advances its watermark to the highest
// block seen. The watermark update uses GREATEST underneath, so it is
// monotone non-decreasing by construction.
func (p *Pipeline) fetchStream(ctx context.Context, wallet *types.Wallet, stream types.Stream) (int, error) {
	watermark := wallet.Watermark(stream)

	var txs []*types.Transaction
	var err error
	if watermark == 0 {
		txs, err = p.reader.ListTransactions(ctx, wallet.Chain, wallet.Address, stream, 0, "desc", p.initialScanMaxTx)
	} else {
		txs, err = p.reader.ListTransactions(ctx, wallet.Chain, wallet.Address, stream, watermark+1, "asc", 0)
	}
	if err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0, nil
	}

	maxBlock := watermark
	for _, tx := range txs {
		tx.WalletID = wallet.ID
		tx.Stream = stream
		if tx.BlockNumber > maxBlock {
			maxBlock = tx.BlockNumber
		}
	}

	if err := p.txs.Append(ctx, txs); err != nil {
		return 0, err
	}
	if err := p.wallets.AdvanceWatermark(ctx, wallet.ID, stream, maxBlock); err != nil {
		return 0, err
	}
	return len(txs), nil
}
