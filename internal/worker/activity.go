package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/txMaestro/web3safetykit/internal/analyzer"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// ActivityMetrics is the activity report section
type ActivityMetrics struct {
	TransactionCount          int   `json:"transactionCount"`
	FirstTxAt                 int64 `json:"firstTxAt,omitempty"`
	LastTxAt                  int64 `json:"lastTxAt,omitempty"`
	WalletAgeDays             int   `json:"walletAgeDays"`
	UniqueInteractedAddresses int   `json:"uniqueInteractedAddresses"`
}

// HandleActivity computes activity metrics from the normal-transaction
// cache and finalizes the report's risk score over whatever sub-sections
// exist when it runs. The four analyzers race by design; the next scheduled
// scan converges a score computed from a partial report.
func (p *Pipeline) HandleActivity(ctx context.Context, job *types.AnalysisJob) error {
	wallet, err := p.wallets.GetByID(ctx, job.WalletID)
	if err != nil {
		return err
	}

	txs, err := p.txs.ListByStream(ctx, wallet.ID, types.StreamNormal)
	if err != nil {
		return err
	}

	metrics := computeActivityMetrics(wallet.Address, txs, time.Now())

	if err := p.reports.UpsertSection(ctx, wallet.ID, "activity", metrics); err != nil {
		return err
	}

	report, err := p.reports.Get(ctx, wallet.ID)
	if err != nil {
		return err
	}

	input := analyzer.ScoreInput{
		TransactionCount: metrics.TransactionCount,
		WalletAgeDays:    metrics.WalletAgeDays,
	}
	if report != nil {
		countApprovalSections(report.Details, &input)
		countContractSections(report.Details, &input)
	}

	score := analyzer.RiskScore(input)
	summary := fmt.Sprintf(
		"Risk score %d/100: %d unlimited and %d limited approvals, %d unverified and %d risky verified contracts, %d transactions over %d days.",
		score, input.UnlimitedApprovals, input.LimitedApprovals,
		input.UnverifiedContracts, input.VerifiedRiskyContracts,
		metrics.TransactionCount, metrics.WalletAgeDays)

	return p.reports.FinalizeScore(ctx, wallet.ID, score, summary)
}

// computeActivityMetrics derives the wallet activity profile from the
// normal stream.
func computeActivityMetrics(address string, txs []*types.Transaction, now time.Time) *ActivityMetrics {
	metrics := &ActivityMetrics{TransactionCount: len(txs)}
	if len(txs) == 0 {
		return metrics
	}

	self := strings.ToLower(address)
	unique := make(map[string]struct{})
	first, last := txs[0].Timestamp, txs[0].Timestamp

	for _, tx := range txs {
		if tx.Timestamp < first {
			first = tx.Timestamp
		}
		if tx.Timestamp > last {
			last = tx.Timestamp
		}
		for _, counterparty := range []string{strings.ToLower(tx.From), strings.ToLower(tx.To)} {
			if counterparty != "" && counterparty != self {
				unique[counterparty] = struct{}{}
			}
		}
	}

	metrics.FirstTxAt = first
	metrics.LastTxAt = last
	metrics.WalletAgeDays = int(now.Sub(time.Unix(first, 0)).Hours() / 24)
	metrics.UniqueInteractedAddresses = len(unique)
	return metrics
}

// countApprovalSections extracts approval counts from the report details.
// Sections are stored as opaque JSON, so the counts are re-derived here.
func countApprovalSections(details map[string]any, input *analyzer.ScoreInput) {
	section, ok := details["approvals"]
	if !ok {
		return
	}

	var parsed struct {
		Approvals []struct {
			Kind        string `json:"kind"`
			IsUnlimited bool   `json:"isUnlimited"`
		} `json:"approvals"`
	}
	if !reparse(section, &parsed) {
		return
	}

	for _, approval := range parsed.Approvals {
		if approval.Kind != "erc20" {
			continue
		}
		if approval.IsUnlimited {
			input.UnlimitedApprovals++
		} else {
			input.LimitedApprovals++
		}
	}
}

// countContractSections extracts contract bucket counts from the report
func countContractSections(details map[string]any, input *analyzer.ScoreInput) {
	section, ok := details["contracts"]
	if !ok {
		return
	}

	var parsed struct {
		UnverifiedContracts        []json.RawMessage `json:"unverifiedContracts"`
		UnverifiedWithRisks        []json.RawMessage `json:"unverifiedWithRisks"`
		VerifiedContractsWithRisks []json.RawMessage `json:"verifiedContractsWithRisks"`
	}
	if !reparse(section, &parsed) {
		return
	}

	input.UnverifiedContracts = len(parsed.UnverifiedContracts) + len(parsed.UnverifiedWithRisks)
	input.VerifiedRiskyContracts = len(parsed.VerifiedContractsWithRisks)
}

// reparse round-trips an any-typed report section into a concrete shape
func reparse(section any, out any) bool {
	raw, err := json.Marshal(section)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
