package worker

import (
	"context"
	"sort"
	"strings"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// LPPosition is one potential forgotten liquidity or staking position
type LPPosition struct {
	Contract string `json:"contract"`
	Label    string `json:"label,omitempty"`
	Method   string `json:"method"`
}

// lpStakeMethods are the entry points that indicate a position was opened
var lpStakeMethods = map[string]struct{}{
	"addLiquidity":    {},
	"addLiquidityETH": {},
	"stake":           {},
	"deposit":         {},
}

// HandleLPStake scans the wallet's outgoing transactions for liquidity and
// staking entry points and records the distinct destination contracts as
// potential forgotten positions.
func (p *Pipeline) HandleLPStake(ctx context.Context, job *types.AnalysisJob) error {
	wallet, err := p.wallets.GetByID(ctx, job.WalletID)
	if err != nil {
		return err
	}

	txs, err := p.txs.ListByStream(ctx, wallet.ID, types.StreamNormal)
	if err != nil {
		return err
	}

	byContract := make(map[string]*LPPosition)
	for _, tx := range txs {
		if !tx.IsFrom(wallet.Address) || tx.To == "" {
			continue
		}
		call := p.reader.ParseInput(tx.Input)
		if call == nil {
			continue
		}
		if _, ok := lpStakeMethods[call.Name]; !ok {
			continue
		}

		contract := strings.ToLower(tx.To)
		if _, ok := byContract[contract]; !ok {
			byContract[contract] = &LPPosition{Contract: contract, Method: call.Name}
		}
	}

	positions := make([]*LPPosition, 0, len(byContract))
	addresses := make([]string, 0, len(byContract))
	for _, position := range byContract {
		positions = append(positions, position)
		addresses = append(addresses, position.Contract)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Contract < positions[j].Contract })

	if len(addresses) > 0 {
		labels := p.labels.ResolveAll(ctx, addresses, wallet.Chain)
		for _, position := range positions {
			position.Label = labelOrUnknown(labels, position.Contract)
		}
	}

	return p.reports.UpsertSection(ctx, wallet.ID, "lpStake", map[string]any{
		"positions": positions,
	})
}
