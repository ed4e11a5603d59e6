package worker

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/txMaestro/web3safetykit/internal/notify"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// longLivedPermitHorizon marks EIP-2612 deadlines more than a year out
const longLivedPermitHorizon = 365 * 24 * time.Hour

// ApprovalRecord is one confirmed standing approval in the report
type ApprovalRecord struct {
	Kind           string         `json:"kind"` // erc20 | nft | permit | permit2
	Token          string         `json:"token"`
	TokenLabel     string         `json:"tokenLabel,omitempty"`
	Spender        string         `json:"spender,omitempty"`
	SpenderLabel   string         `json:"spenderLabel,omitempty"`
	Amount         string         `json:"amount,omitempty"`
	IsUnlimited    bool           `json:"isUnlimited,omitempty"`
	LongLived      bool           `json:"longLived,omitempty"`
	Deadline       int64          `json:"deadline,omitempty"`
	Severity       types.Severity `json:"severity"`
	RevokeCalldata string         `json:"revokeCalldata,omitempty"`
	Fingerprint    string         `json:"fingerprint"`
}

// approvalIntent is the reconstructed latest intent for a (token, spender)
// pair before on-chain confirmation.
type approvalIntent struct {
	kind     string
	token    string
	spender  string
	deadline int64
}

// HandleApprovals scans the wallet's outgoing transactions for approval
// intents, confirms each surviving intent on-chain, writes the approvals
// report section, notifies new findings, and replaces the approval
// fingerprint state.
func (p *Pipeline) HandleApprovals(ctx context.Context, job *types.AnalysisJob) error {
	wallet, err := p.wallets.GetByID(ctx, job.WalletID)
	if err != nil {
		return err
	}

	txs, err := p.txs.ListByStream(ctx, wallet.ID, types.StreamNormal)
	if err != nil {
		return err
	}

	intents := p.reconstructIntents(wallet, txs)
	records := p.confirmIntents(ctx, wallet, intents)

	p.decorateApprovals(ctx, wallet.Chain, records)

	if err := p.reports.UpsertSection(ctx, wallet.ID, "approvals", map[string]any{
		"approvals": records,
	}); err != nil {
		return err
	}

	fingerprints := make([]string, 0, len(records))
	alerts := make([]notify.Alert, 0, len(records))
	for _, record := range records {
		fingerprints = append(fingerprints, record.Fingerprint)
		alerts = append(alerts, approvalAlert(record))
	}

	p.notifier.Publish(ctx, wallet.UserID, wallet.ApprovalFingerprints, alerts, types.SeverityMedium)

	return p.wallets.SaveApprovalFingerprints(ctx, wallet.ID, fingerprints)
}

// reconstructIntents replays approval calls in block order, keeping the
// latest intent per (token, spender). setApprovalForAll(op, false) removes
// the pair.
func (p *Pipeline) reconstructIntents(wallet *types.Wallet, txs []*types.Transaction) map[string]*approvalIntent {
	intents := make(map[string]*approvalIntent)

	for _, tx := range txs {
		if !tx.IsFrom(wallet.Address) || tx.To == "" {
			continue
		}
		call := p.reader.ParseInput(tx.Input)
		if call == nil {
			continue
		}

		target := strings.ToLower(tx.To)
		switch call.Name {
		case "approve":
			spender, ok := call.Args["spender"].(common.Address)
			if !ok {
				continue
			}
			key := "erc20:" + target + ":" + strings.ToLower(spender.Hex())
			intents[key] = &approvalIntent{kind: "erc20", token: target, spender: strings.ToLower(spender.Hex())}

		case "setApprovalForAll":
			operator, ok := call.Args["operator"].(common.Address)
			if !ok {
				continue
			}
			approved, _ := call.Args["approved"].(bool)
			key := "nft:" + target + ":" + strings.ToLower(operator.Hex())
			if approved {
				intents[key] = &approvalIntent{kind: "nft", token: target, spender: strings.ToLower(operator.Hex())}
			} else {
				delete(intents, key)
			}

		case "permit":
			spender, ok := call.Args["spender"].(common.Address)
			if !ok {
				continue
			}
			var deadline int64
			if d, ok := call.Args["deadline"].(*big.Int); ok {
				deadline = d.Int64()
			}
			key := "permit:" + target + ":" + strings.ToLower(spender.Hex())
			intents[key] = &approvalIntent{kind: "permit", token: target, spender: strings.ToLower(spender.Hex()), deadline: deadline}

		case "permitTransferFrom", "permitWitnessTransferFrom", "permitBatchTransferFrom", "permit2Approve":
			key := "permit2:" + target
			intents[key] = &approvalIntent{kind: "permit2", token: target}
		}
	}

	return intents
}

// confirmIntents performs the on-chain confirmation read for each surviving
// intent and builds the report records. Failed reads resolve to zero values
// and silently drop the intent.
func (p *Pipeline) confirmIntents(ctx context.Context, wallet *types.Wallet, intents map[string]*approvalIntent) []*ApprovalRecord {
	var records []*ApprovalRecord

	for _, intent := range intents {
		switch intent.kind {
		case "erc20":
			allowance := p.reader.Allowance(ctx, wallet.Chain, intent.token, wallet.Address, intent.spender)
			if allowance.Sign() <= 0 {
				continue
			}
			unlimited := allowance.Cmp(maxUint256()) == 0
			severity := types.SeverityMedium
			if unlimited {
				severity = types.SeverityHigh
			}
			records = append(records, &ApprovalRecord{
				Kind:           "erc20",
				Token:          intent.token,
				Spender:        intent.spender,
				Amount:         p.formatAmount(ctx, wallet.Chain, intent.token, allowance, unlimited),
				IsUnlimited:    unlimited,
				Severity:       severity,
				RevokeCalldata: p.reader.Codec().RevokeERC20Calldata(common.HexToAddress(intent.spender)),
				Fingerprint:    fmt.Sprintf("erc20-%s-%s", intent.token, intent.spender),
			})

		case "nft":
			if !p.reader.IsApprovedForAll(ctx, wallet.Chain, intent.token, wallet.Address, intent.spender) {
				continue
			}
			records = append(records, &ApprovalRecord{
				Kind:           "nft",
				Token:          intent.token,
				Spender:        intent.spender,
				Severity:       types.SeverityHigh,
				RevokeCalldata: p.reader.Codec().RevokeOperatorCalldata(common.HexToAddress(intent.spender)),
				Fingerprint:    fmt.Sprintf("nft-%s-%s", intent.token, intent.spender),
			})

		case "permit":
			longLived := intent.deadline > time.Now().Add(longLivedPermitHorizon).Unix()
			severity := types.SeverityInformational
			if longLived {
				severity = types.SeverityMedium
			}
			records = append(records, &ApprovalRecord{
				Kind:        "permit",
				Token:       intent.token,
				Spender:     intent.spender,
				LongLived:   longLived,
				Deadline:    intent.deadline,
				Severity:    severity,
				Fingerprint: fmt.Sprintf("permit-%s-%s", intent.token, intent.spender),
			})

		case "permit2":
			records = append(records, &ApprovalRecord{
				Kind:        "permit2",
				Token:       intent.token,
				Severity:    types.SeverityMedium,
				Fingerprint: fmt.Sprintf("permit2-%s", intent.token),
			})
		}
	}

	return records
}

// decorateApprovals resolves display labels for tokens and spenders
func (p *Pipeline) decorateApprovals(ctx context.Context, chainID types.ChainID, records []*ApprovalRecord) {
	var addresses []string
	for _, record := range records {
		addresses = append(addresses, record.Token)
		if record.Spender != "" {
			addresses = append(addresses, record.Spender)
		}
	}
	if len(addresses) == 0 {
		return
	}

	labels := p.labels.ResolveAll(ctx, addresses, chainID)
	for _, record := range records {
		record.TokenLabel = labelOrUnknown(labels, record.Token)
		if record.Spender != "" {
			record.SpenderLabel = labelOrUnknown(labels, record.Spender)
		}
	}
}

// formatAmount renders an allowance using the token's decimals, falling
// back to 18 when the read fails.
func (p *Pipeline) formatAmount(ctx context.Context, chainID types.ChainID, token string, value *big.Int, unlimited bool) string {
	if unlimited {
		return "unlimited"
	}
	decimals, ok := p.reader.Decimals(ctx, chainID, token)
	if !ok {
		decimals = 18
	}
	return formatTokenAmount(value, decimals)
}

// formatTokenAmount renders value / 10^decimals with trailing zeros trimmed
func formatTokenAmount(value *big.Int, decimals uint8) string {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(value, divisor, new(big.Int))

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := frac.String()
	for len(fracStr) < int(decimals) {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}

func maxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func labelOrUnknown(labels map[string]string, address string) string {
	if label, ok := labels[strings.ToLower(address)]; ok {
		return label
	}
	return "Unknown"
}

// approvalAlert renders the notification for one approval record
func approvalAlert(record *ApprovalRecord) notify.Alert {
	var title string
	switch {
	case record.Kind == "erc20" && record.IsUnlimited:
		title = fmt.Sprintf("Unlimited ERC20 approval granted to %s", displayAddress(record.SpenderLabel, record.Spender))
	case record.Kind == "erc20":
		title = fmt.Sprintf("ERC20 approval of %s granted to %s", record.Amount, displayAddress(record.SpenderLabel, record.Spender))
	case record.Kind == "nft":
		title = fmt.Sprintf("Collection-wide NFT approval granted to %s", displayAddress(record.SpenderLabel, record.Spender))
	case record.Kind == "permit" && record.LongLived:
		title = fmt.Sprintf("Long-lived permit signed for %s", displayAddress(record.SpenderLabel, record.Spender))
	case record.Kind == "permit":
		title = fmt.Sprintf("Permit signed for %s", displayAddress(record.SpenderLabel, record.Spender))
	default:
		title = fmt.Sprintf("Permit2 interaction with %s", displayAddress(record.TokenLabel, record.Token))
	}

	return notify.Alert{
		Fingerprint: record.Fingerprint,
		Severity:    record.Severity,
		Title:       title,
		Body:        fmt.Sprintf("Token: %s", displayAddress(record.TokenLabel, record.Token)),
	}
}

func displayAddress(label, address string) string {
	if label != "" && label != "Unknown" {
		return fmt.Sprintf("%s (%s)", label, address)
	}
	return address
}
