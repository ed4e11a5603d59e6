package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/txMaestro/web3safetykit/internal/analyzer"
	"github.com/txMaestro/web3safetykit/internal/notify"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// ContractRecord is one analyzed contract in the report
type ContractRecord struct {
	Address         string                     `json:"address"`
	Label           string                     `json:"label,omitempty"`
	Implementation  string                     `json:"implementation,omitempty"`
	ContractName    string                     `json:"contractName,omitempty"`
	SourceFindings  *analyzer.SourceFindings   `json:"sourceFindings,omitempty"`
	BytecodeFindings *analyzer.BytecodeFindings `json:"bytecodeFindings,omitempty"`
	AISummary       string                     `json:"aiSummary,omitempty"`
	Severity        types.Severity             `json:"severity"`
}

// ContractBuckets is the contracts report section
type ContractBuckets struct {
	UnverifiedContracts        []*ContractRecord `json:"unverifiedContracts"`
	UnverifiedWithRisks        []*ContractRecord `json:"unverifiedWithRisks"`
	VerifiedContractsWithRisks []*ContractRecord `json:"verifiedContractsWithRisks"`
}

// HandleContracts analyzes every distinct interacted contract: proxies are
// resolved through the EIP-1967 slot, verified source goes through the
// keyword tiers and honeypot heuristics, unverified bytecode is scanned for
// risky selectors. The interacted-contract fingerprint state covers the full
// set of addresses so previously seen contracts never re-alert.
func (p *Pipeline) HandleContracts(ctx context.Context, job *types.AnalysisJob) error {
	wallet, err := p.wallets.GetByID(ctx, job.WalletID)
	if err != nil {
		return err
	}

	addresses, err := p.interactedAddresses(ctx, wallet)
	if err != nil {
		return err
	}

	buckets := &ContractBuckets{
		UnverifiedContracts:        []*ContractRecord{},
		UnverifiedWithRisks:        []*ContractRecord{},
		VerifiedContractsWithRisks: []*ContractRecord{},
	}
	var alerts []notify.Alert

	for _, address := range addresses {
		record := p.analyzeContract(ctx, wallet.Chain, address)
		if record == nil {
			continue
		}

		switch {
		case record.SourceFindings != nil && record.SourceFindings.HasRisks():
			buckets.VerifiedContractsWithRisks = append(buckets.VerifiedContractsWithRisks, record)
		case record.BytecodeFindings != nil && record.BytecodeFindings.HasHighRisk():
			buckets.UnverifiedWithRisks = append(buckets.UnverifiedWithRisks, record)
		case record.SourceFindings == nil:
			buckets.UnverifiedContracts = append(buckets.UnverifiedContracts, record)
		default:
			// Verified, nothing risky: not reported
			continue
		}

		if alert := contractAlert(record); alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	p.decorateContracts(ctx, wallet.Chain, buckets)

	if err := p.reports.UpsertSection(ctx, wallet.ID, "contracts", buckets); err != nil {
		return err
	}

	p.notifier.Publish(ctx, wallet.UserID, wallet.ContractFingerprints, alerts, types.SeverityHigh)

	return p.wallets.SaveContractFingerprints(ctx, wallet.ID, addresses)
}

// interactedAddresses returns the distinct lowercase `to` addresses across
// the cached streams, excluding the wallet itself.
func (p *Pipeline) interactedAddresses(ctx context.Context, wallet *types.Wallet) ([]string, error) {
	seen := make(map[string]struct{})
	self := strings.ToLower(wallet.Address)

	for _, stream := range types.Streams() {
		txs, err := p.txs.ListByStream(ctx, wallet.ID, stream)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			to := strings.ToLower(tx.To)
			if to == "" || to == self {
				continue
			}
			seen[to] = struct{}{}
		}
	}

	addresses := make([]string, 0, len(seen))
	for address := range seen {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses, nil
}

// analyzeContract analyzes one address, following the EIP-1967
// implementation when the address is a proxy.
func (p *Pipeline) analyzeContract(ctx context.Context, chainID types.ChainID, address string) *ContractRecord {
	record := &ContractRecord{Address: address, Severity: types.SeverityInformational}

	analyzed := address
	if impl, ok := p.reader.ImplementationAddress(ctx, chainID, address); ok {
		analyzed = strings.ToLower(impl.Hex())
		record.Implementation = analyzed
	}

	source, err := p.reader.GetSourceCode(ctx, chainID, analyzed)
	if err != nil {
		p.log.WithError(err).WithField("address", analyzed).Warn("source fetch failed")
		source = nil
	}

	if source != nil && source.Source != "" {
		record.ContractName = source.ContractName
		record.SourceFindings = analyzer.AnalyzeSource(source.Source)
		record.Severity = record.SourceFindings.Severity()

		if record.SourceFindings.NeedsAISummary() {
			record.AISummary = p.summarizeSource(ctx, analyzed, source.Source)
		}
		return record
	}

	code := p.reader.GetBytecode(ctx, chainID, analyzed)
	record.BytecodeFindings = analyzer.AnalyzeBytecode(code)
	if record.BytecodeFindings.HasHighRisk() {
		record.Severity = types.SeverityHigh
	}
	return record
}

// summarizeSource asks the AI provider, through the gateway, for a short
// risk summary. Failures degrade to no summary.
func (p *Pipeline) summarizeSource(ctx context.Context, address, source string) string {
	const maxSourceChars = 12000
	if len(source) > maxSourceChars {
		source = source[:maxSourceChars]
	}

	prompt := fmt.Sprintf(
		"Summarize the security risks of this smart contract (%s) in 2-3 sentences for a wallet owner who interacted with it:\n\n%s",
		address, source)

	summary, err := p.ai.Submit(ctx, types.ProviderGemini, map[string]any{"prompt": prompt})
	if err != nil {
		p.log.WithError(err).WithField("address", address).Warn("AI summary failed")
		return ""
	}
	return summary
}

// decorateContracts resolves labels for every bucketed record
func (p *Pipeline) decorateContracts(ctx context.Context, chainID types.ChainID, buckets *ContractBuckets) {
	var addresses []string
	forEachRecord(buckets, func(record *ContractRecord) {
		addresses = append(addresses, record.Address)
	})
	if len(addresses) == 0 {
		return
	}

	labels := p.labels.ResolveAll(ctx, addresses, chainID)
	forEachRecord(buckets, func(record *ContractRecord) {
		record.Label = labelOrUnknown(labels, record.Address)
	})
}

func forEachRecord(buckets *ContractBuckets, fn func(*ContractRecord)) {
	for _, record := range buckets.UnverifiedContracts {
		fn(record)
	}
	for _, record := range buckets.UnverifiedWithRisks {
		fn(record)
	}
	for _, record := range buckets.VerifiedContractsWithRisks {
		fn(record)
	}
}

// contractAlert renders the notification for a risky contract, nil when the
// record is not alert-worthy. Honeypot findings use the critical title even
// when no high keyword matched.
func contractAlert(record *ContractRecord) *notify.Alert {
	if record.SourceFindings != nil && record.SourceFindings.HiddenApprove {
		return &notify.Alert{
			Fingerprint: record.Address,
			Severity:    types.SeverityCritical,
			Title:       "CRITICAL HONEYPOT ALERT",
			Body:        fmt.Sprintf("Contract %s hides an approve call inside its transfer path.", record.Address),
		}
	}

	if record.Severity.AtLeast(types.SeverityHigh) {
		kind := "verified contract with risky patterns"
		if record.SourceFindings == nil {
			kind = "unverified contract with risky functions"
		}
		return &notify.Alert{
			Fingerprint: record.Address,
			Severity:    record.Severity,
			Title:       fmt.Sprintf("Interaction with %s", kind),
			Body:        fmt.Sprintf("Contract %s", record.Address),
		}
	}

	return nil
}
