// Package service hosts the on-demand entry points that sit next to the
// pipeline: single-contract analysis and unauthenticated guest scans, both
// behind freshness caches.
package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/analyzer"
	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/storage"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// ContractReader is the adapter surface the on-demand analysis needs
type ContractReader interface {
	GetSourceCode(ctx context.Context, chainID types.ChainID, address string) (*chain.SourceCode, error)
	GetBytecode(ctx context.Context, chainID types.ChainID, address string) []byte
	ImplementationAddress(ctx context.Context, chainID types.ChainID, address string) (common.Address, bool)
}

// AnalysisCache is the persistence surface; implemented by
// storage.ContractAnalysisRepository.
type AnalysisCache interface {
	GetFresh(ctx context.Context, address string, chainID types.ChainID) (*types.ContractAnalysis, error)
	Upsert(ctx context.Context, analysis *types.ContractAnalysis) error
}

// ContractService analyzes a single contract on demand, reusing results for
// the repository's 24-hour freshness window.
type ContractService struct {
	reader ContractReader
	cache  AnalysisCache
	log    *logrus.Entry
}

// NewContractService creates the on-demand contract analysis service
func NewContractService(reader ContractReader, cache AnalysisCache) *ContractService {
	return &ContractService{reader: reader, cache: cache, log: logging.Component("contract_service")}
}

// Analyze returns the cached analysis when fresh, otherwise analyzes the
// contract (following the EIP-1967 implementation for proxies) and caches
// the result.
func (s *ContractService) Analyze(ctx context.Context, address string, chainID types.ChainID) (*types.ContractAnalysis, error) {
	address = strings.ToLower(address)

	if cached, err := s.cache.GetFresh(ctx, address, chainID); err != nil {
		s.log.WithError(err).Warn("analysis cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	payload := map[string]any{"address": address}

	analyzed := address
	if impl, ok := s.reader.ImplementationAddress(ctx, chainID, address); ok {
		analyzed = strings.ToLower(impl.Hex())
		payload["implementation"] = analyzed
	}

	source, err := s.reader.GetSourceCode(ctx, chainID, analyzed)
	if err != nil {
		return nil, err
	}

	if source != nil && source.Source != "" {
		findings := analyzer.AnalyzeSource(source.Source)
		payload["verified"] = true
		payload["contractName"] = source.ContractName
		payload["sourceFindings"] = findings
		payload["severity"] = findings.Severity()
	} else {
		findings := analyzer.AnalyzeBytecode(s.reader.GetBytecode(ctx, chainID, analyzed))
		payload["verified"] = false
		payload["bytecodeFindings"] = findings
		if findings.HasHighRisk() {
			payload["severity"] = types.SeverityHigh
		} else {
			payload["severity"] = types.SeverityInformational
		}
	}

	analysis := &types.ContractAnalysis{
		ContractAddress: address,
		Chain:           chainID,
		Analysis:        payload,
	}
	if err := s.cache.Upsert(ctx, analysis); err != nil {
		s.log.WithError(err).Warn("analysis cache write failed")
	}
	return analysis, nil
}

// compile-time interface checks against the storage implementations
var _ AnalysisCache = (*storage.ContractAnalysisRepository)(nil)
