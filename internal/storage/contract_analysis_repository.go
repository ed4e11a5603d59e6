package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// ContractAnalysisFreshness is the reuse window for on-demand contract
// analyses.
const ContractAnalysisFreshness = 24 * time.Hour

// ContractAnalysisRepository caches on-demand contract analyses per
// (contract, chain).
type ContractAnalysisRepository struct {
	db *PostgresDB
}

// NewContractAnalysisRepository creates a new contract analysis repository
func NewContractAnalysisRepository(db *PostgresDB) *ContractAnalysisRepository {
	return &ContractAnalysisRepository{db: db}
}

// GetFresh returns the cached analysis when it is younger than the freshness
// window, nil otherwise.
func (r *ContractAnalysisRepository) GetFresh(ctx context.Context, address string, chain types.ChainID) (*types.ContractAnalysis, error) {
	var analysis types.ContractAnalysis
	var payload []byte

	err := r.db.Pool().QueryRow(ctx,
		`SELECT contract_address, chain, analysis, last_analyzed_at
		 FROM contract_analyses
		 WHERE contract_address = lower($1) AND chain = $2 AND last_analyzed_at >= $3`,
		address, chain, time.Now().Add(-ContractAnalysisFreshness)).Scan(
		&analysis.ContractAddress,
		&analysis.Chain,
		&payload,
		&analysis.LastAnalyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contract analysis: %w", err)
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &analysis.Analysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contract analysis: %w", err)
		}
	}
	return &analysis, nil
}

// Upsert stores or refreshes the analysis for a contract
func (r *ContractAnalysisRepository) Upsert(ctx context.Context, analysis *types.ContractAnalysis) error {
	payload, err := json.Marshal(analysis.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal contract analysis: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx,
		`INSERT INTO contract_analyses (contract_address, chain, analysis, last_analyzed_at)
		 VALUES (lower($1), $2, $3, now())
		 ON CONFLICT (contract_address, chain) DO UPDATE
		 SET analysis = $3, last_analyzed_at = now()`,
		analysis.ContractAddress, analysis.Chain, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert contract analysis: %w", err)
	}
	return nil
}
