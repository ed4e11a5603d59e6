package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// ReportRepository persists the latest analysis report per wallet. Each
// analyzer owns one details section; the activity analyzer owns the score.
type ReportRepository struct {
	db *PostgresDB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *PostgresDB) *ReportRepository {
	return &ReportRepository{db: db}
}

// UpsertSection writes one analyzer's section into details without touching
// the sections owned by the other analyzers.
func (r *ReportRepository) UpsertSection(ctx context.Context, walletID, section string, content any) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal report section: %w", err)
	}

	query := `
		INSERT INTO reports (wallet_id, risk_score, summary, details, updated_at)
		VALUES ($1, 0, '', jsonb_build_object($2::text, $3::jsonb), now())
		ON CONFLICT (wallet_id) DO UPDATE
		SET details = jsonb_set(coalesce(reports.details, '{}'::jsonb), ARRAY[$2::text], $3::jsonb),
		    updated_at = now()
	`
	if _, err := r.db.Pool().Exec(ctx, query, walletID, section, string(contentJSON)); err != nil {
		return fmt.Errorf("failed to upsert report section: %w", err)
	}
	return nil
}

// FinalizeScore writes the risk score and summary computed by the activity
// analyzer.
func (r *ReportRepository) FinalizeScore(ctx context.Context, walletID string, score int, summary string) error {
	query := `
		INSERT INTO reports (wallet_id, risk_score, summary, details, updated_at)
		VALUES ($1, $2, $3, '{}'::jsonb, now())
		ON CONFLICT (wallet_id) DO UPDATE
		SET risk_score = $2, summary = $3, updated_at = now()
	`
	if _, err := r.db.Pool().Exec(ctx, query, walletID, score, summary); err != nil {
		return fmt.Errorf("failed to finalize report score: %w", err)
	}
	return nil
}

// Get returns the latest report for a wallet, nil when none exists yet
func (r *ReportRepository) Get(ctx context.Context, walletID string) (*types.Report, error) {
	var report types.Report
	var detailsJSON []byte

	err := r.db.Pool().QueryRow(ctx,
		`SELECT wallet_id, risk_score, summary, details, updated_at
		 FROM reports WHERE wallet_id = $1`, walletID).Scan(
		&report.WalletID,
		&report.RiskScore,
		&report.Summary,
		&detailsJSON,
		&report.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &report.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report details: %w", err)
		}
	}
	return &report, nil
}
