package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// WalletRepository handles wallet persistence: registration, stream
// watermarks, and the per-analyzer fingerprint state.
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `id, user_id, address, chain, label, last_scan_at,
	stream_watermarks, approval_fingerprints, contract_fingerprints, created_at`

// Create registers a new wallet. (user_id, address, chain) is unique.
func (r *WalletRepository) Create(ctx context.Context, wallet *types.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	watermarks, err := json.Marshal(wallet.StreamWatermarks)
	if err != nil {
		return fmt.Errorf("failed to marshal watermarks: %w", err)
	}

	query := `
		INSERT INTO wallets (id, user_id, address, chain, label, stream_watermarks,
			approval_fingerprints, contract_fingerprints, created_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, now())
	`
	_, err = r.db.Pool().Exec(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Address,
		wallet.Chain,
		wallet.Label,
		watermarks,
		wallet.ApprovalFingerprints,
		wallet.ContractFingerprints,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetByID retrieves a wallet by id
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*types.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE id = $1`, walletColumns)
	return r.scanWallet(r.db.Pool().QueryRow(ctx, query, id))
}

// ListAll returns every registered wallet; used by the scheduler
func (r *WalletRepository) ListAll(ctx context.Context) ([]*types.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets ORDER BY created_at ASC`, walletColumns)
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		wallet, err := r.scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

// Delete removes a wallet; jobs and reports cascade at the schema level
func (r *WalletRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

// StampLastScan records the start of a full scan
func (r *WalletRepository) StampLastScan(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE wallets SET last_scan_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp last scan: %w", err)
	}
	return nil
}

// AdvanceWatermark raises a stream watermark. GREATEST keeps the watermark
// monotone even if a slow fetch lands after a newer one.
func (r *WalletRepository) AdvanceWatermark(ctx context.Context, id string, stream types.Stream, block uint64) error {
	query := `
		UPDATE wallets
		SET stream_watermarks = jsonb_set(
			coalesce(stream_watermarks, '{}'::jsonb),
			ARRAY[$2::text],
			to_jsonb(GREATEST(coalesce((stream_watermarks->>$2)::bigint, 0), $3::bigint))
		)
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, string(stream), int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// SaveApprovalFingerprints replaces the approval fingerprint set
func (r *WalletRepository) SaveApprovalFingerprints(ctx context.Context, id string, fingerprints []string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE wallets SET approval_fingerprints = $2 WHERE id = $1`, id, fingerprints)
	if err != nil {
		return fmt.Errorf("failed to save approval fingerprints: %w", err)
	}
	return nil
}

// SaveContractFingerprints replaces the interacted-contract fingerprint set
func (r *WalletRepository) SaveContractFingerprints(ctx context.Context, id string, fingerprints []string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE wallets SET contract_fingerprints = $2 WHERE id = $1`, id, fingerprints)
	if err != nil {
		return fmt.Errorf("failed to save contract fingerprints: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WalletRepository) scanWallet(row rowScanner) (*types.Wallet, error) {
	var wallet types.Wallet
	var watermarks []byte

	err := row.Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Address,
		&wallet.Chain,
		&wallet.Label,
		&wallet.LastScanAt,
		&watermarks,
		&wallet.ApprovalFingerprints,
		&wallet.ContractFingerprints,
		&wallet.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet not found")
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}

	if len(watermarks) > 0 {
		if err := json.Unmarshal(watermarks, &wallet.StreamWatermarks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal watermarks: %w", err)
		}
	}
	if wallet.StreamWatermarks == nil {
		wallet.StreamWatermarks = make(map[types.Stream]uint64)
	}

	return &wallet, nil
}
