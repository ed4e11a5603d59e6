package storage

import (
	"context"
	"fmt"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// TransactionRepository stores the per-wallet transaction cache in
// ClickHouse. Rows are append-only; incremental fetches only ever add blocks
// above the wallet's stream watermark.
type TransactionRepository struct {
	db *ClickHouseDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *ClickHouseDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Append batch-inserts fetched transactions for a wallet stream
func (r *TransactionRepository) Append(ctx context.Context, txs []*types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO wallet_transactions (
			wallet_id, stream, hash, block_number, ts, from_address, to_address,
			value, input, method_id, function_name, contract_address,
			token_symbol, token_decimal, is_error
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction batch: %w", err)
	}

	for _, tx := range txs {
		err := batch.Append(
			tx.WalletID,
			string(tx.Stream),
			tx.Hash,
			tx.BlockNumber,
			tx.Timestamp,
			tx.From,
			tx.To,
			tx.Value,
			tx.Input,
			tx.MethodID,
			tx.FunctionName,
			tx.ContractAddress,
			tx.TokenSymbol,
			tx.TokenDecimal,
			tx.IsError,
		)
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send transaction batch: %w", err)
	}
	return nil
}

// ListByStream returns the cached transactions for one wallet stream,
// oldest first.
func (r *TransactionRepository) ListByStream(ctx context.Context, walletID string, stream types.Stream) ([]*types.Transaction, error) {
	query := `
		SELECT wallet_id, stream, hash, block_number, ts, from_address, to_address,
			value, input, method_id, function_name, contract_address,
			token_symbol, token_decimal, is_error
		FROM wallet_transactions
		WHERE wallet_id = ? AND stream = ?
		ORDER BY block_number ASC
	`
	rows, err := r.db.Conn().Query(ctx, query, walletID, string(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*types.Transaction
	for rows.Next() {
		var tx types.Transaction
		var stream string
		err := rows.Scan(
			&tx.WalletID,
			&stream,
			&tx.Hash,
			&tx.BlockNumber,
			&tx.Timestamp,
			&tx.From,
			&tx.To,
			&tx.Value,
			&tx.Input,
			&tx.MethodID,
			&tx.FunctionName,
			&tx.ContractAddress,
			&tx.TokenSymbol,
			&tx.TokenDecimal,
			&tx.IsError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Stream = types.Stream(stream)
		txs = append(txs, &tx)
	}

	return txs, rows.Err()
}

// DeleteWallet drops the cached transactions of a deleted wallet
func (r *TransactionRepository) DeleteWallet(ctx context.Context, walletID string) error {
	err := r.db.Conn().Exec(ctx,
		`ALTER TABLE wallet_transactions DELETE WHERE wallet_id = ?`, walletID)
	if err != nil {
		return fmt.Errorf("failed to delete wallet transactions: %w", err)
	}
	return nil
}
