package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// LabelRepository persists resolved address labels. Inserts are best-effort:
// unique-constraint collisions from concurrent resolvers are ignored.
type LabelRepository struct {
	db *PostgresDB
}

// NewLabelRepository creates a new label repository
func NewLabelRepository(db *PostgresDB) *LabelRepository {
	return &LabelRepository{db: db}
}

// Get returns the stored label for an address, empty when unknown
func (r *LabelRepository) Get(ctx context.Context, address string, chain types.ChainID) (string, error) {
	var label string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT label FROM address_labels WHERE address = lower($1) AND chain = $2`,
		address, chain).Scan(&label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get label: %w", err)
	}
	return label, nil
}

// Save persists a newly resolved label, ignoring conflicts
func (r *LabelRepository) Save(ctx context.Context, label *types.AddressLabel) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO address_labels (address, chain, label, source)
		 VALUES (lower($1), $2, $3, $4)
		 ON CONFLICT (address, chain) DO NOTHING`,
		label.Address, label.Chain, label.Label, label.Source)
	if err != nil {
		return fmt.Errorf("failed to save label: %w", err)
	}
	return nil
}
