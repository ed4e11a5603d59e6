package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// LinkTokenRepository persists telegram link tokens. Tokens are valid for
// ten minutes and consumed by the first valid chat binding.
type LinkTokenRepository struct {
	db *PostgresDB
}

// NewLinkTokenRepository creates a new link token repository
func NewLinkTokenRepository(db *PostgresDB) *LinkTokenRepository {
	return &LinkTokenRepository{db: db}
}

// Create stores a fresh token for a user
func (r *LinkTokenRepository) Create(ctx context.Context, userID, token string) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO telegram_link_tokens (user_id, token, created_at)
		 VALUES ($1, $2, now())`,
		userID, token)
	if err != nil {
		return fmt.Errorf("failed to create link token: %w", err)
	}
	return nil
}

// Consume binds a chat id to the token's user and deletes the token. The
// DELETE ... RETURNING makes consumption first-wins. Returns the user id or
// an error when the token is unknown or expired.
func (r *LinkTokenRepository) Consume(ctx context.Context, token string, chatID int64) (string, error) {
	var userID string
	var createdAt time.Time

	err := r.db.Pool().QueryRow(ctx,
		`DELETE FROM telegram_link_tokens WHERE token = $1
		 RETURNING user_id, created_at`, token).Scan(&userID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("link token not found")
		}
		return "", fmt.Errorf("failed to consume link token: %w", err)
	}

	if time.Since(createdAt) > types.LinkTokenTTL {
		return "", fmt.Errorf("link token expired")
	}

	_, err = r.db.Pool().Exec(ctx,
		`INSERT INTO telegram_chat_bindings (user_id, chat_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET chat_id = $2`,
		userID, chatID)
	if err != nil {
		return "", fmt.Errorf("failed to bind chat: %w", err)
	}

	return userID, nil
}

// ChatID resolves the bound chat for a user, zero when unbound
func (r *LinkTokenRepository) ChatID(ctx context.Context, userID string) (int64, error) {
	var chatID int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT chat_id FROM telegram_chat_bindings WHERE user_id = $1`, userID).Scan(&chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve chat binding: %w", err)
	}
	return chatID, nil
}

// DeleteExpired removes tokens past their validity window
func (r *LinkTokenRepository) DeleteExpired(ctx context.Context) (int, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM telegram_link_tokens WHERE created_at < $1`,
		time.Now().Add(-types.LinkTokenTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return int(result.RowsAffected()), nil
}
