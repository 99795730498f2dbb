package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// HoldingStore implements domain.HoldingStore using PostgreSQL.
type HoldingStore struct {
	pool *pgxpool.Pool
}

// NewHoldingStore creates a new HoldingStore backed by the given pool.
func NewHoldingStore(pool *pgxpool.Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

const holdingSelectCols = `id, user_id, token_id, quantity, avg_purchase_price,
	total_invested, synced_at, created_at, updated_at`

func scanHolding(scanner interface{ Scan(dest ...any) error }) (domain.Holding, error) {
	var h domain.Holding
	err := scanner.Scan(
		&h.ID, &h.UserID, &h.TokenID, &h.Quantity, &h.AvgPurchasePrice,
		&h.TotalInvested, &h.SyncedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	return h, err
}

// GetByUserAndToken retrieves the holding for a user/token pair.
func (s *HoldingStore) GetByUserAndToken(ctx context.Context, userID, tokenID string) (domain.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE user_id = $1 AND token_id = $2`,
		userID, tokenID)

	h, err := scanHolding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s/%s: %w", userID, tokenID, err)
	}
	return h, nil
}

// OverwriteQuantity replaces the cached quantity with the chain-reported
// balance. Absolute assignment, never an increment.
func (s *HoldingStore) OverwriteQuantity(ctx context.Context, id string, quantity decimal.Decimal, syncedAt time.Time) error {
	const query = `
		UPDATE holdings
		SET quantity = $1, synced_at = $2, updated_at = NOW()
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, quantity, syncedAt, id)
	if err != nil {
		return fmt.Errorf("postgres: overwrite holding quantity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser returns all holdings for a user.
func (s *HoldingStore) ListByUser(ctx context.Context, userID string) ([]domain.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE user_id = $1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings %s: %w", userID, err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: holding rows: %w", err)
	}
	return holdings, nil
}

// Compile-time interface check.
var _ domain.HoldingStore = (*HoldingStore)(nil)
