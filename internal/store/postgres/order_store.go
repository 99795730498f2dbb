package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, user_id, token_id, quantity, amount_paid, payment_ref,
	payment_status, notes, verified_by, verified_at,
	COALESCE(settlement_status, ''), settlement_tx_hash, settlement_attempts, settled_at,
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.InvestmentOrder, error) {
	var o domain.InvestmentOrder
	var paymentStatus, settlementStatus string

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.TokenID, &o.Quantity, &o.AmountPaid, &o.PaymentRef,
		&paymentStatus, &o.Notes, &o.VerifiedBy, &o.VerifiedAt,
		&settlementStatus, &o.SettlementTxHash, &o.SettlementAttempts, &o.SettledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.InvestmentOrder{}, err
	}

	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.SettlementStatus = domain.SettlementStatus(settlementStatus)
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.InvestmentOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM investment_orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InvestmentOrder{}, domain.ErrNotFound
		}
		return domain.InvestmentOrder{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// TransitionPayment conditionally moves the order from one payment status to
// another. The WHERE clause on the current status makes the update a
// compare-and-swap: with concurrent callers the database serializes the row
// update and exactly one caller sees an affected row. A verified transition
// also opens the settlement phase.
func (s *OrderStore) TransitionPayment(ctx context.Context, id string, from, to domain.PaymentStatus, verifiedBy, notes string) (bool, error) {
	const query = `
		UPDATE investment_orders
		SET payment_status = $1,
		    verified_by = $2,
		    verified_at = NOW(),
		    notes = $3,
		    settlement_status = CASE WHEN $1 = 'verified' THEN 'pending' ELSE settlement_status END,
		    updated_at = NOW()
		WHERE id = $4 AND payment_status = $5`

	tag, err := s.pool.Exec(ctx, query, string(to), verifiedBy, notes, id, string(from))
	if err != nil {
		return false, fmt.Errorf("postgres: transition order %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateSettlement records the outcome of a settlement attempt. Failed
// attempts are counted; a settled outcome stamps the settlement time.
func (s *OrderStore) UpdateSettlement(ctx context.Context, id string, status domain.SettlementStatus, txHash *string) error {
	const query = `
		UPDATE investment_orders
		SET settlement_status = $1,
		    settlement_tx_hash = COALESCE($2, settlement_tx_hash),
		    settlement_attempts = settlement_attempts + CASE WHEN $1 = 'failed' THEN 1 ELSE 0 END,
		    settled_at = CASE WHEN $1 = 'settled' THEN NOW() ELSE settled_at END,
		    updated_at = NOW()
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, string(status), txHash, id)
	if err != nil {
		return fmt.Errorf("postgres: update settlement %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUnsettled returns verified orders whose transfer has not completed.
func (s *OrderStore) ListUnsettled(ctx context.Context) ([]domain.InvestmentOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM investment_orders
		 WHERE payment_status = 'verified' AND settlement_status <> 'settled'
		 ORDER BY verified_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled orders: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// ListByUser returns a user's orders with pagination.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InvestmentOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM investment_orders WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by user: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

func scanOrderRows(rows pgx.Rows) ([]domain.InvestmentOrder, error) {
	var orders []domain.InvestmentOrder
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: order rows: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
