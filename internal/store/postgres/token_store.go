package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

const tokenSelectCols = `id, symbol, name, contract_address, decimals,
	current_price, price_updated_at, created_at`

func (s *TokenStore) get(ctx context.Context, where string, arg any) (domain.Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenSelectCols+` FROM tokens WHERE `+where, arg)

	var t domain.Token
	err := row.Scan(
		&t.ID, &t.Symbol, &t.Name, &t.ContractAddress, &t.Decimals,
		&t.CurrentPrice, &t.PriceUpdatedAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("postgres: get token: %w", err)
	}
	return t, nil
}

// GetByID retrieves a token by ID.
func (s *TokenStore) GetByID(ctx context.Context, id string) (domain.Token, error) {
	return s.get(ctx, "id = $1", id)
}

// GetByAddress retrieves a token by contract address.
func (s *TokenStore) GetByAddress(ctx context.Context, contractAddress string) (domain.Token, error) {
	return s.get(ctx, "LOWER(contract_address) = LOWER($1)", contractAddress)
}

// Compile-time interface check.
var _ domain.TokenStore = (*TokenStore)(nil)
