package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT id, email, role, kyc_status, wallet_address, created_at, updated_at
		FROM users WHERE id = $1`

	var u domain.User
	var role, kycStatus string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &role, &kycStatus, &u.WalletAddress, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}

	u.Role = domain.Role(role)
	u.KycStatus = domain.KycStatus(kycStatus)
	return u, nil
}

// UpdateKycStatus writes the aggregate KYC status for a user.
func (s *UserStore) UpdateKycStatus(ctx context.Context, id string, status domain.KycStatus) error {
	const query = `UPDATE users SET kyc_status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update kyc status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
