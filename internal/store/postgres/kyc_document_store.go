package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// KycDocumentStore implements domain.KycDocumentStore using PostgreSQL.
type KycDocumentStore struct {
	pool *pgxpool.Pool
}

// NewKycDocumentStore creates a new KycDocumentStore backed by the given pool.
func NewKycDocumentStore(pool *pgxpool.Pool) *KycDocumentStore {
	return &KycDocumentStore{pool: pool}
}

// ListByUser returns every document the user has submitted.
func (s *KycDocumentStore) ListByUser(ctx context.Context, userID string) ([]domain.KycDocument, error) {
	const query = `
		SELECT id, user_id, doc_type, status, submitted_at, reviewed_at, reviewed_by
		FROM kyc_documents WHERE user_id = $1`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list kyc documents %s: %w", userID, err)
	}
	defer rows.Close()

	var docs []domain.KycDocument
	for rows.Next() {
		var d domain.KycDocument
		var status string
		if err := rows.Scan(&d.ID, &d.UserID, &d.Type, &status, &d.SubmittedAt, &d.ReviewedAt, &d.ReviewedBy); err != nil {
			return nil, fmt.Errorf("postgres: scan kyc document: %w", err)
		}
		d.Status = domain.DocumentStatus(status)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list kyc documents rows: %w", err)
	}
	return docs, nil
}

// Compile-time interface check.
var _ domain.KycDocumentStore = (*KycDocumentStore)(nil)
