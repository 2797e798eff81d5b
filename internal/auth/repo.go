package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/shared"
)

// Repository defines credential lookups.
type Repository interface {
	FindByKeyID(ctx context.Context, keyID string) (*APIKey, error)
}

// PgRepository provides PostgreSQL backed credential storage.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// FindByKeyID loads an active key and its grants, joined against the owning
// company. The join is the expensive lookup single-flighted by the service.
func (r *PgRepository) FindByKeyID(ctx context.Context, keyID string) (*APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.company_id, k.key_id, k.secret_hash, k.grants, k.active, k.created_at
		FROM api_keys k
		JOIN companies c ON c.id = k.company_id
		WHERE k.key_id = $1 AND k.active = TRUE AND c.active = TRUE`,
		keyID,
	).Scan(&key.ID, &key.CompanyID, &key.KeyID, &key.SecretHash, &key.Grants, &key.Active, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find key: %w", err)
	}
	return &key, nil
}
