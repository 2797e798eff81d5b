package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateConfirmed inserts a confirmed payment inside the caller's
// transaction. The unique constraint on (company_id, external_id) turns a
// replayed confirmation into ErrDuplicateExternalID.
func (r *Repository) CreateConfirmed(ctx context.Context, tx pgx.Tx, p *Payment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO payments (
			external_id, company_id, amount, amount_fee, currency, method,
			provider_name, installments, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		p.ExternalID, p.CompanyID, p.Amount, p.AmountFee, p.Currency, p.Method,
		p.ProviderName, p.Installments, StatusConfirmed,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateExternalID, p.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("payment: insert: %w", err)
	}
	p.Status = StatusConfirmed
	return nil
}

// GetByExternalID loads a company's payment by its upstream id.
func (r *Repository) GetByExternalID(ctx context.Context, companyID int64, externalID string) (*Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, external_id, company_id, amount, amount_fee, currency, method,
			provider_name, installments, status, created_at, updated_at
		FROM payments
		WHERE company_id = $1 AND external_id = $2`,
		companyID, externalID,
	).Scan(
		&p.ID, &p.ExternalID, &p.CompanyID, &p.Amount, &p.AmountFee, &p.Currency, &p.Method,
		&p.ProviderName, &p.Installments, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment: get %s: %w", externalID, err)
	}
	return &p, nil
}

// MarkRefunded flips a payment out of CONFIRMED. A payment already refunded
// (or never confirmed) matches zero rows and reports ErrNotRefundable.
func (r *Repository) MarkRefunded(ctx context.Context, tx pgx.Tx, id int64) error {
	ct, err := tx.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		StatusRefunded, id, StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("payment: mark refunded %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", ErrNotRefundable, id)
	}
	return nil
}
