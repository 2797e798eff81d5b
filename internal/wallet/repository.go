package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/ledger"
)

// Repository provides PostgreSQL backed persistence for wallets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate loads a wallet, initialising an empty row on first touch.
func (r *Repository) GetOrCreate(ctx context.Context, companyID int64, account ledger.AccountType, currency string) (*Wallet, error) {
	w := &Wallet{CompanyID: companyID, AccountType: account, Currency: currency}
	err := r.pool.QueryRow(ctx, `
		SELECT balance, version, last_entry_id, last_updated
		FROM wallets
		WHERE company_id = $1 AND account_type = $2 AND currency = $3`,
		companyID, account, currency,
	).Scan(&w.Balance, &w.Version, &w.LastEntryID, &w.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO wallets (company_id, account_type, currency, balance, version, last_entry_id, last_updated)
			VALUES ($1, $2, $3, 0, 1, 0, NOW())
			ON CONFLICT (company_id, account_type, currency) DO NOTHING`,
			companyID, account, currency,
		)
		if err != nil {
			return nil, fmt.Errorf("wallet: init: %w", err)
		}
		w.Version = 1
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wallet: get: %w", err)
	}
	return w, nil
}

// UpdateCAS applies a compare-and-swap update. A stale expected version
// matches zero rows and reports ErrVersionConflict so the caller can reload
// and retry.
func (r *Repository) UpdateCAS(ctx context.Context, w *Wallet, expectedVersion int64) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE wallets
		SET balance = $1, last_entry_id = $2, version = version + 1, last_updated = NOW()
		WHERE company_id = $3 AND account_type = $4 AND currency = $5 AND version = $6`,
		w.Balance, w.LastEntryID, w.CompanyID, w.AccountType, w.Currency, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("wallet: cas update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	w.Version = expectedVersion + 1
	return nil
}

// ListKeys returns every wallet key with unapplied ledger entries, feeding
// the projector's work loop. Keys are derived from the entries themselves
// rather than from existing wallet rows: a company whose first entries just
// landed has no wallet row yet, and the left join still surfaces it so the
// projector can bootstrap the projection.
func (r *Repository) ListKeys(ctx context.Context, limit int) ([]Wallet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT t.company_id, t.account_type, t.currency
		FROM transactions t
		LEFT JOIN wallets w
			ON w.company_id = t.company_id
			AND w.account_type = t.account_type
			AND w.currency = t.currency
		WHERE t.id > COALESCE(w.last_entry_id, 0)
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: list keys: %w", err)
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.CompanyID, &w.AccountType, &w.Currency); err != nil {
			return nil, fmt.Errorf("wallet: scan key: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
