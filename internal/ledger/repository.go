package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertBatch bulk-inserts rows inside the caller's transaction. Rows whose
// idempotency key already exists are skipped by the unique constraint, so a
// replayed upstream event is a no-op instead of a double credit. Returns the
// count of rows actually written.
func (r *Repository) InsertBatch(ctx context.Context, tx pgx.Tx, rows []Transaction) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO transactions (
		source_id, description, visible, amount, amount_fee, amount_net,
		idempotency_key, currency, operation_type, account_type, movement_type,
		company_id, method, created_at
	) VALUES `)

	args := make([]any, 0, len(rows)*14)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 14
		b.WriteByte('(')
		for j := 1; j <= 14; j++ {
			if j > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+j)
		}
		b.WriteByte(')')
		args = append(args,
			row.SourceID, row.Description, row.Visible, row.Amount, row.AmountFee, row.AmountNet,
			row.IdempotencyKey, row.Currency, row.OperationType, row.AccountType, row.MovementType,
			row.CompanyID, row.Method, row.CreatedAt,
		)
	}
	b.WriteString(` ON CONFLICT (idempotency_key) DO NOTHING`)

	ct, err := tx.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert batch: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListByCompany returns entries for a company, newest first.
func (r *Repository) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Transaction, error) {
	query := `
		SELECT id, source_id, description, visible, amount, amount_fee, amount_net,
			idempotency_key, currency, operation_type, account_type, movement_type,
			company_id, method, created_at
		FROM transactions
		WHERE company_id = $1 AND visible = TRUE
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by company: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListAfterID streams entries for one wallet key in id order, starting past
// the projection cursor. Id ordering is what makes the wallet fold replayable.
func (r *Repository) ListAfterID(ctx context.Context, companyID int64, account AccountType, currency string, afterID int64, limit int) ([]Transaction, error) {
	query := `
		SELECT id, source_id, description, visible, amount, amount_fee, amount_net,
			idempotency_key, currency, operation_type, account_type, movement_type,
			company_id, method, created_at
		FROM transactions
		WHERE company_id = $1 AND account_type = $2 AND currency = $3 AND id > $4
		ORDER BY id ASC
		LIMIT $5`

	rows, err := r.pool.Query(ctx, query, companyID, account, currency, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list after id: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.SourceID, &t.Description, &t.Visible, &t.Amount, &t.AmountFee, &t.AmountNet,
			&t.IdempotencyKey, &t.Currency, &t.OperationType, &t.AccountType, &t.MovementType,
			&t.CompanyID, &t.Method, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
