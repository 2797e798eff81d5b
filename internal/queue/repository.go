package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so work items can be
// enqueued standalone or inside a financial transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists queue work items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateMany inserts work items, skipping ids that already exist. Returns the
// count of rows actually written.
func CreateMany(ctx context.Context, q Querier, items []WorkItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO queue_items (id, type, payload, company_id, description, created_at) VALUES `)
	args := make([]any, 0, len(items)*5)
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, NOW())", base+1, base+2, base+3, base+4, base+5)
		args = append(args, item.ID, item.Type, item.Payload, item.CompanyID, item.Description)
	}
	b.WriteString(` ON CONFLICT (id) DO NOTHING`)

	ct, err := q.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("queue: create many: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CreateMany enqueues items against the pool.
func (r *Repository) CreateMany(ctx context.Context, items []WorkItem) (int64, error) {
	return CreateMany(ctx, r.pool, items)
}

// ListPending returns the oldest undelivered work items. A row stays in the
// table until its job completes, so everything listed here is either waiting
// for dispatch or already known to asynq, where the reused task id makes
// redelivery a no-op.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]WorkItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, payload, company_id, description, created_at
		FROM queue_items
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		var item WorkItem
		if err := rows.Scan(&item.ID, &item.Type, &item.Payload, &item.CompanyID, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("queue: scan pending: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Delete removes a consumed work item.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM queue_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("queue: delete %s: %w", id, err)
	}
	return nil
}
