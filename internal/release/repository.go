package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the schedule does not exist.
var ErrNotFound = errors.New("release: not found")

// ErrStaleStatus indicates a status advance raced another writer or attempted
// a non-monotonic transition.
var ErrStaleStatus = errors.New("release: stale status transition")

// Repository provides PostgreSQL backed persistence for release schedules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const scheduleColumns = `id, payment_id, company_id, type, amount_gross, amount_fee, amount_net,
	currency, method, provider_name, scheduled_date, anticipation_available_date,
	is_anticipatable, status, retry_count, error_message, installment_number,
	total_installments, created_at, updated_at`

// CreateBatch inserts schedules inside the caller's transaction. A replayed
// payment confirmation hits the (payment_id, type, installment_number) unique
// constraint and is skipped rather than duplicated.
func (r *Repository) CreateBatch(ctx context.Context, tx pgx.Tx, schedules []Schedule) (int64, error) {
	if len(schedules) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO payment_release_schedules (
		payment_id, company_id, type, amount_gross, amount_fee, amount_net,
		currency, method, provider_name, scheduled_date, anticipation_available_date,
		is_anticipatable, status, installment_number, total_installments,
		created_at, updated_at
	) VALUES `)

	args := make([]any, 0, len(schedules)*15)
	for i, s := range schedules {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 15
		b.WriteByte('(')
		for j := 1; j <= 15; j++ {
			if j > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+j)
		}
		b.WriteString(", NOW(), NOW())")
		args = append(args,
			s.PaymentID, s.CompanyID, s.Type, s.AmountGross, s.AmountFee, s.AmountNet,
			s.Currency, s.Method, s.ProviderName, s.ScheduledDate, s.AnticipationAvailableDate,
			s.Anticipatable, s.Status, s.InstallmentNumber, s.TotalInstallments,
		)
	}
	b.WriteString(` ON CONFLICT (payment_id, type, installment_number) DO NOTHING`)

	ct, err := tx.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("release: create batch: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListDue cursor-paginates due schedules by ascending primary key. The
// `id > afterID` predicate keeps page cost flat regardless of table size,
// unlike offset pagination.
func (r *Repository) ListDue(ctx context.Context, afterID int64, limit int, now time.Time) ([]Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM payment_release_schedules
		WHERE status = $1 AND scheduled_date <= $2 AND id > $3
		ORDER BY id ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, StatusScheduled, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("release: list due: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListByCompany returns a company's schedules filtered by status.
func (r *Repository) ListByCompany(ctx context.Context, companyID int64, status ScheduleStatus, limit, offset int) ([]Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM payment_release_schedules
		WHERE company_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_date ASC
		LIMIT $3 OFFSET $4`

	rows, err := r.pool.Query(ctx, query, companyID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("release: list by company: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// GetByID loads one schedule.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM payment_release_schedules WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("release: get %d: %w", id, err)
	}
	return s, nil
}

// AdvanceStatus moves a schedule from one status to the next. The predicate
// on the current status enforces monotonic transitions in the store itself:
// a concurrent writer or a replayed queue item simply matches zero rows.
func (r *Repository) AdvanceStatus(ctx context.Context, tx pgx.Tx, id int64, from, to ScheduleStatus, errorMessage string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleStatus, from, to)
	}
	query := `
		UPDATE payment_release_schedules
		SET status = $1,
			error_message = $2,
			retry_count = retry_count + CASE WHEN $1 = 'FAILED' THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $3 AND status = $4`

	ct, err := tx.Exec(ctx, query, to, errorMessage, id, from)
	if err != nil {
		return fmt.Errorf("release: advance %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %d not in %s", ErrStaleStatus, id, from)
	}
	return nil
}

// CancelByPayment cancels every still-scheduled release of a refunded
// payment. Terminal rows are untouched.
func (r *Repository) CancelByPayment(ctx context.Context, tx pgx.Tx, paymentID int64) (int64, error) {
	query := `
		UPDATE payment_release_schedules
		SET status = $1, updated_at = NOW()
		WHERE payment_id = $2 AND status = $3`

	ct, err := tx.Exec(ctx, query, StatusCancelled, paymentID, StatusScheduled)
	if err != nil {
		return 0, fmt.Errorf("release: cancel by payment %d: %w", paymentID, err)
	}
	return ct.RowsAffected(), nil
}

func scanSchedules(rows pgx.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("release: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID, &s.PaymentID, &s.CompanyID, &s.Type, &s.AmountGross, &s.AmountFee, &s.AmountNet,
		&s.Currency, &s.Method, &s.ProviderName, &s.ScheduledDate, &s.AnticipationAvailableDate,
		&s.Anticipatable, &s.Status, &s.RetryCount, &s.ErrorMessage, &s.InstallmentNumber,
		&s.TotalInstallments, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
