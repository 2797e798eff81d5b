package anticipation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
)

// Repository provides PostgreSQL backed persistence for anticipations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListEligible selects the schedules a company may anticipate right now: still
// scheduled, flagged anticipatable, far enough in the future to be worth
// discounting, and already past the company's earliest-anticipation threshold.
func (r *Repository) ListEligible(ctx context.Context, companyID int64, typ release.ScheduleType, currency string, now time.Time) ([]release.Schedule, error) {
	query := `
		SELECT id, payment_id, company_id, type, amount_gross, amount_fee, amount_net,
			currency, method, provider_name, scheduled_date, anticipation_available_date,
			is_anticipatable, status, retry_count, error_message, installment_number,
			total_installments, created_at, updated_at
		FROM payment_release_schedules
		WHERE company_id = $1
			AND status = $2
			AND is_anticipatable = TRUE
			AND type = $3
			AND currency = $4
			AND scheduled_date > $5
			AND anticipation_available_date < $5
		ORDER BY scheduled_date ASC`

	rows, err := r.pool.Query(ctx, query, companyID, release.StatusScheduled, typ, currency, now)
	if err != nil {
		return nil, fmt.Errorf("anticipation: list eligible: %w", err)
	}
	defer rows.Close()

	var out []release.Schedule
	for rows.Next() {
		var s release.Schedule
		if err := rows.Scan(
			&s.ID, &s.PaymentID, &s.CompanyID, &s.Type, &s.AmountGross, &s.AmountFee, &s.AmountNet,
			&s.Currency, &s.Method, &s.ProviderName, &s.ScheduledDate, &s.AnticipationAvailableDate,
			&s.Anticipatable, &s.Status, &s.RetryCount, &s.ErrorMessage, &s.InstallmentNumber,
			&s.TotalInstallments, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("anticipation: scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountActive counts anticipations holding the company gate.
func (r *Repository) CountActive(ctx context.Context, companyID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM anticipations WHERE company_id = $1 AND status IN ($2, $3)`,
		companyID, StatusPending, StatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("anticipation: count active: %w", err)
	}
	return count, nil
}

// GetRateConfig loads a company's anticipation pricing. A missing row is a
// configuration fault surfaced as ErrMissingRateConfig.
func (r *Repository) GetRateConfig(ctx context.Context, companyID int64) (*RateConfig, error) {
	var rc RateConfig
	err := r.pool.QueryRow(ctx,
		`SELECT monthly_rate, fixed_fee, minimum_net FROM company_anticipation_settings WHERE company_id = $1`,
		companyID,
	).Scan(&rc.MonthlyRate, &rc.FixedFee, &rc.MinimumNet)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: company %d", ErrMissingRateConfig, companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("anticipation: rate config: %w", err)
	}
	return &rc, nil
}

// CreateWithWorkItem inserts the aggregate and its queue item atomically. The
// pending gate is re-checked inside the transaction, so two concurrent
// confirms cannot both commit.
func (r *Repository) CreateWithWorkItem(ctx context.Context, a *Anticipation, item queue.WorkItem) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Serialise confirms per company for the duration of the
		// transaction, then re-check the gate under that lock.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, a.CompanyID); err != nil {
			return fmt.Errorf("anticipation: company lock: %w", err)
		}
		var active int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM anticipations WHERE company_id = $1 AND status IN ($2, $3)`,
			a.CompanyID, StatusPending, StatusProcessing,
		).Scan(&active)
		if err != nil {
			return fmt.Errorf("anticipation: gate check: %w", err)
		}
		if active > 0 {
			return ErrPendingExists
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO anticipations (
				company_id, group_payments_id, type, currency, total_amount,
				amount_net, amount_organization, tax, fee, status,
				payments_ids, schedules_ids, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			a.CompanyID, a.GroupPaymentsID, a.Type, a.Currency, a.TotalAmount,
			a.AmountNet, a.AmountOrganization, a.Tax, a.Fee, a.Status,
			a.PaymentIDs, a.ScheduleIDs,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("anticipation: insert: %w", err)
		}

		payload, err := json.Marshal(queue.AnticipationPayload{AnticipationID: a.ID})
		if err != nil {
			return fmt.Errorf("anticipation: encode payload: %w", err)
		}
		item.Payload = payload

		if _, err := queue.CreateMany(ctx, tx, []queue.WorkItem{item}); err != nil {
			return err
		}
		return nil
	})
}

const anticipationColumns = `id, company_id, group_payments_id, type, currency, total_amount,
	amount_net, amount_organization, tax, fee, status, payments_ids, schedules_ids,
	created_at, updated_at`

// GetByID loads one anticipation.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Anticipation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+anticipationColumns+` FROM anticipations WHERE id = $1`, id)
	a, err := scanAnticipation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("anticipation: get %d: %w", id, err)
	}
	return a, nil
}

// ListByCompany returns a company's anticipations, newest first.
func (r *Repository) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Anticipation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+anticipationColumns+` FROM anticipations WHERE company_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		companyID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("anticipation: list by company: %w", err)
	}
	defer rows.Close()

	var out []Anticipation
	for rows.Next() {
		a, err := scanAnticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("anticipation: scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AdvanceStatus moves an anticipation along its lifecycle. The predicate on
// the current status keeps transitions monotonic even under concurrent
// workers: the loser of a race matches zero rows and gets ErrStaleStatus.
func (r *Repository) AdvanceStatus(ctx context.Context, tx pgx.Tx, id int64, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleStatus, from, to)
	}
	ct, err := tx.Exec(ctx,
		`UPDATE anticipations SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("anticipation: advance %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: anticipation %d not in %s", ErrStaleStatus, id, from)
	}
	return nil
}

func scanAnticipation(row pgx.Row) (*Anticipation, error) {
	var a Anticipation
	err := row.Scan(
		&a.ID, &a.CompanyID, &a.GroupPaymentsID, &a.Type, &a.Currency, &a.TotalAmount,
		&a.AmountNet, &a.AmountOrganization, &a.Tax, &a.Fee, &a.Status,
		&a.PaymentIDs, &a.ScheduleIDs, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
