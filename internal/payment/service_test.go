package payment

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/release"
)

type memoryPayments struct {
	byExternal map[string]*Payment
	nextID     int64
}

func newMemoryPayments() *memoryPayments {
	return &memoryPayments{byExternal: make(map[string]*Payment)}
}

func (m *memoryPayments) CreateConfirmed(ctx context.Context, tx pgx.Tx, p *Payment) error {
	if _, ok := m.byExternal[p.ExternalID]; ok {
		return ErrDuplicateExternalID
	}
	m.nextID++
	p.ID = m.nextID
	p.Status = StatusConfirmed
	m.byExternal[p.ExternalID] = p
	return nil
}

func (m *memoryPayments) GetByExternalID(ctx context.Context, companyID int64, externalID string) (*Payment, error) {
	p, ok := m.byExternal[externalID]
	if !ok || p.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *memoryPayments) MarkRefunded(ctx context.Context, tx pgx.Tx, id int64) error {
	for _, p := range m.byExternal {
		if p.ID == id {
			if p.Status != StatusConfirmed {
				return ErrNotRefundable
			}
			p.Status = StatusRefunded
			return nil
		}
	}
	return ErrNotRefundable
}

// memoryLedger mimics the idempotency constraint keyed insert.
type memoryLedger struct {
	rows map[string]ledger.Transaction
}

func (m *memoryLedger) InsertBatch(ctx context.Context, tx pgx.Tx, rows []ledger.Transaction) (int64, error) {
	var inserted int64
	for _, row := range rows {
		if _, ok := m.rows[row.IdempotencyKey]; ok {
			continue
		}
		m.rows[row.IdempotencyKey] = row
		inserted++
	}
	return inserted, nil
}

func (m *memoryLedger) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]ledger.Transaction, error) {
	return nil, nil
}

type memorySchedules struct {
	schedules []release.Schedule
}

func (m *memorySchedules) CreateBatch(ctx context.Context, tx pgx.Tx, schedules []release.Schedule) (int64, error) {
	m.schedules = append(m.schedules, schedules...)
	return int64(len(schedules)), nil
}

func (m *memorySchedules) ListByCompany(ctx context.Context, companyID int64, status release.ScheduleStatus, limit, offset int) ([]release.Schedule, error) {
	return m.schedules, nil
}

func (m *memorySchedules) GetByID(ctx context.Context, id int64) (*release.Schedule, error) {
	return nil, release.ErrNotFound
}

func (m *memorySchedules) CancelByPayment(ctx context.Context, tx pgx.Tx, paymentID int64) (int64, error) {
	var cancelled int64
	for i := range m.schedules {
		if m.schedules[i].PaymentID == paymentID && m.schedules[i].Status == release.StatusScheduled {
			m.schedules[i].Status = release.StatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

type fixture struct {
	svc       *Service
	payments  *memoryPayments
	ledger    *memoryLedger
	schedules *memorySchedules
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	payments := newMemoryPayments()
	entries := &memoryLedger{rows: make(map[string]ledger.Transaction)}
	schedules := &memorySchedules{}

	svc := NewService(nil, payments, ledger.NewService(entries), release.NewService(schedules), Config{
		FirstReleaseAfter:   30 * 24 * time.Hour,
		InstallmentInterval: 30 * 24 * time.Hour,
		AnticipationAfter:   24 * time.Hour,
	})
	svc.runTx = func(ctx context.Context, fn func(pgx.Tx) error) error {
		return fn(nil)
	}
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, payments: payments, ledger: entries, schedules: schedules}
}

func newConfirmRequest(externalID string, installments int) ConfirmRequest {
	return ConfirmRequest{
		ExternalID:    externalID,
		CompanyID:     1,
		Amount:        12000,
		AmountFee:     600,
		Currency:      "BRL",
		Method:        "credit_card",
		ProviderName:  "stone",
		Installments:  installments,
		Anticipatable: true,
	}
}

func TestConfirmWritesLedgerAndSchedules(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Confirm(context.Background(), newConfirmRequest("ext-1", 3))
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Ledger.Inserted)
	require.EqualValues(t, 0, result.Ledger.Skipped)
	require.EqualValues(t, 3, result.Schedules)
	require.Equal(t, StatusConfirmed, result.Payment.Status)

	require.Len(t, f.schedules.schedules, 3)
	var net int64
	for _, s := range f.schedules.schedules {
		net += s.AmountNet
		require.True(t, s.Anticipatable)
	}
	require.EqualValues(t, 11400, net)
}

func TestConfirmDuplicateExternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, newConfirmRequest("ext-1", 1))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, newConfirmRequest("ext-1", 1))
	require.ErrorIs(t, err, ErrDuplicateExternalID)
}

func TestConfirmDefaultsSingleInstallment(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Confirm(context.Background(), newConfirmRequest("ext-1", 0))
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Schedules)
}

func TestRefundCancelsSchedulesAndReverses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, newConfirmRequest("ext-1", 2))
	require.NoError(t, err)

	result, err := f.svc.Refund(ctx, 1, "ext-1")
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, result.Payment.Status)
	require.EqualValues(t, 2, result.Schedules)
	require.EqualValues(t, 1, result.Ledger.Inserted)

	for _, s := range f.schedules.schedules {
		require.Equal(t, release.StatusCancelled, s.Status)
	}

	// Two ledger entries total: the confirmation credit and the refund debit.
	require.Len(t, f.ledger.rows, 2)
}

func TestRefundUnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refund(context.Background(), 1, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefundWrongCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, newConfirmRequest("ext-1", 1))
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, 2, "ext-1")
	require.ErrorIs(t, err, ErrNotFound)
}
