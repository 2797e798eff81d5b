package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/lumapay/internal/anticipation"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
)

type memAnticipations struct {
	rows map[int64]*anticipation.Anticipation
}

func (m *memAnticipations) GetByID(_ context.Context, id int64) (*anticipation.Anticipation, error) {
	a, ok := m.rows[id]
	if !ok {
		return nil, anticipation.ErrNotFound
	}
	snapshot := *a
	return &snapshot, nil
}

func (m *memAnticipations) AdvanceStatus(_ context.Context, _ pgx.Tx, id int64, from, to anticipation.Status) error {
	a, ok := m.rows[id]
	if !ok || a.Status != from || !anticipation.CanTransition(from, to) {
		return fmt.Errorf("%w: anticipation %d not in %s", anticipation.ErrStaleStatus, id, from)
	}
	a.Status = to
	return nil
}

type memSchedules struct {
	rows map[int64]*release.Schedule
	// failNext makes the next status advance fail once, standing in for a
	// transient store error.
	failNext error
}

func (m *memSchedules) GetByID(_ context.Context, id int64) (*release.Schedule, error) {
	s, ok := m.rows[id]
	if !ok {
		return nil, release.ErrNotFound
	}
	snapshot := *s
	return &snapshot, nil
}

func (m *memSchedules) AdvanceStatus(_ context.Context, _ pgx.Tx, id int64, from, to release.ScheduleStatus, _ string) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	s, ok := m.rows[id]
	if !ok || s.Status != from || !release.CanTransition(from, to) {
		return fmt.Errorf("%w: schedule %d not in %s", release.ErrStaleStatus, id, from)
	}
	s.Status = to
	return nil
}

type memLedgerRepo struct {
	rows map[string]ledger.Transaction
}

func (m *memLedgerRepo) InsertBatch(_ context.Context, _ pgx.Tx, rows []ledger.Transaction) (int64, error) {
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

func (m *memLedgerRepo) ListByCompany(context.Context, int64, int, int) ([]ledger.Transaction, error) {
	return nil, nil
}

func newSettleFixture() (*AnticipationSettleJob, *memAnticipations, *memSchedules, *memLedgerRepo) {
	anticipations := &memAnticipations{rows: make(map[int64]*anticipation.Anticipation)}
	schedules := &memSchedules{rows: make(map[int64]*release.Schedule)}
	ledgerRepo := &memLedgerRepo{rows: make(map[string]ledger.Transaction)}

	job := &AnticipationSettleJob{
		anticipations: anticipations,
		releases:      schedules,
		ledger:        ledger.NewService(ledgerRepo),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		runTx: func(_ context.Context, fn func(pgx.Tx) error) error {
			return fn(nil)
		},
	}
	return job, anticipations, schedules, ledgerRepo
}

func seedSettleAggregate(anticipations *memAnticipations, schedules *memSchedules, status anticipation.Status) *anticipation.Anticipation {
	schedules.rows[11] = &release.Schedule{ID: 11, CompanyID: 3, Status: release.StatusScheduled, Anticipatable: true}
	schedules.rows[12] = &release.Schedule{ID: 12, CompanyID: 3, Status: release.StatusScheduled, Anticipatable: true}

	a := &anticipation.Anticipation{
		ID:              44,
		CompanyID:       3,
		GroupPaymentsID: "grp-44aa55bb66cc",
		Currency:        "BRL",
		TotalAmount:     100000,
		AmountNet:       96950,
		Status:          status,
		ScheduleIDs:     []int64{11, 12},
	}
	anticipations.rows[a.ID] = a
	return a
}

func settleTask(t *testing.T, id int64) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.AnticipationPayload{AnticipationID: id})
	require.NoError(t, err)
	return asynq.NewTask(TaskAnticipationSettle, data)
}

func TestSettleCompletesPendingAnticipation(t *testing.T) {
	job, anticipations, schedules, ledgerRepo := newSettleFixture()
	a := seedSettleAggregate(anticipations, schedules, anticipation.StatusPending)

	require.NoError(t, job.Handle(context.Background(), settleTask(t, a.ID)))

	require.Equal(t, anticipation.StatusCompleted, anticipations.rows[a.ID].Status)
	require.Equal(t, release.StatusCompleted, schedules.rows[11].Status)
	require.Equal(t, release.StatusCompleted, schedules.rows[12].Status)
	require.Len(t, ledgerRepo.rows, 2)
}

func TestSettleResumesProcessingAnticipation(t *testing.T) {
	// A prior attempt claimed the aggregate and died before the settlement
	// transaction committed. The retry must pick it back up, not wedge it.
	job, anticipations, schedules, ledgerRepo := newSettleFixture()
	a := seedSettleAggregate(anticipations, schedules, anticipation.StatusProcessing)

	require.NoError(t, job.Handle(context.Background(), settleTask(t, a.ID)))

	require.Equal(t, anticipation.StatusCompleted, anticipations.rows[a.ID].Status)
	require.Equal(t, release.StatusCompleted, schedules.rows[11].Status)
	require.Len(t, ledgerRepo.rows, 2)
}

func TestSettleTransientErrorThenRetryCompletes(t *testing.T) {
	job, anticipations, schedules, ledgerRepo := newSettleFixture()
	a := seedSettleAggregate(anticipations, schedules, anticipation.StatusPending)
	schedules.failNext = errors.New("connection reset")

	err := job.Handle(context.Background(), settleTask(t, a.ID))
	require.Error(t, err)
	require.Equal(t, anticipation.StatusProcessing, anticipations.rows[a.ID].Status)

	require.NoError(t, job.Handle(context.Background(), settleTask(t, a.ID)))
	require.Equal(t, anticipation.StatusCompleted, anticipations.rows[a.ID].Status)
	require.Len(t, ledgerRepo.rows, 2)
}

func TestSettleRejectsIneligibleAggregate(t *testing.T) {
	job, anticipations, schedules, ledgerRepo := newSettleFixture()
	a := seedSettleAggregate(anticipations, schedules, anticipation.StatusPending)
	schedules.rows[12].Status = release.StatusCancelled

	require.NoError(t, job.Handle(context.Background(), settleTask(t, a.ID)))

	require.Equal(t, anticipation.StatusRejected, anticipations.rows[a.ID].Status)
	require.Equal(t, release.StatusScheduled, schedules.rows[11].Status)
	require.Empty(t, ledgerRepo.rows)
}

func TestSettleSkipsTerminalAnticipation(t *testing.T) {
	job, anticipations, schedules, ledgerRepo := newSettleFixture()
	a := seedSettleAggregate(anticipations, schedules, anticipation.StatusCompleted)

	require.NoError(t, job.Handle(context.Background(), settleTask(t, a.ID)))

	require.Equal(t, release.StatusScheduled, schedules.rows[11].Status)
	require.Empty(t, ledgerRepo.rows)
}

func TestSettleMissingAnticipationSkipsRetry(t *testing.T) {
	job, _, _, _ := newSettleFixture()

	err := job.Handle(context.Background(), settleTask(t, 999))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
