package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/anticipation"
	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
)

// anticipationStore is the slice of anticipation persistence the settle
// path needs.
type anticipationStore interface {
	GetByID(ctx context.Context, id int64) (*anticipation.Anticipation, error)
	AdvanceStatus(ctx context.Context, tx pgx.Tx, id int64, from, to anticipation.Status) error
}

// scheduleStore is the slice of release persistence the settle path needs.
type scheduleStore interface {
	GetByID(ctx context.Context, id int64) (*release.Schedule, error)
	AdvanceStatus(ctx context.Context, tx pgx.Tx, id int64, from, to release.ScheduleStatus, errorMessage string) error
}

// AnticipationSettleJob settles a confirmed anticipation. Time has passed
// since the quote, so eligibility is re-validated before anything moves: if
// any anticipated schedule has left SCHEDULED in the meantime the aggregate
// is rejected rather than partially settled.
type AnticipationSettleJob struct {
	anticipations anticipationStore
	releases      scheduleStore
	ledger        *ledger.Service
	queueItems    workItemStore
	logger        *slog.Logger
	metrics       *jobmetrics.Metrics
	runTx         func(ctx context.Context, fn func(pgx.Tx) error) error
}

// NewAnticipationSettleJob constructs the job.
func NewAnticipationSettleJob(pool *pgxpool.Pool, anticipations *anticipation.Repository, releases *release.Repository, ledgerSvc *ledger.Service, queueItems *queue.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *AnticipationSettleJob {
	return &AnticipationSettleJob{
		anticipations: anticipations,
		releases:      releases,
		ledger:        ledgerSvc,
		queueItems:    queueItems,
		logger:        logger,
		metrics:       metrics,
		runTx: func(ctx context.Context, fn func(pgx.Tx) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	}
}

// Handle processes TaskAnticipationSettle tasks.
func (j *AnticipationSettleJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload queue.AnticipationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track("anticipation_settle")
	err := tracker.End(j.settle(ctx, payload.AnticipationID))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		completeWorkItem(ctx, j.queueItems, t, j.logger)
	}
	return err
}

func (j *AnticipationSettleJob) settle(ctx context.Context, id int64) error {
	a, err := j.anticipations.GetByID(ctx, id)
	if errors.Is(err, anticipation.ErrNotFound) {
		j.logger.Warn("settle task references missing anticipation", slog.Int64("anticipation_id", id))
		return asynq.SkipRetry
	}
	if err != nil {
		return err
	}

	switch a.Status {
	case anticipation.StatusCompleted, anticipation.StatusRejected:
		return nil
	case anticipation.StatusProcessing:
		// A previous attempt claimed the aggregate and failed before the
		// settlement transaction committed. Every step below is guarded by
		// a status predicate, so resuming from here is safe.
		j.logger.Warn("resuming interrupted anticipation settlement", slog.Int64("anticipation_id", a.ID))
	default:
		err = j.runTx(ctx, func(tx pgx.Tx) error {
			return j.anticipations.AdvanceStatus(ctx, tx, a.ID, anticipation.StatusPending, anticipation.StatusProcessing)
		})
		if errors.Is(err, anticipation.ErrStaleStatus) {
			// Lost the claim to a concurrent worker.
			return nil
		}
		if err != nil {
			return err
		}
	}

	eligible, err := j.revalidate(ctx, a)
	if err != nil {
		return err
	}
	if !eligible {
		j.metrics.AddItems("anticipation_settle", "rejected", 1)
		return j.runTx(ctx, func(tx pgx.Tx) error {
			return j.anticipations.AdvanceStatus(ctx, tx, a.ID, anticipation.StatusProcessing, anticipation.StatusRejected)
		})
	}

	err = j.runTx(ctx, func(tx pgx.Tx) error {
		for _, scheduleID := range a.ScheduleIDs {
			if err := j.releases.AdvanceStatus(ctx, tx, scheduleID, release.StatusScheduled, release.StatusProcessing, ""); err != nil {
				return err
			}
			if err := j.releases.AdvanceStatus(ctx, tx, scheduleID, release.StatusProcessing, release.StatusCompleted, ""); err != nil {
				return err
			}
		}
		if _, err := j.ledger.Record(ctx, tx, anticipationEvents(a)); err != nil {
			return err
		}
		return j.anticipations.AdvanceStatus(ctx, tx, a.ID, anticipation.StatusProcessing, anticipation.StatusCompleted)
	})
	if err != nil {
		return err
	}
	j.metrics.AddItems("anticipation_settle", "completed", 1)
	return nil
}

// revalidate confirms every anticipated schedule is still scheduled and
// anticipatable.
func (j *AnticipationSettleJob) revalidate(ctx context.Context, a *anticipation.Anticipation) (bool, error) {
	for _, scheduleID := range a.ScheduleIDs {
		s, err := j.releases.GetByID(ctx, scheduleID)
		if errors.Is(err, release.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if s.Status != release.StatusScheduled || !s.Anticipatable {
			j.logger.Warn("anticipated schedule no longer eligible",
				slog.Int64("anticipation_id", a.ID),
				slog.Int64("schedule_id", scheduleID),
				slog.String("status", string(s.Status)),
			)
			return false, nil
		}
	}
	return true, nil
}

func anticipationEvents(a *anticipation.Anticipation) []ledger.Event {
	return []ledger.Event{
		{
			SourceID:    a.GroupPaymentsID,
			Status:      "ANTICIPATED",
			Description: fmt.Sprintf("anticipation %s gross", a.GroupPaymentsID),
			Visible:     true,
			Amount:      a.TotalAmount,
			AmountNet:   a.TotalAmount,
			Currency:    a.Currency,
			Operation:   ledger.OperationAnticipation,
			Account:     ledger.AccountWaitingFunds,
			Movement:    ledger.MovementDebit,
			CompanyID:   a.CompanyID,
		},
		{
			SourceID:    a.GroupPaymentsID,
			Status:      "ANTICIPATED",
			Description: fmt.Sprintf("anticipation %s net of discount", a.GroupPaymentsID),
			Visible:     true,
			Amount:      a.AmountNet,
			AmountNet:   a.AmountNet,
			Currency:    a.Currency,
			Operation:   ledger.OperationAnticipation,
			Account:     ledger.AccountAvailable,
			Movement:    ledger.MovementCredit,
			CompanyID:   a.CompanyID,
		},
	}
}
