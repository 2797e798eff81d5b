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

	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
)

// ReleaseProcessJob settles one due release schedule: the scheduled funds
// move from the waiting bucket to the available bucket, and the schedule is
// advanced to a terminal status. The handler is idempotent: a replayed task
// finds the schedule already past SCHEDULED and does nothing.
type ReleaseProcessJob struct {
	pool       *pgxpool.Pool
	releases   *release.Repository
	ledger     *ledger.Service
	queueItems workItemStore
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewReleaseProcessJob constructs the job.
func NewReleaseProcessJob(pool *pgxpool.Pool, releases *release.Repository, ledgerSvc *ledger.Service, queueItems *queue.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReleaseProcessJob {
	return &ReleaseProcessJob{pool: pool, releases: releases, ledger: ledgerSvc, queueItems: queueItems, logger: logger, metrics: metrics}
}

// Handle processes TaskReleaseProcess tasks.
func (j *ReleaseProcessJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload queue.ReleasePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track("release_process")
	err := tracker.End(j.process(ctx, payload))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		completeWorkItem(ctx, j.queueItems, t, j.logger)
	}
	return err
}

func (j *ReleaseProcessJob) process(ctx context.Context, payload queue.ReleasePayload) error {
	schedule, err := j.releases.GetByID(ctx, payload.ScheduleID)
	if errors.Is(err, release.ErrNotFound) {
		j.logger.Warn("release task references missing schedule", slog.Int64("schedule_id", payload.ScheduleID))
		return asynq.SkipRetry
	}
	if err != nil {
		return err
	}

	switch schedule.Status {
	case release.StatusCompleted, release.StatusCancelled:
		// Replayed work item, nothing left to do.
		return nil
	case release.StatusProcessing:
		// A concurrent worker holds it; let asynq retry later.
		return fmt.Errorf("release: schedule %d already processing", schedule.ID)
	}

	// Claim the schedule. Losing this race to another worker is fine.
	err = db.WithTx(ctx, j.pool, func(tx pgx.Tx) error {
		return j.releases.AdvanceStatus(ctx, tx, schedule.ID, schedule.Status, release.StatusProcessing, "")
	})
	if errors.Is(err, release.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	settleErr := db.WithTx(ctx, j.pool, func(tx pgx.Tx) error {
		if _, err := j.ledger.Record(ctx, tx, releaseEvents(schedule)); err != nil {
			return err
		}
		return j.releases.AdvanceStatus(ctx, tx, schedule.ID, release.StatusProcessing, release.StatusCompleted, "")
	})
	if settleErr == nil {
		j.metrics.AddItems("release_process", "completed", 1)
		return nil
	}

	// Record the failure so the retry count and message survive the rollback.
	failErr := db.WithTx(ctx, j.pool, func(tx pgx.Tx) error {
		return j.releases.AdvanceStatus(ctx, tx, schedule.ID, release.StatusProcessing, release.StatusFailed, settleErr.Error())
	})
	if failErr != nil {
		j.logger.Error("mark release failed", slog.Int64("schedule_id", schedule.ID), slog.Any("error", failErr))
	}
	j.metrics.AddItems("release_process", "failed", 1)
	return settleErr
}

func releaseEvents(s *release.Schedule) []ledger.Event {
	sourceID := fmt.Sprintf("schedule-%d", s.ID)
	return []ledger.Event{
		{
			SourceID:    sourceID,
			Status:      "RELEASED",
			Description: fmt.Sprintf("release of installment %d/%d for payment %d", s.InstallmentNumber, s.TotalInstallments, s.PaymentID),
			Visible:     true,
			Amount:      s.AmountNet,
			AmountNet:   s.AmountNet,
			Currency:    s.Currency,
			Operation:   ledger.OperationRelease,
			Account:     ledger.AccountWaitingFunds,
			Movement:    ledger.MovementDebit,
			CompanyID:   s.CompanyID,
			Method:      s.Method,
			Installment: s.InstallmentNumber,
		},
		{
			SourceID:    sourceID,
			Status:      "RELEASED",
			Description: fmt.Sprintf("funds available for payment %d", s.PaymentID),
			Visible:     true,
			Amount:      s.AmountNet,
			AmountNet:   s.AmountNet,
			Currency:    s.Currency,
			Operation:   ledger.OperationRelease,
			Account:     ledger.AccountAvailable,
			Movement:    ledger.MovementCredit,
			CompanyID:   s.CompanyID,
			Method:      s.Method,
			Installment: s.InstallmentNumber,
		},
	}
}
