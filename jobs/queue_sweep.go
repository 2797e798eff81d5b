package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/queue"
)

const sweepBatch = 500

// pendingSource lists durable work items that have not finished yet.
type pendingSource interface {
	ListPending(ctx context.Context, limit int) ([]queue.WorkItem, error)
}

// itemDispatcher hands durable work items to the task broker.
type itemDispatcher interface {
	Dispatch(ctx context.Context, items []queue.WorkItem) error
}

// QueueSweepJob redelivers durable work items to asynq. The queue table is
// the source of truth: a row written inside a financial transaction survives
// a broker outage or a crash between commit and dispatch, and this sweep
// closes that gap. Items already known to asynq are deduplicated by task id,
// so sweeping is safe at any cadence.
type QueueSweepJob struct {
	items      pendingSource
	dispatcher itemDispatcher
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewQueueSweepJob constructs the job.
func NewQueueSweepJob(items pendingSource, dispatcher itemDispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *QueueSweepJob {
	return &QueueSweepJob{items: items, dispatcher: dispatcher, logger: logger, metrics: metrics}
}

// Handle processes TaskQueueSweep tasks.
func (j *QueueSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("queue_sweep")
	return tracker.End(j.sweep(ctx))
}

func (j *QueueSweepJob) sweep(ctx context.Context) error {
	items, err := j.items.ListPending(ctx, sweepBatch)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if err := j.dispatcher.Dispatch(ctx, items); err != nil {
		return err
	}
	j.metrics.AddItems("queue_sweep", "dispatched", len(items))
	j.logger.Info("queue sweep redelivered pending work items", slog.Int("items", len(items)))
	return nil
}
