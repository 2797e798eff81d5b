package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lumapay/lumapay/internal/queue"
)

// QueueSink writes work items to the durable queue table and hands them to
// asynq for delivery. The table insert is the source of truth; the asynq task
// id reuses the work item id so re-delivery of an already known item is a
// conflict, not a duplicate execution.
type QueueSink struct {
	repo   *queue.Repository
	client *asynq.Client
}

// NewQueueSink constructs a sink.
func NewQueueSink(repo *queue.Repository, client *asynq.Client) *QueueSink {
	return &QueueSink{repo: repo, client: client}
}

// Enqueue persists the items and dispatches them. Returns how many items
// were newly written.
func (s *QueueSink) Enqueue(ctx context.Context, items []queue.WorkItem) (int64, error) {
	inserted, err := s.repo.CreateMany(ctx, items)
	if err != nil {
		return 0, err
	}
	return inserted, s.Dispatch(ctx, items)
}

// Dispatch hands already-durable items to asynq. An item asynq has seen
// before conflicts on its task id and is skipped, so the queue sweep may
// redeliver the whole pending set without duplicating work.
func (s *QueueSink) Dispatch(ctx context.Context, items []queue.WorkItem) error {
	for _, item := range items {
		task := asynq.NewTask(item.Type, item.Payload)
		_, err := s.client.EnqueueContext(ctx, task,
			asynq.TaskID(item.ID),
			asynq.Queue(QueueDefault),
			asynq.MaxRetry(5),
		)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			continue
		}
		if err != nil {
			// The row is durable; the queue sweep picks the item back up.
			return fmt.Errorf("queue: dispatch %s: %w", item.ID, err)
		}
	}
	return nil
}

// workItemStore removes durable work items once their job has finished.
type workItemStore interface {
	Delete(ctx context.Context, id string) error
}

// completeWorkItem deletes the queue row behind a finished task. The task id
// is the work item id, available only for tasks delivered by the server.
func completeWorkItem(ctx context.Context, store workItemStore, t *asynq.Task, logger *slog.Logger) {
	if store == nil {
		return
	}
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if err := store.Delete(ctx, rw.TaskID()); err != nil && logger != nil {
		logger.Warn("work item cleanup failed", slog.String("item_id", rw.TaskID()), slog.Any("error", err))
	}
}
