package release

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/queue"
)

// Source lists due schedules for the scheduler scan.
type Source interface {
	ListDue(ctx context.Context, afterID int64, limit int, now time.Time) ([]Schedule, error)
}

// Sink accepts queue work items with duplicate-skipping semantics. It reports
// how many items were actually written.
type Sink interface {
	Enqueue(ctx context.Context, items []queue.WorkItem) (int64, error)
}

// SchedulerConfig bounds every stage of the scan.
type SchedulerConfig struct {
	// PageSize is how many rows one cursor page fetches.
	PageSize int
	// BatchSize partitions a page into processing batches.
	BatchSize int
	// InsertBatchSize bounds one queue insert statement, so a single failing
	// statement cannot take a whole batch down with it.
	InsertBatchSize int
	// PageDelay throttles consecutive full pages, back-pressure on the store.
	PageDelay time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.BatchSize <= 0 || c.BatchSize > c.PageSize {
		c.BatchSize = 100
	}
	if c.InsertBatchSize <= 0 || c.InsertBatchSize > c.BatchSize {
		c.InsertBatchSize = 25
	}
	if c.PageDelay <= 0 {
		c.PageDelay = 250 * time.Millisecond
	}
	return c
}

// Summary totals one scheduler run.
type Summary struct {
	Scanned  int
	Enqueued int
	Skipped  int
	Failed   int
	Pages    int
}

// Scheduler converts due schedules into queue work items. The scan is
// idempotent and safely re-runnable: schedule status is advanced only by the
// downstream worker, and the queue sink deduplicates, so a crashed or partial
// run simply picks the same rows up again next time.
type Scheduler struct {
	source  Source
	sink    Sink
	cfg     SchedulerConfig
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(source Source, sink Sink, cfg SchedulerConfig, logger *slog.Logger, metrics *jobmetrics.Metrics) *Scheduler {
	return &Scheduler{
		source:  source,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

const jobName = "release_scheduler"

// Run scans every due schedule once and enqueues one work item per schedule.
// It terminates when a page comes back short, and returns the totals either
// way so an aborted run still reports progress.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	tracker := s.metrics.Track(jobName)
	summary, err := s.run(ctx)
	if s.logger != nil {
		s.logger.Info("release scheduler finished",
			slog.Int("scanned", summary.Scanned),
			slog.Int("enqueued", summary.Enqueued),
			slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed),
			slog.Int("pages", summary.Pages),
		)
	}
	return summary, tracker.End(err)
}

func (s *Scheduler) run(ctx context.Context) (Summary, error) {
	var summary Summary
	// One wall-clock reading for the whole scan keeps the due predicate
	// stable across pages.
	now := s.now()
	var lastID int64

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, err := s.source.ListDue(ctx, lastID, s.cfg.PageSize, now)
		if err != nil {
			return summary, fmt.Errorf("release: scan page after %d: %w", lastID, err)
		}
		if len(page) == 0 {
			return summary, nil
		}
		summary.Pages++
		summary.Scanned += len(page)

		for _, batch := range chunk(page, s.cfg.BatchSize) {
			items, err := buildWorkItems(batch)
			if err != nil {
				return summary, err
			}
			for _, sub := range chunkItems(items, s.cfg.InsertBatchSize) {
				inserted, err := s.sink.Enqueue(ctx, sub)
				if err != nil {
					// Partial failure tolerance: these schedules stay
					// SCHEDULED and will be rescanned on the next run.
					summary.Failed += len(sub)
					s.metrics.AddItems(jobName, "failed", len(sub))
					if s.logger != nil {
						s.logger.Error("enqueue sub-batch failed",
							slog.Int("size", len(sub)),
							slog.Any("error", err),
						)
					}
					continue
				}
				summary.Enqueued += int(inserted)
				summary.Skipped += len(sub) - int(inserted)
				s.metrics.AddItems(jobName, "enqueued", int(inserted))
				s.metrics.AddItems(jobName, "skipped", len(sub)-int(inserted))
			}
		}

		lastID = page[len(page)-1].ID
		if len(page) < s.cfg.PageSize {
			return summary, nil
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-time.After(s.cfg.PageDelay):
		}
	}
}

func buildWorkItems(schedules []Schedule) ([]queue.WorkItem, error) {
	items := make([]queue.WorkItem, 0, len(schedules))
	for _, s := range schedules {
		item, err := queue.NewWorkItem(
			queue.TypeReleaseProcess,
			s.CompanyID,
			fmt.Sprintf("release schedule %d for payment %d", s.ID, s.PaymentID),
			queue.ReleasePayload{ScheduleID: s.ID, PaymentID: s.PaymentID},
		)
		if err != nil {
			return nil, fmt.Errorf("release: build work item for schedule %d: %w", s.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func chunk(schedules []Schedule, size int) [][]Schedule {
	var out [][]Schedule
	for start := 0; start < len(schedules); start += size {
		end := start + size
		if end > len(schedules) {
			end = len(schedules)
		}
		out = append(out, schedules[start:end])
	}
	return out
}

func chunkItems(items []queue.WorkItem, size int) [][]queue.WorkItem {
	var out [][]queue.WorkItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
