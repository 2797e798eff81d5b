package release

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumapay/lumapay/internal/queue"
)

// pagedSource serves schedules through the same cursor contract as the store:
// ascending id, strictly after afterID, at most limit rows.
type pagedSource struct {
	schedules []Schedule
	calls     int
}

func (s *pagedSource) ListDue(ctx context.Context, afterID int64, limit int, now time.Time) ([]Schedule, error) {
	s.calls++
	var out []Schedule
	for _, sched := range s.schedules {
		if sched.ID > afterID {
			out = append(out, sched)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type capturingSink struct {
	seen     map[string]int
	byID     map[int64]int
	failures int
	failNext int
}

func newCapturingSink() *capturingSink {
	return &capturingSink{seen: make(map[string]int), byID: make(map[int64]int)}
}

func (s *capturingSink) Enqueue(ctx context.Context, items []queue.WorkItem) (int64, error) {
	if s.failNext > 0 {
		s.failNext--
		s.failures++
		return 0, errors.New("sink down")
	}
	var inserted int64
	for _, item := range items {
		s.seen[item.ID]++
		var payload queue.ReleasePayload
		if err := decodePayload(item.Payload, &payload); err != nil {
			return inserted, err
		}
		s.byID[payload.ScheduleID]++
		inserted++
	}
	return inserted, nil
}

func decodePayload(raw json.RawMessage, dest *queue.ReleasePayload) error {
	return json.Unmarshal(raw, dest)
}

func dueSchedules(n int) []Schedule {
	out := make([]Schedule, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Schedule{
			ID:        int64(i),
			PaymentID: int64(1000 + i),
			CompanyID: 1,
			Status:    StatusScheduled,
		})
	}
	return out
}

func newTestScheduler(source Source, sink Sink, cfg SchedulerConfig) *Scheduler {
	s := NewScheduler(source, sink, cfg, nil, nil)
	s.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestSchedulerVisitsEveryScheduleOnce(t *testing.T) {
	source := &pagedSource{schedules: dueSchedules(137)}
	sink := newCapturingSink()
	cfg := SchedulerConfig{PageSize: 50, BatchSize: 20, InsertBatchSize: 7, PageDelay: time.Millisecond}

	summary, err := newTestScheduler(source, sink, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 137, summary.Scanned)
	require.Equal(t, 137, summary.Enqueued)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, 3, summary.Pages)

	require.Len(t, sink.byID, 137)
	for id, count := range sink.byID {
		require.Equal(t, 1, count, "schedule %d", id)
	}
}

func TestSchedulerTerminatesOnShortPage(t *testing.T) {
	source := &pagedSource{schedules: dueSchedules(10)}
	sink := newCapturingSink()
	cfg := SchedulerConfig{PageSize: 50, PageDelay: time.Millisecond}

	summary, err := newTestScheduler(source, sink, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Pages)
	require.Equal(t, 1, source.calls)
	require.Equal(t, 10, summary.Enqueued)
}

func TestSchedulerEmptySet(t *testing.T) {
	source := &pagedSource{}
	sink := newCapturingSink()

	summary, err := newTestScheduler(source, sink, SchedulerConfig{PageDelay: time.Millisecond}).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Scanned)
	require.Zero(t, summary.Pages)
}

func TestSchedulerToleratesSubBatchFailure(t *testing.T) {
	source := &pagedSource{schedules: dueSchedules(30)}
	sink := newCapturingSink()
	sink.failNext = 1
	cfg := SchedulerConfig{PageSize: 50, BatchSize: 30, InsertBatchSize: 10, PageDelay: time.Millisecond}

	summary, err := newTestScheduler(source, sink, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, summary.Scanned)
	require.Equal(t, 10, summary.Failed)
	require.Equal(t, 20, summary.Enqueued)
	require.Equal(t, 1, sink.failures)
}

func TestSchedulerCountsDuplicatesAsSkipped(t *testing.T) {
	source := &pagedSource{schedules: dueSchedules(5)}
	dedup := &dedupSink{inner: newCapturingSink(), known: map[int64]bool{2: true, 4: true}}
	cfg := SchedulerConfig{PageSize: 50, PageDelay: time.Millisecond}

	summary, err := newTestScheduler(source, dedup, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Scanned)
	require.Equal(t, 3, summary.Enqueued)
	require.Equal(t, 2, summary.Skipped)
}

// dedupSink drops items whose schedule id is already known, the way the
// durable queue's conflict clause does.
type dedupSink struct {
	inner *capturingSink
	known map[int64]bool
}

func (s *dedupSink) Enqueue(ctx context.Context, items []queue.WorkItem) (int64, error) {
	var inserted int64
	for _, item := range items {
		var payload queue.ReleasePayload
		if err := decodePayload(item.Payload, &payload); err != nil {
			return inserted, err
		}
		if s.known[payload.ScheduleID] {
			continue
		}
		s.known[payload.ScheduleID] = true
		inserted++
	}
	return inserted, nil
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	source := &pagedSource{schedules: dueSchedules(200)}
	sink := newCapturingSink()
	cfg := SchedulerConfig{PageSize: 50, PageDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestScheduler(source, sink, cfg).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
