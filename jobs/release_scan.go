package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/lumapay/lumapay/internal/release"
)

// ReleaseScanJob runs the release scheduler scan from inside the worker. The
// same scan is also exposed as a standalone binary for manual runs; both paths
// share the scheduler so the semantics never diverge.
type ReleaseScanJob struct {
	scheduler *release.Scheduler
}

// NewReleaseScanJob constructs the job.
func NewReleaseScanJob(scheduler *release.Scheduler) *ReleaseScanJob {
	return &ReleaseScanJob{scheduler: scheduler}
}

// Handle processes TaskReleaseScan tasks.
func (j *ReleaseScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.scheduler.Run(ctx)
	return err
}
