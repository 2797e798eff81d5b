package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/lumapay/lumapay/internal/queue"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReleaseProcess settles one due release schedule.
	TaskReleaseProcess = queue.TypeReleaseProcess
	// TaskAnticipationSettle settles one confirmed anticipation.
	TaskAnticipationSettle = queue.TypeAnticipationSettle
	// TaskReleaseScan runs the periodic scheduler scan.
	TaskReleaseScan = "release:scan"
	// TaskQueueSweep redelivers pending durable work items.
	TaskQueueSweep = "queue:sweep"
	// TaskWalletProject advances wallet balance projections.
	TaskWalletProject = "wallet:project"
)

// NewReleaseScanTask builds the periodic scheduler scan task.
func NewReleaseScanTask() *asynq.Task {
	return asynq.NewTask(TaskReleaseScan, nil)
}

// NewQueueSweepTask builds the periodic work item redelivery task.
func NewQueueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskQueueSweep, nil)
}

// NewWalletProjectTask builds the periodic wallet projection task.
func NewWalletProjectTask() *asynq.Task {
	return asynq.NewTask(TaskWalletProject, nil)
}
