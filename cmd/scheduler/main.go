package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/lumapay/lumapay/internal/app"
	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
	"github.com/lumapay/lumapay/jobs"
)

// Runs one release scheduler scan and exits. Meant for external cron or
// manual operation; the worker binary runs the same scan on its own schedule.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	sink := jobs.NewQueueSink(queue.NewRepository(pool), asynqClient)
	scheduler := release.NewScheduler(release.NewRepository(pool), sink, release.SchedulerConfig{
		PageSize:        cfg.SchedulerPageSize,
		BatchSize:       cfg.SchedulerBatchSize,
		InsertBatchSize: cfg.SchedulerInsertBatchSize,
		PageDelay:       cfg.SchedulerPageDelay,
	}, logger, jobmetrics.NewMetrics(nil))

	summary, err := scheduler.Run(ctx)
	if err != nil {
		logger.Error("scheduler run", slog.Any("error", err),
			slog.Int("scanned", summary.Scanned),
			slog.Int("enqueued", summary.Enqueued),
		)
		os.Exit(1)
	}
}
