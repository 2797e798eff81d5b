package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/lumapay/lumapay/internal/anticipation"
	"github.com/lumapay/lumapay/internal/app"
	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
	"github.com/lumapay/lumapay/internal/wallet"
	"github.com/lumapay/lumapay/jobs"
)

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

	metrics := jobmetrics.NewMetrics(nil)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	releaseRepo := release.NewRepository(pool)
	anticipationRepo := anticipation.NewRepository(pool)
	walletRepo := wallet.NewRepository(pool)
	queueRepo := queue.NewRepository(pool)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	sink := jobs.NewQueueSink(queueRepo, asynqClient)
	scheduler := release.NewScheduler(releaseRepo, sink, release.SchedulerConfig{
		PageSize:        cfg.SchedulerPageSize,
		BatchSize:       cfg.SchedulerBatchSize,
		InsertBatchSize: cfg.SchedulerInsertBatchSize,
		PageDelay:       cfg.SchedulerPageDelay,
	}, logger, metrics)

	projector := wallet.NewProjector(ledgerRepo, walletRepo, logger)

	releaseJob := jobs.NewReleaseProcessJob(pool, releaseRepo, ledgerService, queueRepo, logger, metrics)
	settleJob := jobs.NewAnticipationSettleJob(pool, anticipationRepo, releaseRepo, ledgerService, queueRepo, logger, metrics)
	scanJob := jobs.NewReleaseScanJob(scheduler)
	sweepJob := jobs.NewQueueSweepJob(queueRepo, sink, logger, metrics)
	walletJob := jobs.NewWalletProjectJob(walletRepo, projector, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReleaseProcess, Handler: releaseJob.Handle},
			{Type: jobs.TaskAnticipationSettle, Handler: settleJob.Handle},
			{Type: jobs.TaskReleaseScan, Handler: scanJob.Handle},
			{Type: jobs.TaskQueueSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskWalletProject, Handler: walletJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewReleaseScanTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "* * * * *", Task: jobs.NewQueueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "*/2 * * * *", Task: jobs.NewWalletProjectTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
