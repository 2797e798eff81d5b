package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumapay/lumapay/internal/anticipation"
	"github.com/lumapay/lumapay/internal/app"
	"github.com/lumapay/lumapay/internal/auth"
	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/observability"
	"github.com/lumapay/lumapay/internal/payment"
	"github.com/lumapay/lumapay/internal/platform/cache"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/release"
	"github.com/lumapay/lumapay/internal/shared"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Cache loss degrades, never blocks: locks fall back to local
		// execution and the idempotency guard honours its fail-open flag.
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	keyed := cache.NewKeyed(redisClient)
	locker := shared.NewLocker(redisClient)

	guard := shared.NewIdempotencyGuard(keyed, shared.IdempotencyOptions{
		Header:   cfg.IdempotencyHeader,
		TTL:      cfg.IdempotencyTTL,
		FailOpen: cfg.IdempotencyFailOpen,
	}, logger)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, locker, cfg.AuthCacheTTL, cfg.AuthLockTimeout)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	releaseRepo := release.NewRepository(pool)
	releaseService := release.NewService(releaseRepo)
	releaseHandler := release.NewHandler(logger, releaseService)

	paymentRepo := payment.NewRepository(pool)
	paymentService := payment.NewService(pool, paymentRepo, ledgerService, releaseService, payment.Config{
		FirstReleaseAfter:   cfg.ReleaseFirstAfter,
		InstallmentInterval: cfg.ReleaseInstallmentSpacing,
		AnticipationAfter:   cfg.AnticipationAfter,
	})
	paymentHandler := payment.NewHandler(logger, paymentService)

	anticipationRepo := anticipation.NewRepository(pool)
	anticipationEngine := anticipation.NewEngine(anticipationRepo)
	anticipationHandler := anticipation.NewHandler(logger, anticipationEngine)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AuthService:         authService,
		IdempotencyGuard:    guard,
		PaymentHandler:      paymentHandler,
		AnticipationHandler: anticipationHandler,
		ReleaseHandler:      releaseHandler,
		LedgerHandler:       ledgerHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
