package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lumapay/lumapay/internal/jobs"
	"github.com/lumapay/lumapay/internal/wallet"
)

const walletKeyBatch = 200

// walletKeySource lists wallet keys that have unapplied ledger entries,
// including keys no wallet row exists for yet.
type walletKeySource interface {
	ListKeys(ctx context.Context, limit int) ([]wallet.Wallet, error)
}

// WalletProjectJob advances every stale wallet projection to the head of its
// ledger slice. Runs on a cron schedule; a wallet that fails keeps its cursor
// and is retried on the next run.
type WalletProjectJob struct {
	wallets   walletKeySource
	projector *wallet.Projector
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewWalletProjectJob constructs the job.
func NewWalletProjectJob(wallets walletKeySource, projector *wallet.Projector, logger *slog.Logger, metrics *jobmetrics.Metrics) *WalletProjectJob {
	return &WalletProjectJob{
		wallets:   wallets,
		projector: projector,
		logger:    logger,
		metrics:   metrics,
	}
}

// Handle processes TaskWalletProject tasks.
func (j *WalletProjectJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("wallet_project")
	return tracker.End(j.project(ctx))
}

func (j *WalletProjectJob) project(ctx context.Context) error {
	keys, err := j.wallets.ListKeys(ctx, walletKeyBatch)
	if err != nil {
		return err
	}

	var applied, failed int
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.projector.Project(ctx, key.CompanyID, key.AccountType, key.Currency)
		applied += n
		if err != nil {
			failed++
			j.logger.Error("wallet projection failed",
				slog.Int64("company_id", key.CompanyID),
				slog.String("account", string(key.AccountType)),
				slog.String("currency", key.Currency),
				slog.Any("error", err),
			)
		}
	}

	j.metrics.AddItems("wallet_project", "applied", applied)
	j.logger.Info("wallet projection run finished",
		slog.Int("wallets", len(keys)),
		slog.Int("entries_applied", applied),
		slog.Int("failed", failed),
	)
	return nil
}
