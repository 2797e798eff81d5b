package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumapay/lumapay/internal/ledger"
)

// EntrySource streams ledger entries for one wallet key in id order.
type EntrySource interface {
	ListAfterID(ctx context.Context, companyID int64, account ledger.AccountType, currency string, afterID int64, limit int) ([]ledger.Transaction, error)
}

// WalletStore is the projection state the projector reads and CAS-writes.
type WalletStore interface {
	GetOrCreate(ctx context.Context, companyID int64, account ledger.AccountType, currency string) (*Wallet, error)
	UpdateCAS(ctx context.Context, w *Wallet, expectedVersion int64) error
}

// Projector folds ledger entries into wallet balances. There is one logical
// writer per wallet key; the optimistic version check catches the rare case
// where two projector runs overlap, and the loser simply reloads and retries.
type Projector struct {
	entries   EntrySource
	wallets   WalletStore
	logger    *slog.Logger
	pageSize  int
	maxRetry  int
}

// NewProjector constructs a Projector.
func NewProjector(entries EntrySource, wallets WalletStore, logger *slog.Logger) *Projector {
	return &Projector{
		entries:  entries,
		wallets:  wallets,
		logger:   logger,
		pageSize: 500,
		maxRetry: 3,
	}
}

// Project advances one wallet to the head of its ledger slice. Returns how
// many entries were applied.
func (p *Projector) Project(ctx context.Context, companyID int64, account ledger.AccountType, currency string) (int, error) {
	applied := 0
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		w, err := p.wallets.GetOrCreate(ctx, companyID, account, currency)
		if err != nil {
			return applied, err
		}

		n, err := p.advance(ctx, w)
		applied += n
		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return applied, err
		}
		if p.logger != nil {
			p.logger.Warn("wallet projection lost cas race, retrying",
				slog.Int64("company_id", companyID),
				slog.String("account", string(account)),
				slog.Int("attempt", attempt+1),
			)
		}
	}
	return applied, fmt.Errorf("wallet: projection for company %d gave up after %d cas conflicts", companyID, p.maxRetry)
}

func (p *Projector) advance(ctx context.Context, w *Wallet) (int, error) {
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		page, err := p.entries.ListAfterID(ctx, w.CompanyID, w.AccountType, w.Currency, w.LastEntryID, p.pageSize)
		if err != nil {
			return applied, err
		}
		if len(page) == 0 {
			return applied, nil
		}
		for _, entry := range page {
			w.Apply(entry)
		}
		if err := p.wallets.UpdateCAS(ctx, w, w.Version); err != nil {
			return applied, err
		}
		applied += len(page)
		if len(page) < p.pageSize {
			return applied, nil
		}
	}
}
