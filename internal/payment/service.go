package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumapay/lumapay/internal/ledger"
	"github.com/lumapay/lumapay/internal/platform/db"
	"github.com/lumapay/lumapay/internal/release"
)

// RepositoryPort defines data access methods for payments.
type RepositoryPort interface {
	CreateConfirmed(ctx context.Context, tx pgx.Tx, p *Payment) error
	GetByExternalID(ctx context.Context, companyID int64, externalID string) (*Payment, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, id int64) error
}

// Config sets company-independent release behaviour.
type Config struct {
	// FirstReleaseAfter is how long after confirmation the first installment
	// becomes releasable.
	FirstReleaseAfter time.Duration
	// InstallmentInterval spaces consecutive installments.
	InstallmentInterval time.Duration
	// AnticipationAfter is how long after confirmation the schedules become
	// anticipatable.
	AnticipationAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.FirstReleaseAfter <= 0 {
		c.FirstReleaseAfter = 30 * 24 * time.Hour
	}
	if c.InstallmentInterval <= 0 {
		c.InstallmentInterval = 30 * 24 * time.Hour
	}
	if c.AnticipationAfter <= 0 {
		c.AnticipationAfter = 24 * time.Hour
	}
	return c
}

// ConfirmRequest carries one upstream payment confirmation.
type ConfirmRequest struct {
	ExternalID    string
	CompanyID     int64
	Amount        int64
	AmountFee     int64
	Currency      string
	Method        string
	ProviderName  string
	Installments  int
	Anticipatable bool
}

// ConfirmResult reports what a confirmation wrote.
type ConfirmResult struct {
	Payment   *Payment
	Ledger    ledger.RecordResult
	Schedules int64
}

// Service converts upstream payment events into ledger entries and release
// schedules, atomically.
type Service struct {
	repo     RepositoryPort
	ledger   *ledger.Service
	releases *release.Service
	cfg      Config
	runTx    func(ctx context.Context, fn func(pgx.Tx) error) error
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(pool *pgxpool.Pool, repo RepositoryPort, ledgerSvc *ledger.Service, releaseSvc *release.Service, cfg Config) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledgerSvc,
		releases: releaseSvc,
		cfg:      cfg.withDefaults(),
		runTx: func(ctx context.Context, fn func(pgx.Tx) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		now: time.Now,
	}
}

// Confirm records a payment, its ledger entries and its release plan in one
// transaction: either everything commits or nothing does. Replays are safe at
// every layer (payment unique constraint, ledger idempotency keys, schedule
// dedup constraint).
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if req.Installments <= 0 {
		req.Installments = 1
	}
	p := &Payment{
		ExternalID:   req.ExternalID,
		CompanyID:    req.CompanyID,
		Amount:       req.Amount,
		AmountFee:    req.AmountFee,
		Currency:     req.Currency,
		Method:       req.Method,
		ProviderName: req.ProviderName,
		Installments: req.Installments,
	}

	result := &ConfirmResult{Payment: p}
	now := s.now()

	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateConfirmed(ctx, tx, p); err != nil {
			return err
		}

		recorded, err := s.ledger.Record(ctx, tx, confirmEvents(req))
		if err != nil {
			return err
		}
		result.Ledger = recorded

		created, err := s.releases.ScheduleInstallments(ctx, tx, release.InstallmentPlan{
			PaymentID:         p.ID,
			CompanyID:         req.CompanyID,
			AmountGross:       req.Amount,
			AmountFee:         req.AmountFee,
			Currency:          req.Currency,
			Method:            req.Method,
			ProviderName:      req.ProviderName,
			Installments:      req.Installments,
			FirstReleaseDate:  now.Add(s.cfg.FirstReleaseAfter),
			Interval:          s.cfg.InstallmentInterval,
			AnticipationAfter: now.Add(s.cfg.AnticipationAfter),
			Anticipatable:     req.Anticipatable,
		})
		if err != nil {
			return err
		}
		result.Schedules = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund reverses a confirmed payment: remaining schedules are cancelled and
// reversing ledger entries are written, all in one transaction.
func (s *Service) Refund(ctx context.Context, companyID int64, externalID string) (*ConfirmResult, error) {
	p, err := s.repo.GetByExternalID(ctx, companyID, externalID)
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{Payment: p}
	err = s.runTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.MarkRefunded(ctx, tx, p.ID); err != nil {
			return err
		}

		cancelled, err := s.releases.CancelForPayment(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		result.Schedules = cancelled

		recorded, err := s.ledger.Record(ctx, tx, refundEvents(p))
		if err != nil {
			return err
		}
		result.Ledger = recorded
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Status = StatusRefunded
	return result, nil
}

// Get loads a company's payment by upstream id.
func (s *Service) Get(ctx context.Context, companyID int64, externalID string) (*Payment, error) {
	return s.repo.GetByExternalID(ctx, companyID, externalID)
}

func confirmEvents(req ConfirmRequest) []ledger.Event {
	return []ledger.Event{
		{
			SourceID:    req.ExternalID,
			Status:      string(StatusConfirmed),
			Description: fmt.Sprintf("payment %s confirmed", req.ExternalID),
			Visible:     true,
			Amount:      req.Amount,
			AmountFee:   req.AmountFee,
			AmountNet:   req.Amount - req.AmountFee,
			Currency:    req.Currency,
			Operation:   ledger.OperationPayment,
			Account:     ledger.AccountWaitingFunds,
			Movement:    ledger.MovementCredit,
			CompanyID:   req.CompanyID,
			Method:      req.Method,
		},
	}
}

func refundEvents(p *Payment) []ledger.Event {
	return []ledger.Event{
		{
			SourceID:    p.ExternalID,
			Status:      string(StatusRefunded),
			Description: fmt.Sprintf("payment %s refunded", p.ExternalID),
			Visible:     true,
			Amount:      p.Amount,
			AmountFee:   p.AmountFee,
			AmountNet:   p.Amount - p.AmountFee,
			Currency:    p.Currency,
			Operation:   ledger.OperationRefund,
			Account:     ledger.AccountWaitingFunds,
			Movement:    ledger.MovementDebit,
			CompanyID:   p.CompanyID,
			Method:      p.Method,
		},
	}
}
