package anticipation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/lumapay/internal/queue"
	"github.com/lumapay/lumapay/internal/release"
)

// RepositoryPort defines data access methods for anticipations.
type RepositoryPort interface {
	ListEligible(ctx context.Context, companyID int64, typ release.ScheduleType, currency string, now time.Time) ([]release.Schedule, error)
	CountActive(ctx context.Context, companyID int64) (int, error)
	GetRateConfig(ctx context.Context, companyID int64) (*RateConfig, error)
	// CreateWithWorkItem persists the aggregate and its queue item in one
	// transaction, re-checking the pending gate inside that transaction.
	CreateWithWorkItem(ctx context.Context, a *Anticipation, item queue.WorkItem) error
	GetByID(ctx context.Context, id int64) (*Anticipation, error)
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Anticipation, error)
}

// Request selects which releases a company wants to anticipate.
type Request struct {
	CompanyID int64
	Type      release.ScheduleType
	Currency  string
}

// Engine quotes and executes discount-for-liquidity operations.
type Engine struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewEngine builds an Engine instance.
func NewEngine(repo RepositoryPort) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Simulate prices the company's currently eligible schedules without
// committing anything.
func (e *Engine) Simulate(ctx context.Context, req Request) (*Quote, error) {
	quote, _, _, err := e.quote(ctx, req)
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// Confirm turns a simulation into a PENDING anticipation plus one queue work
// item, inside a single transaction. The anticipated schedules are not
// mutated here: the settlement worker re-validates eligibility before moving
// them, since time passes between quote and settlement.
func (e *Engine) Confirm(ctx context.Context, req Request) (*Anticipation, error) {
	quote, schedules, rc, err := e.quote(ctx, req)
	if err != nil {
		return nil, err
	}

	active, err := e.repo.CountActive(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrPendingExists
	}
	if quote.TotalNet < rc.MinimumNet {
		return nil, fmt.Errorf("%w: net %d < minimum %d", ErrBelowMinimum, quote.TotalNet, rc.MinimumNet)
	}

	paymentIDs := make([]int64, 0, len(schedules))
	scheduleIDs := make([]int64, 0, len(schedules))
	seen := make(map[int64]bool)
	for _, s := range schedules {
		scheduleIDs = append(scheduleIDs, s.ID)
		if !seen[s.PaymentID] {
			seen[s.PaymentID] = true
			paymentIDs = append(paymentIDs, s.PaymentID)
		}
	}

	a := &Anticipation{
		CompanyID:          req.CompanyID,
		GroupPaymentsID:    uuid.NewString(),
		Type:               req.Type,
		Currency:           req.Currency,
		TotalAmount:        quote.TotalAmount,
		AmountNet:          quote.TotalNet,
		AmountOrganization: quote.TotalDiscount,
		Tax:                quote.TotalTax,
		Fee:                quote.TotalFee,
		Status:             StatusPending,
		PaymentIDs:         paymentIDs,
		ScheduleIDs:        scheduleIDs,
	}

	item, err := queue.NewWorkItem(
		queue.TypeAnticipationSettle,
		req.CompanyID,
		fmt.Sprintf("anticipation group %s", a.GroupPaymentsID),
		queue.AnticipationPayload{},
	)
	if err != nil {
		return nil, fmt.Errorf("anticipation: build work item: %w", err)
	}

	if err := e.repo.CreateWithWorkItem(ctx, a, item); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads one anticipation.
func (e *Engine) Get(ctx context.Context, id int64) (*Anticipation, error) {
	return e.repo.GetByID(ctx, id)
}

// List returns a company's anticipations, newest first.
func (e *Engine) List(ctx context.Context, companyID int64, limit, offset int) ([]Anticipation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListByCompany(ctx, companyID, limit, offset)
}

func (e *Engine) quote(ctx context.Context, req Request) (*Quote, []release.Schedule, *RateConfig, error) {
	if req.CompanyID == 0 {
		return nil, nil, nil, errors.New("anticipation: company id required")
	}
	rc, err := e.repo.GetRateConfig(ctx, req.CompanyID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rc == nil {
		return nil, nil, nil, fmt.Errorf("%w: company %d", ErrMissingRateConfig, req.CompanyID)
	}

	now := e.now()
	schedules, err := e.repo.ListEligible(ctx, req.CompanyID, req.Type, req.Currency, now)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(schedules) == 0 {
		return nil, nil, nil, ErrNoEligibleSchedules
	}

	quote := ComputeQuote(schedules, *rc, now)
	return &quote, schedules, rc, nil
}
