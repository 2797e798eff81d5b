package release

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// RepositoryPort defines data access methods for release schedules.
type RepositoryPort interface {
	CreateBatch(ctx context.Context, tx pgx.Tx, schedules []Schedule) (int64, error)
	ListByCompany(ctx context.Context, companyID int64, status ScheduleStatus, limit, offset int) ([]Schedule, error)
	GetByID(ctx context.Context, id int64) (*Schedule, error)
	CancelByPayment(ctx context.Context, tx pgx.Tx, paymentID int64) (int64, error)
}

// Service handles release schedule business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ScheduleInstallments builds and persists the release plan of a confirmed
// payment inside the caller's transaction.
func (s *Service) ScheduleInstallments(ctx context.Context, tx pgx.Tx, plan InstallmentPlan) (int64, error) {
	schedules, err := BuildInstallments(plan)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateBatch(ctx, tx, schedules)
}

// CancelForPayment cancels the remaining scheduled releases of a refunded
// payment. Releases already past SCHEDULED are left alone.
func (s *Service) CancelForPayment(ctx context.Context, tx pgx.Tx, paymentID int64) (int64, error) {
	return s.repo.CancelByPayment(ctx, tx, paymentID)
}

// List returns a company's schedules.
func (s *Service) List(ctx context.Context, companyID int64, status ScheduleStatus, limit, offset int) ([]Schedule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByCompany(ctx, companyID, status, limit, offset)
}

// Get loads one schedule.
func (s *Service) Get(ctx context.Context, id int64) (*Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

// DaysUntil returns the whole days between now and the scheduled date,
// rounding partial days up.
func DaysUntil(scheduled, now time.Time) int {
	d := scheduled.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
