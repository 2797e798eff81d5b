package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	InsertBatch(ctx context.Context, tx pgx.Tx, rows []Transaction) (int64, error)
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]Transaction, error)
}

// RecordResult reports what a batch actually did.
type RecordResult struct {
	Inserted int64
	// Skipped counts duplicates silently dropped by the idempotency
	// constraint, surfaced for observability.
	Skipped int64
}

// Service turns domain events into ledger rows.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record validates every event, then bulk-inserts inside the caller's
// transaction so the ledger commits or rolls back together with the domain
// write that produced the events. Any construction error aborts the batch
// before a single row reaches the store.
func (s *Service) Record(ctx context.Context, tx pgx.Tx, events []Event) (RecordResult, error) {
	rows, err := s.BuildRows(events)
	if err != nil {
		return RecordResult{}, err
	}
	inserted, err := s.repo.InsertBatch(ctx, tx, rows)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{Inserted: inserted, Skipped: int64(len(rows)) - inserted}, nil
}

// BuildRows constructs validated rows for all events, all-or-nothing.
func (s *Service) BuildRows(events []Event) ([]Transaction, error) {
	now := s.now()
	rows := make([]Transaction, 0, len(events))
	for _, ev := range events {
		row, err := NewTransaction(ev, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// List returns a company's visible entries.
func (s *Service) List(ctx context.Context, companyID int64, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByCompany(ctx, companyID, limit, offset)
}
