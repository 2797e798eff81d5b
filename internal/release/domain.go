package release

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleStatus enumerates the lifecycle of a scheduled release.
type ScheduleStatus string

const (
	StatusScheduled  ScheduleStatus = "SCHEDULED"
	StatusProcessing ScheduleStatus = "PROCESSING"
	StatusCompleted  ScheduleStatus = "COMPLETED"
	StatusFailed     ScheduleStatus = "FAILED"
	StatusCancelled  ScheduleStatus = "CANCELLED"
)

// ScheduleType enumerates why a balance release was scheduled.
type ScheduleType string

const (
	TypeInstallment        ScheduleType = "INSTALLMENT"
	TypeReserveRelease     ScheduleType = "RESERVE_RELEASE"
	TypePendingToAvailable ScheduleType = "PENDING_TO_AVAILABLE"
)

// allowedTransitions keeps the lifecycle monotonic: a completed or cancelled
// release never comes back, and FAILED may only move forward into a retry.
var allowedTransitions = map[ScheduleStatus][]ScheduleStatus{
	StatusScheduled:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// KnownStatus reports whether s names a real schedule status.
func KnownStatus(s ScheduleStatus) bool {
	switch s {
	case StatusScheduled, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to ScheduleStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Schedule is one future balance release. Rows are created in bulk when a
// payment is confirmed and advanced by the downstream worker; they are never
// physically deleted.
type Schedule struct {
	ID                        int64
	PaymentID                 int64
	CompanyID                 int64
	Type                      ScheduleType
	AmountGross               int64
	AmountFee                 int64
	AmountNet                 int64
	Currency                  string
	Method                    string
	ProviderName              string
	ScheduledDate             time.Time
	AnticipationAvailableDate time.Time
	Anticipatable             bool
	Status                    ScheduleStatus
	RetryCount                int
	ErrorMessage              string
	InstallmentNumber         int
	TotalInstallments         int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// NewSchedule validates and builds one schedule row.
func NewSchedule(s Schedule) (Schedule, error) {
	if s.PaymentID == 0 {
		return Schedule{}, errors.New("release: payment id required")
	}
	if s.CompanyID == 0 {
		return Schedule{}, errors.New("release: company id required")
	}
	if s.AmountNet != s.AmountGross-s.AmountFee {
		return Schedule{}, fmt.Errorf("release: amount_net must equal gross - fee (gross=%d fee=%d net=%d)", s.AmountGross, s.AmountFee, s.AmountNet)
	}
	if s.ScheduledDate.IsZero() {
		return Schedule{}, errors.New("release: scheduled date required")
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	return s, nil
}

// InstallmentPlan describes how a confirmed payment splits into releases.
type InstallmentPlan struct {
	PaymentID         int64
	CompanyID         int64
	AmountGross       int64
	AmountFee         int64
	Currency          string
	Method            string
	ProviderName      string
	Installments      int
	FirstReleaseDate  time.Time
	Interval          time.Duration
	AnticipationAfter time.Time
	Anticipatable     bool
}

// BuildInstallments splits a plan into per-installment schedules. Remainders
// from integer division land on the first installment so the split always
// sums back to the original amounts.
func BuildInstallments(plan InstallmentPlan) ([]Schedule, error) {
	if plan.Installments <= 0 {
		return nil, errors.New("release: installments must be positive")
	}
	n := int64(plan.Installments)
	grossEach := plan.AmountGross / n
	feeEach := plan.AmountFee / n
	grossRem := plan.AmountGross - grossEach*n
	feeRem := plan.AmountFee - feeEach*n

	schedules := make([]Schedule, 0, plan.Installments)
	for i := 0; i < plan.Installments; i++ {
		gross, fee := grossEach, feeEach
		if i == 0 {
			gross += grossRem
			fee += feeRem
		}
		s, err := NewSchedule(Schedule{
			PaymentID:                 plan.PaymentID,
			CompanyID:                 plan.CompanyID,
			Type:                      TypeInstallment,
			AmountGross:               gross,
			AmountFee:                 fee,
			AmountNet:                 gross - fee,
			Currency:                  plan.Currency,
			Method:                    plan.Method,
			ProviderName:              plan.ProviderName,
			ScheduledDate:             plan.FirstReleaseDate.Add(time.Duration(i) * plan.Interval),
			AnticipationAvailableDate: plan.AnticipationAfter,
			Anticipatable:             plan.Anticipatable,
			Status:                    StatusScheduled,
			InstallmentNumber:         i + 1,
			TotalInstallments:         plan.Installments,
		})
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}
