package anticipation

import (
	"errors"
	"math"
	"time"

	"github.com/lumapay/lumapay/internal/release"
)

// Status enumerates the anticipation lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRejected   Status = "REJECTED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
)

// statusTransitions encodes the lifecycle: a pending anticipation is claimed
// for processing, and a processing one either completes or is rejected.
// COMPLETED and REJECTED are terminal.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusRejected},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	// ErrPendingExists enforces the one-active-anticipation gate per company.
	ErrPendingExists = errors.New("anticipation: company already has a pending anticipation")
	// ErrNoEligibleSchedules rejects a quote over an empty set.
	ErrNoEligibleSchedules = errors.New("anticipation: no eligible schedules")
	// ErrBelowMinimum rejects an aggregate net under the configured floor.
	ErrBelowMinimum = errors.New("anticipation: net amount below configured minimum")
	// ErrMissingRateConfig is a configuration fault, not a user error.
	ErrMissingRateConfig = errors.New("anticipation: company rate configuration missing")
	// ErrNotFound indicates the anticipation does not exist.
	ErrNotFound = errors.New("anticipation: not found")
	// ErrStaleStatus indicates a status advance raced another writer.
	ErrStaleStatus = errors.New("anticipation: stale status transition")
)

// Anticipation aggregates a set of schedules discounted to present value.
type Anticipation struct {
	ID                 int64
	CompanyID          int64
	GroupPaymentsID    string
	Type               release.ScheduleType
	Currency           string
	TotalAmount        int64
	AmountNet          int64
	AmountOrganization int64
	Tax                int64
	Fee                int64
	Status             Status
	PaymentIDs         []int64
	ScheduleIDs        []int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RateConfig holds a company's anticipation pricing.
type RateConfig struct {
	// MonthlyRate is a percentage, e.g. 6 means 6% per 30 days.
	MonthlyRate float64
	// FixedFee is charged per anticipated schedule, in minor units.
	FixedFee int64
	// MinimumNet is the smallest aggregate net worth anticipating.
	MinimumNet int64
}

// ScheduleQuote prices one schedule.
type ScheduleQuote struct {
	ScheduleID    int64     `json:"schedule_id"`
	PaymentID     int64     `json:"payment_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Days          int       `json:"days"`
	AmountNet     int64     `json:"amount_net"`
	Discount      int64     `json:"discount"`
	Net           int64     `json:"net"`
}

// Quote aggregates the discounted value of an eligible set.
type Quote struct {
	Schedules     []ScheduleQuote `json:"schedules"`
	TotalAmount   int64           `json:"total_amount"`
	TotalTax      int64           `json:"total_tax"`
	TotalFee      int64           `json:"total_fee"`
	TotalDiscount int64           `json:"total_discount"`
	TotalNet      int64           `json:"total_net"`
}

// ComputeQuote discounts each schedule's net amount to present value. All
// arithmetic is in integer minor units and the rate portion floors toward
// zero, so the company is never credited more than entitled.
func ComputeQuote(schedules []release.Schedule, rc RateConfig, now time.Time) Quote {
	dailyRate := rc.MonthlyRate / 100 / 30

	quote := Quote{Schedules: make([]ScheduleQuote, 0, len(schedules))}
	for _, s := range schedules {
		days := release.DaysUntil(s.ScheduledDate, now)
		tax := int64(math.Floor(float64(s.AmountNet) * dailyRate * float64(days)))
		discount := tax + rc.FixedFee
		quote.Schedules = append(quote.Schedules, ScheduleQuote{
			ScheduleID:    s.ID,
			PaymentID:     s.PaymentID,
			ScheduledDate: s.ScheduledDate,
			Days:          days,
			AmountNet:     s.AmountNet,
			Discount:      discount,
			Net:           s.AmountNet - discount,
		})
		quote.TotalAmount += s.AmountNet
		quote.TotalTax += tax
		quote.TotalFee += rc.FixedFee
	}
	quote.TotalDiscount = quote.TotalTax + quote.TotalFee
	quote.TotalNet = quote.TotalAmount - quote.TotalDiscount
	return quote
}
