package payment

import (
	"errors"
	"time"
)

// Status enumerates the payment lifecycle seen by this service.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusRefunded  Status = "REFUNDED"
)

var (
	// ErrDuplicateExternalID rejects a second payment with the same upstream id.
	ErrDuplicateExternalID = errors.New("payment: external id already confirmed")
	// ErrNotFound indicates the payment does not exist.
	ErrNotFound = errors.New("payment: not found")
	// ErrNotRefundable indicates the payment already left CONFIRMED.
	ErrNotRefundable = errors.New("payment: not in a refundable state")
)

// Payment is one confirmed money-in event from an upstream provider.
type Payment struct {
	ID           int64
	ExternalID   string
	CompanyID    int64
	Amount       int64
	AmountFee    int64
	Currency     string
	Method       string
	ProviderName string
	Installments int
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
