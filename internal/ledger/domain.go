package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// OperationType enumerates what a ledger entry settles.
type OperationType string

const (
	OperationPayment      OperationType = "PAYMENT"
	OperationRefund       OperationType = "REFUND"
	OperationFee          OperationType = "FEE"
	OperationRelease      OperationType = "RELEASE"
	OperationAnticipation OperationType = "ANTICIPATION"
	OperationAdjustment   OperationType = "ADJUSTMENT"
)

// AccountType enumerates which balance bucket an entry applies to.
type AccountType string

const (
	AccountAvailable    AccountType = "AVAILABLE"
	AccountWaitingFunds AccountType = "WAITING_FUNDS"
)

// MovementType is the direction of a money movement.
type MovementType string

const (
	MovementCredit MovementType = "CREDIT"
	MovementDebit  MovementType = "DEBIT"
)

const (
	minIdempotencyKeyLen = 10
	maxIdempotencyKeyLen = 255
)

var (
	// ErrNetMismatch signals amount_net != amount - amount_fee. This is a data
	// bug, never user input, and aborts the whole batch before persistence.
	ErrNetMismatch = errors.New("ledger: amount_net must equal amount - amount_fee")
	// ErrKeyTooLong rejects derived keys over the storage limit; inputs are
	// never silently truncated.
	ErrKeyTooLong = errors.New("ledger: idempotency key exceeds 255 characters")
	// ErrKeyTooShort rejects keys below the uniqueness floor.
	ErrKeyTooShort = errors.New("ledger: idempotency key below 10 characters")
)

// Transaction is one immutable money movement. Rows are created once by the
// ledger and never mutated or deleted.
type Transaction struct {
	ID             int64
	SourceID       string
	Description    string
	Visible        bool
	Amount         int64
	AmountFee      int64
	AmountNet      int64
	IdempotencyKey string
	Currency       string
	OperationType  OperationType
	AccountType    AccountType
	MovementType   MovementType
	CompanyID      int64
	Method         string
	CreatedAt      time.Time
}

// Event is the input for one ledger entry. Amounts are integer minor units.
type Event struct {
	SourceID     string
	Status       string
	Description  string
	Visible      bool
	Amount       int64
	AmountFee    int64
	AmountNet    int64
	Currency     string
	Operation    OperationType
	Account      AccountType
	Movement     MovementType
	CompanyID    int64
	Method       string
	// Installment disambiguates entries that share a source, zero when the
	// event is not installment-scoped.
	Installment int
}

// DeriveKey builds the deterministic idempotency key for an event. Identical
// inputs always derive the identical key; changing any field changes it.
func DeriveKey(sourceID, status string, op OperationType, account AccountType, movement MovementType, installment int) (string, error) {
	parts := []string{sourceID, status, string(op), string(account), string(movement)}
	if installment > 0 {
		parts = append(parts, fmt.Sprintf("%d", installment))
	}
	key := strings.Join(parts, ":")
	if len(key) < minIdempotencyKeyLen {
		return "", fmt.Errorf("%w: %q", ErrKeyTooShort, key)
	}
	if len(key) > maxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: %d chars", ErrKeyTooLong, len(key))
	}
	return key, nil
}

// NewTransaction validates an event and builds the row to persist. The net
// invariant is checked here so a bad batch aborts before any row is written.
func NewTransaction(ev Event, now time.Time) (Transaction, error) {
	if ev.SourceID == "" {
		return Transaction{}, errors.New("ledger: source id required")
	}
	if ev.CompanyID == 0 {
		return Transaction{}, errors.New("ledger: company id required")
	}
	if ev.AmountNet != ev.Amount-ev.AmountFee {
		return Transaction{}, fmt.Errorf("%w: amount=%d fee=%d net=%d", ErrNetMismatch, ev.Amount, ev.AmountFee, ev.AmountNet)
	}
	if _, err := currency.ParseISO(ev.Currency); err != nil {
		return Transaction{}, fmt.Errorf("ledger: currency %q: %w", ev.Currency, err)
	}
	key, err := DeriveKey(ev.SourceID, ev.Status, ev.Operation, ev.Account, ev.Movement, ev.Installment)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		SourceID:       ev.SourceID,
		Description:    ev.Description,
		Visible:        ev.Visible,
		Amount:         ev.Amount,
		AmountFee:      ev.AmountFee,
		AmountNet:      ev.AmountNet,
		IdempotencyKey: key,
		Currency:       ev.Currency,
		OperationType:  ev.Operation,
		AccountType:    ev.Account,
		MovementType:   ev.Movement,
		CompanyID:      ev.CompanyID,
		Method:         ev.Method,
		CreatedAt:      now,
	}, nil
}
