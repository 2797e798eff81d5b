package wallet

import (
	"errors"
	"time"

	"github.com/lumapay/lumapay/internal/ledger"
)

// ErrVersionConflict indicates a compare-and-swap update lost the race.
var ErrVersionConflict = errors.New("wallet: version conflict")

// Wallet is one balance projection per (company, account, currency). Its
// balance equals the fold of all ledger entries with a matching key up to
// LastEntryID; it is only ever advanced by the projector, in entry-id order.
type Wallet struct {
	CompanyID   int64
	AccountType ledger.AccountType
	Currency    string
	Balance     int64
	Version     int64
	LastEntryID int64
	LastUpdated time.Time
}

// Apply folds one ledger entry into the balance. Credits add the net amount,
// debits subtract it.
func (w *Wallet) Apply(t ledger.Transaction) {
	switch t.MovementType {
	case ledger.MovementCredit:
		w.Balance += t.AmountNet
	case ledger.MovementDebit:
		w.Balance -= t.AmountNet
	}
	w.LastEntryID = t.ID
}
