package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType is the kind of balance mutation a ledger event records.
type LedgerEventType string

const (
	LedgerEventCredit  LedgerEventType = "CREDIT"
	LedgerEventDebit   LedgerEventType = "DEBIT"
	LedgerEventHold    LedgerEventType = "HOLD"
	LedgerEventRelease LedgerEventType = "RELEASE"
)

// IsValid reports whether t is a known event type.
func (t LedgerEventType) IsValid() bool {
	switch t {
	case LedgerEventCredit, LedgerEventDebit, LedgerEventHold, LedgerEventRelease:
		return true
	}
	return false
}

// Sign is +1 for event types that increase the balance and -1 for those that decrease it.
func (t LedgerEventType) Sign() int {
	switch t {
	case LedgerEventCredit, LedgerEventRelease:
		return 1
	case LedgerEventDebit, LedgerEventHold:
		return -1
	}
	return 0
}

// LedgerEvent is an immutable record of one balance mutation.
// (TransactionID, Type) is unique across the ledger.
type LedgerEvent struct {
	ID            string
	Type          LedgerEventType
	TransactionID string
	AccountID     string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Metadata      map[string]any
	CreatedAt     time.Time
}

// SignedAmount returns the amount with the sign of its effect on the balance.
func (e *LedgerEvent) SignedAmount() decimal.Decimal {
	if e.Type.Sign() < 0 {
		return e.Amount.Neg()
	}
	return e.Amount
}

// ReplayBalance folds events into a balance in the order given.
func ReplayBalance(events []*LedgerEvent) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.SignedAmount())
	}
	return total
}
