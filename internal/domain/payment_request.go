package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether a payment request moves money into or out of an account.
type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// InitialStatus is the status a freshly created request starts in.
func (d Direction) InitialStatus() PaymentStatus {
	if d == DirectionWithdrawal {
		return StatusPending
	}
	return StatusWaitingForApproval
}

// SuccessStatus is the terminal status reached when the provider confirms the payment.
func (d Direction) SuccessStatus() PaymentStatus {
	if d == DirectionWithdrawal {
		return StatusCompleted
	}
	return StatusPaidOut
}

// FailureStatus is the terminal status reached when the provider reports a failure.
func (d Direction) FailureStatus() PaymentStatus {
	if d == DirectionWithdrawal {
		return StatusRejected
	}
	return StatusCancelled
}

// LedgerEventType is the balance effect of a confirmed request in this direction.
func (d Direction) LedgerEventType() LedgerEventType {
	if d == DirectionWithdrawal {
		return LedgerEventDebit
	}
	return LedgerEventCredit
}

// PaymentStatus is the lifecycle state of a payment request.
type PaymentStatus string

const (
	StatusWaitingForApproval PaymentStatus = "WAITING_FOR_APPROVAL"
	StatusPending            PaymentStatus = "PENDING"
	StatusPaidOut            PaymentStatus = "PAID_OUT"
	StatusCompleted          PaymentStatus = "COMPLETED"
	StatusCancelled          PaymentStatus = "CANCELLED"
	StatusRejected           PaymentStatus = "REJECTED"
	StatusMediation          PaymentStatus = "MEDIATION"
)

// IsSuccess reports whether s is a terminal success status.
func (s PaymentStatus) IsSuccess() bool {
	return s == StatusPaidOut || s == StatusCompleted
}

// IsFailure reports whether s is a terminal failure status.
func (s PaymentStatus) IsFailure() bool {
	return s == StatusCancelled || s == StatusRejected
}

// IsTerminal reports whether processing-driven transitions are closed for s.
// MEDIATION counts as terminal: only hold/release moves a request in or out of it.
func (s PaymentStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure() || s == StatusMediation
}

// transitions holds the allowed status moves per direction.
var transitions = map[Direction]map[PaymentStatus][]PaymentStatus{
	DirectionDeposit: {
		StatusWaitingForApproval: {StatusPaidOut, StatusCancelled},
		StatusPaidOut:            {StatusMediation},
		StatusMediation:          {StatusPaidOut},
	},
	DirectionWithdrawal: {
		StatusPending:   {StatusCompleted, StatusRejected},
		StatusCompleted: {StatusMediation},
		StatusMediation: {StatusCompleted},
	},
}

// CanTransition reports whether a request in direction d may move from one status to another.
func CanTransition(d Direction, from, to PaymentStatus) bool {
	for _, next := range transitions[d][from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentRequest is a single deposit or withdrawal attempt.
type PaymentRequest struct {
	ID          string
	AccountID   string
	Direction   Direction
	Amount      decimal.Decimal
	NetAmount   decimal.Decimal
	Status      PaymentStatus
	Provider    Provider
	ExternalRef string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the invariants that must hold when a request is created.
func (p *PaymentRequest) Validate() error {
	if !p.Direction.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, p.Direction)
	}
	if p.AccountID == "" {
		return ErrAccountNotFound
	}
	if err := ValidateAmount(p.Amount); err != nil {
		return err
	}
	if !p.NetAmount.IsPositive() || p.NetAmount.GreaterThan(p.Amount) || !HasMoneyScale(p.NetAmount) {
		return ErrInvalidNetAmount
	}
	if p.ExternalRef == "" {
		return fmt.Errorf("%w: external reference is required", ErrMalformedNotification)
	}
	return ValidateMetadata(p.Metadata)
}

// TransitionTo checks that the request may move to status. It does not mutate p.
func (p *PaymentRequest) TransitionTo(status PaymentStatus) error {
	if !CanTransition(p.Direction, p.Status, status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, p.Direction, p.Status, status)
	}
	return nil
}
