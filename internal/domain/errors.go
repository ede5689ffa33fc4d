package domain

import "errors"

var (
	// Account errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")

	// Ledger errors
	ErrDuplicateEvent = errors.New("ledger event already recorded for transaction")
	ErrLedgerConflict = errors.New("ledger event for transaction was recorded by another operation")

	// Payment request errors
	ErrRequestNotFound    = errors.New("payment request not found")
	ErrRequestExists      = errors.New("payment request already exists for external reference")
	ErrInvalidTransition  = errors.New("invalid payment request status transition")
	ErrAlreadyProcessed   = errors.New("payment request already processed")
	ErrDirectionMismatch  = errors.New("notification direction does not match payment request")
	ErrInvalidDirection   = errors.New("invalid payment direction")
	ErrInvalidNetAmount   = errors.New("net amount must be positive and not exceed gross amount")
	ErrUnsupportedOutcome = errors.New("unsupported reported status")

	// Webhook errors
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrPreviousAttemptFailed = errors.New("previous processing attempt failed")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedNotification = errors.New("malformed notification payload")
)

// errorCodes lists the errors whose identity survives a round trip through
// the idempotency store. Order matters: the first match wins.
var errorCodes = []struct {
	code string
	err  error
}{
	{"request_not_found", ErrRequestNotFound},
	{"account_not_found", ErrAccountNotFound},
	{"invalid_transition", ErrInvalidTransition},
	{"direction_mismatch", ErrDirectionMismatch},
	{"ledger_conflict", ErrLedgerConflict},
	{"insufficient_funds", ErrInsufficientFunds},
	{"invalid_amount", ErrInvalidAmount},
	{"unsupported_outcome", ErrUnsupportedOutcome},
	{"malformed_notification", ErrMalformedNotification},
}

// ErrorCode returns a stable code for err, or "internal" when err is not a
// known domain error.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes yield nil.
func ErrorFromCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
