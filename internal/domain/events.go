package domain

import "time"

// Event types
const (
	EventTypeBalanceChanged       = "balance.changed"
	EventTypePaymentStatusChanged = "payment_request.status_changed"
	EventTypeAccountCreated       = "account.created"
	EventTypeLedgerDrift          = "ledger.drift_detected"
)

// Aggregate types
const (
	AggregateTypeAccount        = "account"
	AggregateTypePaymentRequest = "payment_request"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// BalanceChanged is emitted after a committed balance mutation.
type BalanceChanged struct {
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	EventType     LedgerEventType `json:"event_type"`
	Amount        string          `json:"amount"`
	NewBalance    string          `json:"new_balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PaymentStatusChanged payload
type PaymentStatusChanged struct {
	PaymentRequestID string        `json:"payment_request_id"`
	AccountID        string        `json:"account_id"`
	From             PaymentStatus `json:"from"`
	To               PaymentStatus `json:"to"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

// AccountCreatedEvent payload
type AccountCreatedEvent struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
}

// Payload flattens the event for the outbox.
func (e BalanceChanged) Payload() map[string]any {
	return map[string]any{
		"account_id":     e.AccountID,
		"transaction_id": e.TransactionID,
		"event_type":     string(e.EventType),
		"amount":         e.Amount,
		"new_balance":    e.NewBalance,
		"occurred_at":    e.OccurredAt.Format(time.RFC3339Nano),
	}
}

// Payload flattens the event for the outbox.
func (e PaymentStatusChanged) Payload() map[string]any {
	return map[string]any{
		"payment_request_id": e.PaymentRequestID,
		"account_id":         e.AccountID,
		"from":               string(e.From),
		"to":                 string(e.To),
		"occurred_at":        e.OccurredAt.Format(time.RFC3339Nano),
	}
}
