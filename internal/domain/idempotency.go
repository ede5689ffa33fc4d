package domain

import "time"

// IdempotencyState is the processing state of a webhook delivery key.
type IdempotencyState string

const (
	IdempotencyReceived   IdempotencyState = "RECEIVED"
	IdempotencyProcessing IdempotencyState = "PROCESSING"
	IdempotencyProcessed  IdempotencyState = "PROCESSED"
	IdempotencyFailed     IdempotencyState = "FAILED"
)

// IdempotencyRecord tracks one logical notification.
// Attempts doubles as the fencing token for compare-and-swap updates.
type IdempotencyRecord struct {
	Key          string
	State        IdempotencyState
	Result       []byte
	ErrorCode    string
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    *time.Time
}

// IsInFlight reports whether another attempt may currently be running the handler.
func (r *IdempotencyRecord) IsInFlight() bool {
	return r.State == IdempotencyReceived || r.State == IdempotencyProcessing
}

// Expired reports whether the record may be purged at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
