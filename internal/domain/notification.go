package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Provider identifies an acquirer or card processor that sends webhooks.
type Provider string

// ReportedStatus is the normalized outcome a provider reports for a transaction.
type ReportedStatus string

const (
	ReportedPaid    ReportedStatus = "paid"
	ReportedFailed  ReportedStatus = "failed"
	ReportedPending ReportedStatus = "pending"
)

// NormalizedNotification is a verified webhook reduced to the fields the core needs.
type NormalizedNotification struct {
	Provider              Provider
	EventType             string
	ExternalTransactionID string
	Direction             Direction
	ReportedStatus        ReportedStatus
	IdempotencyKeyHeader  string
}

// IdempotencyKey returns the explicit header key scoped by provider when
// present, otherwise a SHA-256 over provider, event type and external
// transaction id so that retries without a header collapse onto the same key.
func (n *NormalizedNotification) IdempotencyKey() string {
	if k := strings.TrimSpace(n.IdempotencyKeyHeader); k != "" {
		return normalizeProvider(n.Provider) + ":" + k
	}
	return DeriveIdempotencyKey(n.Provider, n.EventType, n.ExternalTransactionID)
}

// DeriveIdempotencyKey hashes the normalized notification identity.
func DeriveIdempotencyKey(provider Provider, eventType, externalTransactionID string) string {
	normalized := strings.Join([]string{
		normalizeProvider(provider),
		strings.ToLower(strings.TrimSpace(eventType)),
		strings.TrimSpace(externalTransactionID),
	}, "|")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeProvider(p Provider) string {
	return strings.ToLower(strings.TrimSpace(string(p)))
}
