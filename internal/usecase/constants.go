package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from holding row locks
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long admin API idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// BalanceCacheTTL bounds staleness of cached balances if an invalidation is lost
	BalanceCacheTTL = 30 * time.Second

	// reconcilePageSize is the number of accounts fetched per reconciliation page
	reconcilePageSize = 500
)
