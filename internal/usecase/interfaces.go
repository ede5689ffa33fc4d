package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
)

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error
	List(ctx context.Context, limit, offset int) ([]*domain.Account, error)
}

// LedgerRepository defines data access for the append-only ledger.
type LedgerRepository interface {
	// Append stores event. It returns domain.ErrDuplicateEvent when an event
	// with the same (TransactionID, Type) already exists, without aborting tx.
	Append(ctx context.Context, tx Transaction, event *domain.LedgerEvent) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEvent, error)
	// SumByAccount folds every event of the account into a balance.
	// A nil tx reads outside any transaction.
	SumByAccount(ctx context.Context, tx Transaction, accountID string) (decimal.Decimal, error)
}

// PaymentRequestRepository defines data access for payment requests.
type PaymentRequestRepository interface {
	Create(ctx context.Context, req *domain.PaymentRequest) error
	GetByID(ctx context.Context, id string) (*domain.PaymentRequest, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.PaymentRequest, error)
	GetByExternalRef(ctx context.Context, provider domain.Provider, externalRef string) (*domain.PaymentRequest, error)
	// UpdateStatus moves the request from one status to another and reports
	// false when the persisted status no longer equals from.
	UpdateStatus(ctx context.Context, tx Transaction, id string, from, to domain.PaymentStatus, updatedAt time.Time) (bool, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.PaymentRequest, error)
}

// IdempotencyRepository persists webhook idempotency records.
// All transitions are compare-and-swap on (state, attempts).
type IdempotencyRepository interface {
	// Create inserts rec unless the key exists and reports whether it was inserted.
	Create(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// Claim moves the record to PROCESSING and increments attempts.
	Claim(ctx context.Context, key string, from domain.IdempotencyState, attempts int, now time.Time) (bool, error)
	Complete(ctx context.Context, key string, attempts int, result []byte, now time.Time) (bool, error)
	Fail(ctx context.Context, key string, attempts int, code, message string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier re-runs an operation on transient storage failures.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore guards mutating admin API calls by Idempotency-Key.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops the key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// BalanceSubscriber observes committed balance changes.
// Delivery is best effort and happens after the transaction commits.
type BalanceSubscriber interface {
	BalanceChanged(ctx context.Context, event domain.BalanceChanged)
}

// DriftAlerter is notified when reconciliation finds a ledger drift.
type DriftAlerter interface {
	AlertDrift(ctx context.Context, result *ReconciliationResult)
}
