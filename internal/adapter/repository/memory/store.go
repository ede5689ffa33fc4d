// Package memory is an in-process storage backend. Row locks block like
// SELECT ... FOR UPDATE, unique ledger keys block like a unique index held by
// an uncommitted insert, and writes are buffered until commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

var errTxDone = errors.New("memory: transaction already finished")

type ledgerKey struct {
	transactionID string
	eventType     domain.LedgerEventType
}

type refKey struct {
	provider domain.Provider
	ref      string
}

// Store holds committed state shared by every repository of the backend.
type Store struct {
	mu sync.Mutex

	accounts     map[string]*domain.Account
	accountOrder []string

	ledger     []*domain.LedgerEvent
	ledgerKeys map[ledgerKey]struct{}

	requests    map[string]*domain.PaymentRequest
	requestRefs map[refKey]string

	idempotency map[string]*domain.IdempotencyRecord

	outbox []*domain.OutboxEvent

	// locks maps a row name to a channel closed on release.
	locks map[string]chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:    make(map[string]*domain.Account),
		ledgerKeys:  make(map[ledgerKey]struct{}),
		requests:    make(map[string]*domain.PaymentRequest),
		requestRefs: make(map[refKey]string),
		idempotency: make(map[string]*domain.IdempotencyRecord),
		locks:       make(map[string]chan struct{}),
	}
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// NewTxManager creates a new TxManager.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		store:    m.store,
		held:     make(map[string]chan struct{}),
		accounts: make(map[string]*domain.Account),
		requests: make(map[string]*domain.PaymentRequest),
	}, nil
}

// Tx is a unit of work over a Store. Reads through a Tx see its own pending writes.
type Tx struct {
	store *Store
	held  map[string]chan struct{}

	accounts map[string]*domain.Account
	requests map[string]*domain.PaymentRequest
	events   []*domain.LedgerEvent
	outbox   []*domain.OutboxEvent

	done bool
}

// Commit applies buffered writes atomically and releases all row locks.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, r := range t.requests {
		s.requests[id] = r
	}
	for _, e := range t.events {
		s.ledger = append(s.ledger, e)
		s.ledgerKeys[ledgerKey{e.TransactionID, e.Type}] = struct{}{}
	}
	s.outbox = append(s.outbox, t.outbox...)
	s.mu.Unlock()

	t.release()
	return nil
}

// Rollback discards buffered writes. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

// lock acquires the named row lock, waiting for the current holder to finish.
func (t *Tx) lock(ctx context.Context, name string) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.held[name]; ok {
		return nil
	}

	s := t.store
	for {
		s.mu.Lock()
		ch, busy := s.locks[name]
		if !busy {
			ch = make(chan struct{})
			s.locks[name] = ch
			s.mu.Unlock()
			t.held[name] = ch
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tx) release() {
	s := t.store
	s.mu.Lock()
	for name, ch := range t.held {
		delete(s.locks, name)
		close(ch)
	}
	s.mu.Unlock()
	t.held = nil
}

func asTx(tx usecase.Transaction) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok || mt == nil {
		return nil, errors.New("memory: foreign or nil transaction")
	}
	return mt, nil
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneRequest(r *domain.PaymentRequest) *domain.PaymentRequest {
	c := *r
	return &c
}

func cloneRecord(r *domain.IdempotencyRecord) *domain.IdempotencyRecord {
	c := *r
	if r.Result != nil {
		c.Result = append([]byte(nil), r.Result...)
	}
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
