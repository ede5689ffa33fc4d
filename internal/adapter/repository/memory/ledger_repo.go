package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// Append buffers event in tx. A concurrent appender of the same key waits
// until this tx finishes, then sees the committed row as a duplicate.
func (r *LedgerRepository) Append(ctx context.Context, tx usecase.Transaction, event *domain.LedgerEvent) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	key := ledgerKey{event.TransactionID, event.Type}
	for _, e := range mt.events {
		if e.TransactionID == key.transactionID && e.Type == key.eventType {
			return domain.ErrDuplicateEvent
		}
	}

	if err := mt.lock(ctx, "ledger:"+event.TransactionID+":"+string(event.Type)); err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	_, exists := s.ledgerKeys[key]
	s.mu.Unlock()
	if exists {
		return domain.ErrDuplicateEvent
	}

	c := *event
	mt.events = append(mt.events, &c)
	return nil
}

// ListByAccount returns committed events of an account, oldest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEvent, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.LedgerEvent, 0)
	skipped := 0
	for _, e := range s.ledger {
		if e.AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) >= limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// ListByTransaction returns committed events caused by one transaction.
func (r *LedgerRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEvent, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.LedgerEvent, 0)
	for _, e := range s.ledger {
		if e.TransactionID == transactionID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// SumByAccount folds committed events, plus the pending events of tx when given.
func (r *LedgerRepository) SumByAccount(ctx context.Context, tx usecase.Transaction, accountID string) (decimal.Decimal, error) {
	var pending []*domain.LedgerEvent
	if tx != nil {
		mt, err := asTx(tx)
		if err != nil {
			return decimal.Zero, err
		}
		pending = mt.events
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, events := range [][]*domain.LedgerEvent{s.ledger, pending} {
		for _, e := range events {
			if e.AccountID == accountID {
				total = total.Add(e.SignedAmount())
			}
		}
	}
	return total, nil
}
