package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create creates a new account.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return domain.ErrAccountExists
	}
	s.accounts[account.ID] = cloneAccount(account)
	s.accountOrder = append(s.accountOrder, account.ID)
	return nil
}

// GetByID retrieves the committed account.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

// GetByIDForUpdate locks the account row for the rest of tx.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if a, ok := mt.accounts[id]; ok {
		return cloneAccount(a), nil
	}

	// Existence is checked before locking so unknown ids do not leave lock entries.
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, "account:"+id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateBalance buffers the new balance in tx and bumps the version.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "account:"+id); err != nil {
		return err
	}

	current, ok := mt.accounts[id]
	if !ok {
		if current, err = r.GetByID(ctx, id); err != nil {
			return err
		}
	}

	updated := cloneAccount(current)
	updated.Balance = balance
	updated.Version++
	updated.UpdatedAt = updatedAt
	mt.accounts[id] = updated
	return nil
}

// List lists accounts in creation order.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Account, 0, limit)
	for i := offset; i < len(s.accountOrder) && len(out) < limit; i++ {
		out = append(out, cloneAccount(s.accounts[s.accountOrder[i]]))
	}
	return out, nil
}
