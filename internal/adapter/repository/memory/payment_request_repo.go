package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// PaymentRequestRepository implements usecase.PaymentRequestRepository.
type PaymentRequestRepository struct {
	store *Store
}

// NewPaymentRequestRepository creates a new PaymentRequestRepository.
func NewPaymentRequestRepository(store *Store) *PaymentRequestRepository {
	return &PaymentRequestRepository{store: store}
}

// Create stores a new request. (Provider, ExternalRef) is unique.
func (r *PaymentRequestRepository) Create(ctx context.Context, req *domain.PaymentRequest) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := refKey{req.Provider, req.ExternalRef}
	if _, ok := s.requestRefs[ref]; ok {
		return domain.ErrRequestExists
	}
	if _, ok := s.requests[req.ID]; ok {
		return domain.ErrRequestExists
	}
	s.requests[req.ID] = cloneRequest(req)
	s.requestRefs[ref] = req.ID
	return nil
}

// GetByID retrieves the committed request.
func (r *PaymentRequestRepository) GetByID(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

// GetByIDForUpdate locks the request row for the rest of tx.
func (r *PaymentRequestRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.PaymentRequest, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if req, ok := mt.requests[id]; ok {
		return cloneRequest(req), nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, "request:"+id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByExternalRef finds a request by provider reference.
func (r *PaymentRequestRepository) GetByExternalRef(ctx context.Context, provider domain.Provider, externalRef string) (*domain.PaymentRequest, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.requestRefs[refKey{provider, externalRef}]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return cloneRequest(s.requests[id]), nil
}

// UpdateStatus compares and swaps the request status inside tx.
func (r *PaymentRequestRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, from, to domain.PaymentStatus, updatedAt time.Time) (bool, error) {
	mt, err := asTx(tx)
	if err != nil {
		return false, err
	}
	if err := mt.lock(ctx, "request:"+id); err != nil {
		return false, err
	}

	current, ok := mt.requests[id]
	if !ok {
		if current, err = r.GetByID(ctx, id); err != nil {
			return false, err
		}
	}
	if current.Status != from {
		return false, nil
	}

	updated := cloneRequest(current)
	updated.Status = to
	updated.UpdatedAt = updatedAt
	mt.requests[id] = updated
	return true, nil
}

// ListByAccount lists an account's requests, newest first.
func (r *PaymentRequestRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.PaymentRequest, error) {
	s := r.store
	s.mu.Lock()
	matched := make([]*domain.PaymentRequest, 0)
	for _, req := range s.requests {
		if req.AccountID == accountID {
			matched = append(matched, cloneRequest(req))
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*domain.PaymentRequest{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
