package memory

import (
	"context"
	"time"

	"github.com/iho/gosettle/internal/domain"
)

// IdempotencyRepository implements usecase.IdempotencyRepository.
type IdempotencyRepository struct {
	store *Store
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: store}
}

// Create inserts rec unless its key exists.
func (r *IdempotencyRepository) Create(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.idempotency[rec.Key]; ok {
		return false, nil
	}
	s.idempotency[rec.Key] = cloneRecord(rec)
	return true, nil
}

// Get returns the record or nil when the key is unknown.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Claim moves a record in state from with the given attempt count to PROCESSING.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string, from domain.IdempotencyState, attempts int, now time.Time) (bool, error) {
	return r.swap(key, from, attempts, func(rec *domain.IdempotencyRecord) {
		rec.State = domain.IdempotencyProcessing
		rec.Attempts++
		rec.UpdatedAt = now
	}), nil
}

// Complete stores the result of the attempt that holds the claim.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, attempts int, result []byte, now time.Time) (bool, error) {
	return r.swap(key, domain.IdempotencyProcessing, attempts, func(rec *domain.IdempotencyRecord) {
		rec.State = domain.IdempotencyProcessed
		rec.Result = append([]byte(nil), result...)
		rec.ErrorCode = ""
		rec.ErrorMessage = ""
		rec.UpdatedAt = now
	}), nil
}

// Fail stores the error of the attempt that holds the claim.
func (r *IdempotencyRepository) Fail(ctx context.Context, key string, attempts int, code, message string, now time.Time) (bool, error) {
	return r.swap(key, domain.IdempotencyProcessing, attempts, func(rec *domain.IdempotencyRecord) {
		rec.State = domain.IdempotencyFailed
		rec.ErrorCode = code
		rec.ErrorMessage = message
		rec.UpdatedAt = now
	}), nil
}

// DeleteExpired removes records whose expiry is at or before the given time.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.idempotency {
		if rec.Expired(before) {
			delete(s.idempotency, key)
			n++
		}
	}
	return n, nil
}

func (r *IdempotencyRepository) swap(key string, state domain.IdempotencyState, attempts int, apply func(*domain.IdempotencyRecord)) bool {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok || rec.State != state || rec.Attempts != attempts {
		return false
	}
	apply(rec)
	return true
}
