package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/gosettle/internal/domain"
)

// IdempotencyRepository implements usecase.IdempotencyRepository.
// First arrival is decided by the primary key on idempotency_records.key.
type IdempotencyRepository struct {
	db querier
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return newIdempotencyRepository(pool)
}

func newIdempotencyRepository(db querier) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Create inserts rec unless its key exists.
func (r *IdempotencyRepository) Create(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	query := `
		INSERT INTO idempotency_records (key, state, attempts, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query,
		rec.Key,
		string(rec.State),
		rec.Attempts,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// Get returns the record, or nil when the key is unknown.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT key, state, result, error_code, error_message, attempts, created_at, updated_at, expires_at
		FROM idempotency_records
		WHERE key = $1
	`

	var (
		rec     domain.IdempotencyRecord
		state   string
		expires pgtype.Timestamptz
	)
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&state,
		&rec.Result,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&expires,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.State = domain.IdempotencyState(state)
	if expires.Valid {
		t := expires.Time
		rec.ExpiresAt = &t
	}

	return &rec, nil
}

// Claim moves the record to PROCESSING if it is still in state from with the given attempts.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string, from domain.IdempotencyState, attempts int, now time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET state = 'PROCESSING', attempts = attempts + 1, updated_at = $4
		WHERE key = $1 AND state = $2 AND attempts = $3
	`
	return r.exec(ctx, query, key, string(from), attempts, now)
}

// Complete stores the result of the attempt holding the claim.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, attempts int, result []byte, now time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET state = 'PROCESSED', result = $3, error_code = '', error_message = '', updated_at = $4
		WHERE key = $1 AND state = 'PROCESSING' AND attempts = $2
	`
	return r.exec(ctx, query, key, attempts, result, now)
}

// Fail stores the error of the attempt holding the claim.
func (r *IdempotencyRepository) Fail(ctx context.Context, key string, attempts int, code, message string, now time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET state = 'FAILED', error_code = $3, error_message = $4, updated_at = $5
		WHERE key = $1 AND state = 'PROCESSING' AND attempts = $2
	`
	return r.exec(ctx, query, key, attempts, code, message, now)
}

// DeleteExpired removes records whose expiry is at or before the given time.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM idempotency_records WHERE expires_at IS NOT NULL AND expires_at <= $1`

	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *IdempotencyRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
