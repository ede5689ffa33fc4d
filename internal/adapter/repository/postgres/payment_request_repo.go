package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

const paymentRequestColumns = `id, account_id, direction, amount::text, net_amount::text, status, provider, external_ref, metadata, created_at, updated_at`

// PaymentRequestRepository implements usecase.PaymentRequestRepository.
type PaymentRequestRepository struct {
	db querier
}

// NewPaymentRequestRepository creates a new PaymentRequestRepository.
func NewPaymentRequestRepository(pool *pgxpool.Pool) *PaymentRequestRepository {
	return newPaymentRequestRepository(pool)
}

func newPaymentRequestRepository(db querier) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

// Create inserts a new payment request.
func (r *PaymentRequestRepository) Create(ctx context.Context, req *domain.PaymentRequest) error {
	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_requests (id, account_id, direction, amount, net_amount, status, provider, external_ref, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.Exec(ctx, query,
		req.ID,
		req.AccountID,
		string(req.Direction),
		req.Amount.String(),
		req.NetAmount.String(),
		string(req.Status),
		string(req.Provider),
		req.ExternalRef,
		metadata,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrRequestExists
	}

	return err
}

// GetByID retrieves a payment request by ID.
func (r *PaymentRequestRepository) GetByID(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE id = $1`
	return scanPaymentRequest(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate retrieves a payment request with a FOR UPDATE lock.
func (r *PaymentRequestRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE id = $1 FOR UPDATE`
	q, err := inTx(r.db, tx)
	if err != nil {
		return nil, err
	}
	return scanPaymentRequest(q.QueryRow(ctx, query, id))
}

// GetByExternalRef finds a request by the provider's transaction reference.
func (r *PaymentRequestRepository) GetByExternalRef(ctx context.Context, provider domain.Provider, externalRef string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE provider = $1 AND external_ref = $2`
	return scanPaymentRequest(r.db.QueryRow(ctx, query, string(provider), externalRef))
}

// UpdateStatus moves the request from one status to another.
func (r *PaymentRequestRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, from, to domain.PaymentStatus, updatedAt time.Time) (bool, error) {
	query := `
		UPDATE payment_requests
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	q, err := inTx(r.db, tx)
	if err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, query, id, string(from), string(to), updatedAt)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// ListByAccount lists an account's requests, newest first.
func (r *PaymentRequestRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]*domain.PaymentRequest, 0)
	for rows.Next() {
		req, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	var (
		req                         domain.PaymentRequest
		direction, status, provider string
		amount, net                 string
		metadata                    []byte
	)

	err := row.Scan(
		&req.ID,
		&req.AccountID,
		&direction,
		&amount,
		&net,
		&status,
		&provider,
		&req.ExternalRef,
		&metadata,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	req.Direction = domain.Direction(direction)
	req.Status = domain.PaymentStatus(status)
	req.Provider = domain.Provider(provider)
	if req.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if req.NetAmount, err = parseDecimal(net); err != nil {
		return nil, err
	}
	if req.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}

	return &req, nil
}
