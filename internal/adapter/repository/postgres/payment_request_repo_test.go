package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/gosettle/internal/domain"
)

var paymentRequestRowColumns = []string{"id", "account_id", "direction", "amount", "net_amount", "status", "provider", "external_ref", "metadata", "created_at", "updated_at"}

func TestPaymentRequestRepositoryCreateDuplicateRef(t *testing.T) {
	mock := newMockPool(t)
	repo := newPaymentRequestRepository(mock)

	args := make([]any, 11)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_requests")).
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := repo.Create(context.Background(), &domain.PaymentRequest{
		ID:          "pr-1",
		AccountID:   "acc-1",
		Direction:   domain.DirectionDeposit,
		Amount:      decimal.NewFromInt(100),
		NetAmount:   decimal.NewFromInt(95),
		Provider:    "acme",
		ExternalRef: "ext-1",
	})
	assert.ErrorIs(t, err, domain.ErrRequestExists)
}

func TestPaymentRequestRepositoryGetByExternalRef(t *testing.T) {
	mock := newMockPool(t)
	repo := newPaymentRequestRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE provider = $1 AND external_ref = $2")).
		WithArgs("acme", "ext-1").
		WillReturnRows(pgxmock.NewRows(paymentRequestRowColumns).
			AddRow("pr-1", "acc-1", "deposit", "100.00", "95.00", "PENDING", "acme", "ext-1", []byte(nil), now, now))

	req, err := repo.GetByExternalRef(context.Background(), "acme", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionDeposit, req.Direction)
	assert.True(t, req.NetAmount.Equal(decimal.NewFromInt(95)))
}

func TestPaymentRequestRepositoryGetByIDNotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := newPaymentRequestRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_requests WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestPaymentRequestRepositoryUpdateStatusCompareAndSwap(t *testing.T) {
	mock := newMockPool(t)
	repo := newPaymentRequestRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("pr-1", "PENDING", "COMPLETED", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("pr-1", "PENDING", "COMPLETED", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.UpdateStatus(context.Background(), nil, "pr-1", domain.StatusPending, domain.StatusCompleted, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(context.Background(), nil, "pr-1", domain.StatusPending, domain.StatusCompleted, now)
	require.NoError(t, err)
	assert.False(t, ok)
}
