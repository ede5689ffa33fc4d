package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/gosettle/internal/domain"
)

var ledgerRowColumns = []string{"id", "event_type", "transaction_id", "account_id", "amount", "balance_before", "balance_after", "metadata", "created_at"}

func sampleLedgerEvent() *domain.LedgerEvent {
	return &domain.LedgerEvent{
		ID:            "evt-1",
		Type:          domain.LedgerEventCredit,
		TransactionID: "pr-1",
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("95.00"),
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.RequireFromString("95.00"),
		Metadata:      map[string]any{"provider": "acme"},
		CreatedAt:     time.Now().UTC(),
	}
}

func TestLedgerRepositoryAppend(t *testing.T) {
	mock := newMockPool(t)
	repo := newLedgerRepository(mock)
	event := sampleLedgerEvent()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (transaction_id, event_type) DO NOTHING")).
		WithArgs("evt-1", "CREDIT", "pr-1", "acc-1", "95", "0", "95", []byte(`{"provider":"acme"}`), event.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := newTxManagerWithPool(mock).Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Append(ctx, tx, event))
	require.NoError(t, tx.Rollback(ctx))
	assertExpectations(t, mock)
}

func TestLedgerRepositoryAppendDuplicate(t *testing.T) {
	mock := newMockPool(t)
	repo := newLedgerRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_events")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := repo.Append(context.Background(), nil, sampleLedgerEvent())
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestLedgerRepositoryAppendError(t *testing.T) {
	mock := newMockPool(t)
	repo := newLedgerRepository(mock)
	dbErr := errors.New("connection reset")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_events")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(dbErr)

	err := repo.Append(context.Background(), nil, sampleLedgerEvent())
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestLedgerRepositoryListByAccount(t *testing.T) {
	mock := newMockPool(t)
	repo := newLedgerRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_events WHERE account_id = $1")).
		WithArgs("acc-1", 50, 0).
		WillReturnRows(pgxmock.NewRows(ledgerRowColumns).
			AddRow("evt-1", "CREDIT", "pr-1", "acc-1", "95.00", "0.00", "95.00", []byte(`{"provider":"acme"}`), now).
			AddRow("evt-2", "HOLD", "pr-2", "acc-1", "40.00", "95.00", "55.00", []byte(nil), now))

	events, err := repo.ListByAccount(context.Background(), "acc-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.LedgerEventHold, events[1].Type)
	assert.Equal(t, "acme", events[0].Metadata["provider"])
	assert.Nil(t, events[1].Metadata)
	assert.True(t, domain.ReplayBalance(events).Equal(decimal.RequireFromString("55")))
}

func TestLedgerRepositorySumByAccount(t *testing.T) {
	mock := newMockPool(t)
	repo := newLedgerRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(")).
		WithArgs("acc-1").
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow("55.00"))

	sum, err := repo.SumByAccount(context.Background(), nil, "acc-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(55)))
}
