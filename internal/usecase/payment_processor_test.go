package usecase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
	"github.com/iho/gosettle/internal/usecase/mocks"
)

func TestProcessPaymentReceived_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	req := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "100.00", "95.00")

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.processor.ProcessPaymentReceived(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	requireDecimal(t, "95.00", env.balance(t, "acc-1"))

	events := env.ledgerEvents(t, "pr-1")
	require.Len(t, events, 1)
	assert.Equal(t, domain.LedgerEventCredit, events[0].Type)
	requireDecimal(t, "95.00", events[0].Amount)

	stored, err := env.requests.GetByID(context.Background(), "pr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaidOut, stored.Status)

	dispatched := env.events.all()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "95", dispatched[0].NewBalance)
}

func TestProcessPaymentReceived_AlreadyPaidIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	req := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "100.00", "95.00")

	first, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Applied)
	assert.Equal(t, domain.StatusPaidOut, first.Request.Status)
	requireDecimal(t, "95.00", first.Balance)

	second, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Nil(t, second.Event)
	assert.Equal(t, domain.StatusPaidOut, second.Request.Status)

	requireDecimal(t, "95.00", env.balance(t, "acc-1"))
	assert.Len(t, env.ledgerEvents(t, "pr-1"), 1)
}

func TestProcessPayoutSent(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "200.00")
	req := env.createRequest(t, "wd-1", "acc-1", domain.DirectionWithdrawal, "50.00", "50.00")

	res, err := env.processor.ProcessPayoutSent(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusCompleted, res.Request.Status)
	requireDecimal(t, "150.00", env.balance(t, "acc-1"))

	events := env.ledgerEvents(t, "wd-1")
	require.Len(t, events, 1)
	assert.Equal(t, domain.LedgerEventDebit, events[0].Type)
}

func TestProcessPayoutSent_InsufficientFundsLeavesRequestPending(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "10.00")
	req := env.createRequest(t, "wd-1", "acc-1", domain.DirectionWithdrawal, "15.00", "15.00")

	_, err := env.processor.ProcessPayoutSent(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	requireDecimal(t, "10.00", env.balance(t, "acc-1"))
	assert.Empty(t, env.ledgerEvents(t, "wd-1"))

	stored, err := env.requests.GetByID(context.Background(), "wd-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestProcessor_InvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "100.00")

	deposit := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "10", "10")
	withdrawal := env.createRequest(t, "wd-1", "acc-1", domain.DirectionWithdrawal, "10", "10")

	t.Run("deposit settled as payout", func(t *testing.T) {
		_, err := env.processor.ProcessPayoutSent(context.Background(), deposit)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("withdrawal settled as received", func(t *testing.T) {
		_, err := env.processor.ProcessPaymentReceived(context.Background(), withdrawal)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("cancelled deposit cannot be paid", func(t *testing.T) {
		res, err := env.processor.ProcessPaymentFailed(context.Background(), deposit)
		require.NoError(t, err)
		require.True(t, res.Applied)
		assert.Equal(t, domain.StatusCancelled, res.Request.Status)
		assert.Nil(t, res.Event)

		_, err = env.processor.ProcessPaymentReceived(context.Background(), deposit)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Empty(t, env.ledgerEvents(t, "pr-1"))
	})

	t.Run("repeated failure is absorbed", func(t *testing.T) {
		res, err := env.processor.ProcessPaymentFailed(context.Background(), deposit)
		require.NoError(t, err)
		assert.False(t, res.Applied)
	})

	t.Run("completed withdrawal cannot fail", func(t *testing.T) {
		_, err := env.processor.ProcessPayoutSent(context.Background(), withdrawal)
		require.NoError(t, err)

		_, err = env.processor.ProcessPaymentFailed(context.Background(), withdrawal)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	requireDecimal(t, "90.00", env.balance(t, "acc-1"))
}

func TestProcessor_RequestNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.processor.ProcessPaymentReceived(context.Background(), &domain.PaymentRequest{ID: "missing"})
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestMediation_WithdrawalHoldAndRelease(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "100.00")
	req := env.createRequest(t, "wd-1", "acc-1", domain.DirectionWithdrawal, "30.00", "30.00")

	_, err := env.processor.ProcessPayoutSent(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "70.00", env.balance(t, "acc-1"))

	held, err := env.processor.PlaceInMediation(context.Background(), "wd-1", "customer dispute")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMediation, held.Request.Status)
	require.NotNil(t, held.Event)
	assert.Equal(t, domain.LedgerEventHold, held.Event.Type)
	requireDecimal(t, "40.00", env.balance(t, "acc-1"))

	released, err := env.processor.ReleaseFromMediation(context.Background(), "wd-1", "dispute resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, released.Request.Status)
	assert.Equal(t, domain.LedgerEventRelease, released.Event.Type)
	requireDecimal(t, "70.00", env.balance(t, "acc-1"))

	events := env.ledgerEvents(t, "wd-1")
	require.Len(t, events, 3)
	assert.Equal(t, domain.LedgerEventDebit, events[0].Type)
	assert.Equal(t, domain.LedgerEventHold, events[1].Type)
	assert.Equal(t, domain.LedgerEventRelease, events[2].Type)

	_, err = env.processor.PlaceInMediation(context.Background(), "wd-1", "again")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	requireDecimal(t, "70.00", env.balance(t, "acc-1"))
}

func TestMediation_HoldBypassesFundsCheck(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	req := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "20.00", "20.00")

	_, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	_, err = env.balances.Debit(context.Background(), "acc-1", decimal.RequireFromString("15.00"), "spend-1")
	require.NoError(t, err)

	_, err = env.processor.PlaceInMediation(context.Background(), "pr-1", "chargeback")
	require.NoError(t, err)
	requireDecimal(t, "-15.00", env.balance(t, "acc-1"))
}

func TestMediation_RequiresSettledRequest(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "20.00", "20.00")

	_, err := env.processor.PlaceInMediation(context.Background(), "pr-1", "early")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = env.processor.ReleaseFromMediation(context.Background(), "pr-1", "early")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMediation_SettlementWhileHeldIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	req := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "20.00", "20.00")

	_, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	_, err = env.processor.PlaceInMediation(context.Background(), "pr-1", "dispute")
	require.NoError(t, err)

	res, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusMediation, res.Request.Status)
	requireDecimal(t, "0", env.balance(t, "acc-1"))
}

func TestProcessor_WritesOutboxInSameUnit(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	req := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "10", "10")

	before, err := env.outbox.GetUnpublished(context.Background(), 100)
	require.NoError(t, err)

	_, err = env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)

	after, err := env.outbox.GetUnpublished(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, after, len(before)+2)

	types := []string{after[len(after)-2].EventType, after[len(after)-1].EventType}
	assert.ElementsMatch(t, []string{domain.EventTypePaymentStatusChanged, domain.EventTypeBalanceChanged}, types)
}

func TestProcessor_RollsBackWhenStatusUpdateFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	env := newTestEnv(t)
	env.createAccount(t, "acc-1", "0")
	stored := env.createRequest(t, "pr-1", "acc-1", domain.DirectionDeposit, "10", "10")

	requests := mocks.NewMockPaymentRequestRepository(ctrl)
	requests.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), "pr-1").Return(stored, nil)
	requests.EXPECT().
		UpdateStatus(gomock.Any(), gomock.Any(), "pr-1", domain.StatusWaitingForApproval, domain.StatusPaidOut, gomock.Any()).
		Return(false, assert.AnError)

	processor := usecase.NewPaymentProcessor(usecase.PaymentProcessorConfig{
		TxManager:   env.txManager,
		RequestRepo: requests,
		Mutator:     env.mutator,
		OutboxRepo:  env.outbox,
		IDGen:       env.idGen,
		Dispatcher:  env.dispatcher,
	})

	_, err := processor.ProcessPaymentReceived(context.Background(), stored)
	require.ErrorIs(t, err, assert.AnError)

	requireDecimal(t, "0", env.balance(t, "acc-1"))
	assert.Empty(t, env.ledgerEvents(t, "pr-1"))
	assert.Empty(t, env.events.all())
}

func TestProcessPaymentReceived_ForeignLedgerEventIsNotAbsorbed(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "victim", "0")
	env.createAccount(t, "other", "0")
	req := env.createRequest(t, "pr-1", "victim", domain.DirectionDeposit, "100.00", "95.00")

	// Another writer took the (pr-1, CREDIT) slot on a different account.
	ctx := context.Background()
	tx, err := env.txManager.Begin(ctx)
	require.NoError(t, err)
	_, err = env.mutator.Apply(ctx, tx, usecase.Mutation{
		AccountID:     "other",
		TransactionID: "pr-1",
		Type:          domain.LedgerEventCredit,
		Amount:        decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	res, err := env.processor.ProcessPaymentReceived(ctx, req)
	require.ErrorIs(t, err, domain.ErrLedgerConflict)
	assert.Nil(t, res)

	requireDecimal(t, "0", env.balance(t, "victim"))
	stored, err := env.requests.GetByID(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForApproval, stored.Status)
}

func TestAdjust_CallerTransactionIDCannotShadowRequest(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "victim", "0")
	env.createAccount(t, "other", "0")
	req := env.createRequest(t, "pr-1", "victim", domain.DirectionDeposit, "100.00", "95.00")

	adj, err := env.balances.Adjust(context.Background(), usecase.AdjustmentInput{
		AccountID:     "other",
		TransactionID: "pr-1",
		Type:          domain.LedgerEventCredit,
		Amount:        decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "adj_pr-1", adj.Event.TransactionID)

	res, err := env.processor.ProcessPaymentReceived(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusPaidOut, res.Request.Status)
	requireDecimal(t, "95.00", env.balance(t, "victim"))
	requireDecimal(t, "1.00", env.balance(t, "other"))

	events := env.ledgerEvents(t, "pr-1")
	require.Len(t, events, 1)
	assert.Equal(t, "victim", events[0].AccountID)
}
