package usecase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iho/gosettle/internal/adapter/repository/memory"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/usecase"
	"github.com/iho/gosettle/internal/usecase/mocks"
)

// testEnv wires the use cases over the in-memory backend.
type testEnv struct {
	store       *memory.Store
	txManager   *memory.TxManager
	accounts    *memory.AccountRepository
	ledger      *memory.LedgerRepository
	requests    *memory.PaymentRequestRepository
	idempotency *memory.IdempotencyRepository
	outbox      *memory.OutboxRepository
	idGen       *mocks.MockIDGenerator
	metrics     *metrics.Metrics
	dispatcher  *usecase.EventDispatcher
	events      *eventRecorder

	mutator   *usecase.BalanceMutator
	balances  *usecase.BalanceUseCase
	processor *usecase.PaymentProcessor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	env := &testEnv{
		store:       store,
		txManager:   memory.NewTxManager(store),
		accounts:    memory.NewAccountRepository(store),
		ledger:      memory.NewLedgerRepository(store),
		requests:    memory.NewPaymentRequestRepository(store),
		idempotency: memory.NewIdempotencyRepository(store),
		outbox:      memory.NewOutboxRepository(store),
		idGen:       mocks.NewMockIDGenerator(),
		metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
		dispatcher:  usecase.NewEventDispatcher(zerolog.Nop()),
		events:      &eventRecorder{},
	}
	env.dispatcher.Subscribe(env.events)

	env.mutator = usecase.NewBalanceMutator(env.accounts, env.ledger, env.idGen)
	env.balances = usecase.NewBalanceUseCase(usecase.BalanceUseCaseConfig{
		TxManager:  env.txManager,
		Mutator:    env.mutator,
		OutboxRepo: env.outbox,
		IDGen:      env.idGen,
		Dispatcher: env.dispatcher,
		Metrics:    env.metrics,
		Logger:     zerolog.Nop(),
	})
	env.processor = usecase.NewPaymentProcessor(usecase.PaymentProcessorConfig{
		TxManager:   env.txManager,
		RequestRepo: env.requests,
		Mutator:     env.mutator,
		OutboxRepo:  env.outbox,
		IDGen:       env.idGen,
		Dispatcher:  env.dispatcher,
		Metrics:     env.metrics,
		Logger:      zerolog.Nop(),
	})
	return env
}

func (e *testEnv) createAccount(t *testing.T, id string, balance string) *domain.Account {
	t.Helper()

	require.NoError(t, e.accounts.Create(context.Background(), &domain.Account{
		ID:       id,
		Name:     "account " + id,
		Currency: "BRL",
		Balance:  decimal.Zero,
	}))
	if b := decimal.RequireFromString(balance); b.IsPositive() {
		_, err := e.balances.Credit(context.Background(), id, b, "seed-"+id)
		require.NoError(t, err)
	}
	e.events.reset()

	account, err := e.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func (e *testEnv) createRequest(t *testing.T, id, accountID string, direction domain.Direction, gross, net string) *domain.PaymentRequest {
	t.Helper()

	req := &domain.PaymentRequest{
		ID:          id,
		AccountID:   accountID,
		Direction:   direction,
		Amount:      decimal.RequireFromString(gross),
		NetAmount:   decimal.RequireFromString(net),
		Status:      direction.InitialStatus(),
		Provider:    "acme",
		ExternalRef: "ext-" + id,
	}
	require.NoError(t, e.requests.Create(context.Background(), req))
	return req
}

func (e *testEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()

	account, err := e.accounts.GetByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func (e *testEnv) ledgerEvents(t *testing.T, transactionID string) []*domain.LedgerEvent {
	t.Helper()

	events, err := e.ledger.ListByTransaction(context.Background(), transactionID)
	require.NoError(t, err)
	return events
}

// eventRecorder captures dispatched BalanceChanged events.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.BalanceChanged
}

func (r *eventRecorder) BalanceChanged(_ context.Context, event domain.BalanceChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []domain.BalanceChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.BalanceChanged(nil), r.events...)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "expected %s, got %s", want, got)
}
