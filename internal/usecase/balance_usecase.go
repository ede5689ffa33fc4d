package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
)

// BalanceUseCase exposes the balance mutator as standalone atomic operations
// for administrative adjustments and collaborators outside the webhook flow.
type BalanceUseCase struct {
	txManager  TransactionManager
	retrier    Retrier
	mutator    *BalanceMutator
	outboxRepo OutboxRepository
	idGen      IDGenerator
	dispatcher *EventDispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// BalanceUseCaseConfig holds dependencies for BalanceUseCase.
type BalanceUseCaseConfig struct {
	TxManager  TransactionManager
	Retrier    Retrier
	Mutator    *BalanceMutator
	OutboxRepo OutboxRepository
	IDGen      IDGenerator
	Dispatcher *EventDispatcher
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// NewBalanceUseCase creates a new BalanceUseCase.
func NewBalanceUseCase(cfg BalanceUseCaseConfig) *BalanceUseCase {
	return &BalanceUseCase{
		txManager:  cfg.TxManager,
		retrier:    cfg.Retrier,
		mutator:    cfg.Mutator,
		outboxRepo: cfg.OutboxRepo,
		idGen:      cfg.IDGen,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// AdjustmentInput represents a direct credit or debit.
type AdjustmentInput struct {
	AccountID      string
	TransactionID  string
	Type           domain.LedgerEventType
	Amount         decimal.Decimal
	Reason         string
	SkipFundsCheck bool
}

// Credit credits accountID by amount exactly once per transactionID.
func (uc *BalanceUseCase) Credit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID string) (decimal.Decimal, error) {
	res, err := uc.Adjust(ctx, AdjustmentInput{
		AccountID:     accountID,
		TransactionID: transactionID,
		Type:          domain.LedgerEventCredit,
		Amount:        amount,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.Balance, nil
}

// Debit debits accountID by amount exactly once per transactionID, enforcing funds.
func (uc *BalanceUseCase) Debit(ctx context.Context, accountID string, amount decimal.Decimal, transactionID string) (decimal.Decimal, error) {
	res, err := uc.Adjust(ctx, AdjustmentInput{
		AccountID:     accountID,
		TransactionID: transactionID,
		Type:          domain.LedgerEventDebit,
		Amount:        amount,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.Balance, nil
}

// adjustmentTransactionPrefix keeps adjustment ids apart from payment request
// ids in the ledger's (transaction_id, type) space.
const adjustmentTransactionPrefix = "adj_"

func adjustmentTransactionID(id string, idGen IDGenerator) string {
	if id == "" {
		id = idGen.Generate()
	}
	return adjustmentTransactionPrefix + id
}

// Adjust applies one credit or debit in its own transaction. Caller ids are
// stored under the adj_ prefix.
func (uc *BalanceUseCase) Adjust(ctx context.Context, input AdjustmentInput) (*MutationResult, error) {
	if input.Type != domain.LedgerEventCredit && input.Type != domain.LedgerEventDebit {
		return nil, fmt.Errorf("adjustments must be CREDIT or DEBIT, got %q", input.Type)
	}
	if err := domain.ValidateAmount(input.Amount); err != nil {
		return nil, err
	}
	input.TransactionID = adjustmentTransactionID(input.TransactionID, uc.idGen)

	var metadata map[string]any
	if input.Reason != "" {
		metadata = map[string]any{"reason": input.Reason}
	}

	var result *MutationResult
	err := runInTx(ctx, uc.txManager, uc.retrier, func(ctx context.Context, tx Transaction) error {
		res, err := uc.mutator.Apply(ctx, tx, Mutation{
			AccountID:      input.AccountID,
			TransactionID:  input.TransactionID,
			Type:           input.Type,
			Amount:         input.Amount,
			Metadata:       metadata,
			SkipFundsCheck: input.SkipFundsCheck,
		})
		if err != nil {
			return err
		}
		result = res
		if res.Duplicate {
			return nil
		}

		changed := balanceChangedFrom(res.Event)
		return uc.outboxRepo.Create(ctx, tx, newOutboxEvent(uc.idGen,
			domain.AggregateTypeAccount, res.Event.AccountID, domain.EventTypeBalanceChanged,
			changed.Payload(), time.Now().UTC()))
	})
	if err != nil {
		uc.logger.Warn().Err(err).
			Str("account_id", input.AccountID).
			Str("transaction_id", input.TransactionID).
			Str("type", string(input.Type)).
			Msg("balance adjustment failed")
		return nil, err
	}

	if result.Duplicate {
		uc.logger.Info().
			Str("account_id", input.AccountID).
			Str("transaction_id", input.TransactionID).
			Msg("duplicate adjustment absorbed")
		if uc.metrics != nil {
			uc.metrics.DuplicateEvents.WithLabelValues(string(input.Type)).Inc()
		}
		return result, nil
	}

	if uc.metrics != nil {
		uc.metrics.BalanceMutations.WithLabelValues(string(input.Type)).Inc()
		uc.metrics.MutationAmount.Observe(input.Amount.InexactFloat64())
	}
	uc.dispatcher.Dispatch(ctx, balanceChangedFrom(result.Event))

	return result, nil
}
