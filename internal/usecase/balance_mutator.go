package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
)

// Mutation describes one balance change paired with its ledger event.
type Mutation struct {
	AccountID     string
	TransactionID string
	Type          domain.LedgerEventType
	Amount        decimal.Decimal
	Metadata      map[string]any
	// SkipFundsCheck lets administrative callers drive a balance negative.
	SkipFundsCheck bool
}

// MutationResult is the outcome of Apply.
type MutationResult struct {
	Event     *domain.LedgerEvent
	Balance   decimal.Decimal
	Duplicate bool
}

// BalanceMutator is the only writer of account balances. Every call runs
// inside the caller's transaction with the account row locked, so the
// read-modify-write and the ledger append are atomic per account.
type BalanceMutator struct {
	accountRepo AccountRepository
	ledgerRepo  LedgerRepository
	idGen       IDGenerator
	now         func() time.Time
}

// NewBalanceMutator creates a new BalanceMutator.
func NewBalanceMutator(accountRepo AccountRepository, ledgerRepo LedgerRepository, idGen IDGenerator) *BalanceMutator {
	return &BalanceMutator{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		idGen:       idGen,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Credit adds amount to the account and returns the resulting balance.
func (m *BalanceMutator) Credit(ctx context.Context, tx Transaction, accountID string, amount decimal.Decimal, transactionID string) (decimal.Decimal, error) {
	res, err := m.Apply(ctx, tx, Mutation{
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

// Debit subtracts amount from the account and returns the resulting balance.
// It fails with domain.ErrInsufficientFunds when the balance would go negative.
func (m *BalanceMutator) Debit(ctx context.Context, tx Transaction, accountID string, amount decimal.Decimal, transactionID string) (decimal.Decimal, error) {
	res, err := m.Apply(ctx, tx, Mutation{
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

// Apply locks the account, appends the ledger event and writes the new balance.
// A ledger duplicate is absorbed: the result carries Duplicate=true and the
// current balance, and nothing is written.
func (m *BalanceMutator) Apply(ctx context.Context, tx Transaction, mut Mutation) (*MutationResult, error) {
	if !mut.Type.IsValid() {
		return nil, fmt.Errorf("unknown ledger event type %q", mut.Type)
	}
	if !mut.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if mut.TransactionID == "" {
		return nil, errors.New("mutation requires a causing transaction id")
	}

	account, err := m.accountRepo.GetByIDForUpdate(ctx, tx, mut.AccountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.ApplyCredit(mut.Amount)
	if mut.Type.Sign() < 0 {
		newBalance = account.ApplyDebit(mut.Amount)
	}

	now := m.now()
	event := &domain.LedgerEvent{
		ID:            m.idGen.Generate(),
		Type:          mut.Type,
		TransactionID: mut.TransactionID,
		AccountID:     account.ID,
		Amount:        mut.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		Metadata:      mut.Metadata,
		CreatedAt:     now,
	}

	// The append runs before the funds check so a replayed debit is reported
	// as a duplicate; a failed check aborts the unit and discards the row.
	if err := m.ledgerRepo.Append(ctx, tx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			return &MutationResult{Balance: account.Balance, Duplicate: true}, nil
		}
		return nil, err
	}

	if mut.Type.Sign() < 0 && !mut.SkipFundsCheck {
		if err := account.ValidateDebit(mut.Amount); err != nil {
			return nil, err
		}
	}

	if err := m.accountRepo.UpdateBalance(ctx, tx, account.ID, newBalance, now); err != nil {
		return nil, err
	}

	return &MutationResult{Event: event, Balance: newBalance}, nil
}

// Recorded returns the stored event that made mut a duplicate, or nil when
// none is committed.
func (m *BalanceMutator) Recorded(ctx context.Context, mut Mutation) (*domain.LedgerEvent, error) {
	events, err := m.ledgerRepo.ListByTransaction(ctx, mut.TransactionID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Type == mut.Type {
			return e, nil
		}
	}
	return nil, nil
}

// balanceChangedFrom builds the post-commit notification for a mutation.
func balanceChangedFrom(event *domain.LedgerEvent) domain.BalanceChanged {
	return domain.BalanceChanged{
		AccountID:     event.AccountID,
		TransactionID: event.TransactionID,
		EventType:     event.Type,
		Amount:        event.Amount.String(),
		NewBalance:    event.BalanceAfter.String(),
		OccurredAt:    event.CreatedAt,
	}
}
