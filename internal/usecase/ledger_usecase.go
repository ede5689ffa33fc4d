package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
)

// LedgerUseCase handles read access to the append-only ledger.
type LedgerUseCase struct {
	accountRepo AccountRepository
	ledgerRepo  LedgerRepository
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(accountRepo AccountRepository, ledgerRepo LedgerRepository) *LedgerUseCase {
	return &LedgerUseCase{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
	}
}

// ListAccountEventsInput represents input for paging an account's ledger.
type ListAccountEventsInput struct {
	AccountID string
	Limit     int
	Offset    int
}

// ListAccountEvents returns an account's ledger events, oldest first.
func (uc *LedgerUseCase) ListAccountEvents(ctx context.Context, input ListAccountEventsInput) ([]*domain.LedgerEvent, error) {
	limit, offset, _ := domain.ValidatePagination(input.Limit, input.Offset)
	return uc.ledgerRepo.ListByAccount(ctx, input.AccountID, limit, offset)
}

// ListTransactionEvents returns every event caused by one payment request or adjustment.
func (uc *LedgerUseCase) ListTransactionEvents(ctx context.Context, transactionID string) ([]*domain.LedgerEvent, error) {
	return uc.ledgerRepo.ListByTransaction(ctx, transactionID)
}

// ReconstructBalance folds the full ledger of an account into a balance.
// It is a verification side channel and never reads the live balance.
func (uc *LedgerUseCase) ReconstructBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if _, err := uc.accountRepo.GetByID(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return uc.ledgerRepo.SumByAccount(ctx, nil, accountID)
}
