package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
)

const balanceCachePrefix = "account:"

// AccountUseCase handles account business logic.
type AccountUseCase struct {
	accountRepo AccountRepository
	idGen       IDGenerator
	cache       Cache
	logger      zerolog.Logger
}

// NewAccountUseCase creates a new AccountUseCase. cache may be nil.
func NewAccountUseCase(accountRepo AccountRepository, idGen IDGenerator, cache Cache, logger zerolog.Logger) *AccountUseCase {
	return &AccountUseCase{
		accountRepo: accountRepo,
		idGen:       idGen,
		cache:       cache,
		logger:      logger,
	}
}

// CreateAccountInput represents input for creating an account.
type CreateAccountInput struct {
	// ID lets the caller reuse its user id; generated when empty.
	ID       string
	Name     string
	Currency string
}

// CreateAccount creates a new account with a zero balance.
func (uc *AccountUseCase) CreateAccount(ctx context.Context, input CreateAccountInput) (*domain.Account, error) {
	if err := domain.ValidateAccountName(input.Name); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	id := input.ID
	if id == "" {
		id = uc.idGen.Generate()
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:        id,
		Name:      strings.TrimSpace(input.Name),
		Currency:  currency,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

// GetAccount retrieves an account by ID, served from cache when possible.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if account, ok := uc.cached(ctx, id); ok {
		return account, nil
	}

	account, err := uc.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if uc.cache != nil {
		if data, err := json.Marshal(account); err == nil {
			if err := uc.cache.Set(ctx, balanceCachePrefix+id, data, BalanceCacheTTL); err != nil {
				uc.logger.Warn().Err(err).Str("account_id", id).Msg("failed to cache account")
			}
		}
	}

	return account, nil
}

// ListAccountsInput represents input for listing accounts.
type ListAccountsInput struct {
	Limit  int
	Offset int
}

// ListAccounts lists accounts with pagination.
func (uc *AccountUseCase) ListAccounts(ctx context.Context, input ListAccountsInput) ([]*domain.Account, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}
	return uc.accountRepo.List(ctx, input.Limit, input.Offset)
}

// BalanceChanged drops the cached account so the next read sees the committed balance.
func (uc *AccountUseCase) BalanceChanged(ctx context.Context, event domain.BalanceChanged) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Delete(ctx, balanceCachePrefix+event.AccountID); err != nil {
		uc.logger.Warn().Err(err).Str("account_id", event.AccountID).Msg("failed to invalidate cached account")
	}
}

func (uc *AccountUseCase) cached(ctx context.Context, id string) (*domain.Account, bool) {
	if uc.cache == nil {
		return nil, false
	}

	data, err := uc.cache.Get(ctx, balanceCachePrefix+id)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			uc.logger.Warn().Err(err).Str("account_id", id).Msg("account cache unavailable")
		}
		return nil, false
	}

	var account domain.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, false
	}
	return &account, true
}
