package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
)

// PaymentRequestUseCase creates and reads payment requests.
type PaymentRequestUseCase struct {
	requestRepo PaymentRequestRepository
	accountRepo AccountRepository
	idGen       IDGenerator
	logger      zerolog.Logger
}

// NewPaymentRequestUseCase creates a new PaymentRequestUseCase.
func NewPaymentRequestUseCase(requestRepo PaymentRequestRepository, accountRepo AccountRepository, idGen IDGenerator, logger zerolog.Logger) *PaymentRequestUseCase {
	return &PaymentRequestUseCase{
		requestRepo: requestRepo,
		accountRepo: accountRepo,
		idGen:       idGen,
		logger:      logger,
	}
}

// CreatePaymentRequestInput represents input for opening a payment request.
type CreatePaymentRequestInput struct {
	AccountID   string
	Direction   domain.Direction
	Amount      decimal.Decimal
	NetAmount   decimal.Decimal
	Provider    domain.Provider
	ExternalRef string
	Metadata    map[string]any
}

// CreatePaymentRequest opens a request in its direction's initial status.
// A zero net amount defaults to the gross amount.
func (uc *PaymentRequestUseCase) CreatePaymentRequest(ctx context.Context, input CreatePaymentRequestInput) (*domain.PaymentRequest, error) {
	net := input.NetAmount
	if net.IsZero() {
		net = input.Amount
	}

	now := time.Now().UTC()
	req := &domain.PaymentRequest{
		ID:          uc.idGen.Generate(),
		AccountID:   input.AccountID,
		Direction:   input.Direction,
		Amount:      input.Amount,
		NetAmount:   net,
		Status:      input.Direction.InitialStatus(),
		Provider:    domain.Provider(strings.ToLower(strings.TrimSpace(string(input.Provider)))),
		ExternalRef: strings.TrimSpace(input.ExternalRef),
		Metadata:    input.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := uc.accountRepo.GetByID(ctx, req.AccountID); err != nil {
		return nil, err
	}

	if err := uc.requestRepo.Create(ctx, req); err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("payment_request_id", req.ID).
		Str("account_id", req.AccountID).
		Str("direction", string(req.Direction)).
		Str("net_amount", req.NetAmount.String()).
		Msg("payment request created")

	return req, nil
}

// GetPaymentRequest retrieves a payment request by ID.
func (uc *PaymentRequestUseCase) GetPaymentRequest(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	return uc.requestRepo.GetByID(ctx, id)
}

// ListPaymentRequestsInput represents input for listing an account's requests.
type ListPaymentRequestsInput struct {
	AccountID string
	Limit     int
	Offset    int
}

// ListPaymentRequests lists an account's payment requests, newest first.
func (uc *PaymentRequestUseCase) ListPaymentRequests(ctx context.Context, input ListPaymentRequestsInput) ([]*domain.PaymentRequest, error) {
	limit, offset, _ := domain.ValidatePagination(input.Limit, input.Offset)
	return uc.requestRepo.ListByAccount(ctx, input.AccountID, limit, offset)
}
