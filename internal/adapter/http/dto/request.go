package dto

import (
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// CreateAccountRequest represents a request to create an account.
type CreateAccountRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateAccountRequest) ToUseCaseInput() usecase.CreateAccountInput {
	return usecase.CreateAccountInput{
		ID:       r.ID,
		Name:     r.Name,
		Currency: r.Currency,
	}
}

// CreatePaymentRequestRequest opens a deposit or withdrawal.
type CreatePaymentRequestRequest struct {
	AccountID   string           `json:"account_id"`
	Direction   string           `json:"direction"`
	Amount      decimal.Decimal  `json:"amount"`
	NetAmount   *decimal.Decimal `json:"net_amount,omitempty"`
	Provider    string           `json:"provider"`
	ExternalRef string           `json:"external_ref"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreatePaymentRequestRequest) ToUseCaseInput() usecase.CreatePaymentRequestInput {
	input := usecase.CreatePaymentRequestInput{
		AccountID:   r.AccountID,
		Direction:   domain.Direction(r.Direction),
		Amount:      r.Amount,
		Provider:    domain.Provider(r.Provider),
		ExternalRef: r.ExternalRef,
		Metadata:    r.Metadata,
	}
	if r.NetAmount != nil {
		input.NetAmount = *r.NetAmount
	}
	return input
}

// AdjustmentRequest is an administrative credit or debit.
type AdjustmentRequest struct {
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Reason         string          `json:"reason"`
	SkipFundsCheck bool            `json:"skip_funds_check"`
}

// ToUseCaseInput converts to use case input.
func (r *AdjustmentRequest) ToUseCaseInput(accountID string) usecase.AdjustmentInput {
	return usecase.AdjustmentInput{
		AccountID:      accountID,
		TransactionID:  r.TransactionID,
		Type:           domain.LedgerEventType(r.Type),
		Amount:         r.Amount,
		Reason:         r.Reason,
		SkipFundsCheck: r.SkipFundsCheck,
	}
}

// MediationRequest carries the operator's reason for a hold or release.
type MediationRequest struct {
	Reason string `json:"reason"`
}
