package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccountFromDomain converts domain account to response.
func AccountFromDomain(a *domain.Account) *AccountResponse {
	return &AccountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Currency:  a.Currency,
		Balance:   a.Balance,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// AccountsFromDomain converts domain accounts to responses.
func AccountsFromDomain(accounts []*domain.Account) []*AccountResponse {
	result := make([]*AccountResponse, len(accounts))
	for i, a := range accounts {
		result[i] = AccountFromDomain(a)
	}
	return result
}

// ListAccountsResponse represents a list of accounts.
type ListAccountsResponse struct {
	Accounts []*AccountResponse `json:"accounts"`
	Total    int64              `json:"total"`
}

// PaymentRequestResponse represents a payment request in API responses.
type PaymentRequestResponse struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Status      string          `json:"status"`
	Provider    string          `json:"provider"`
	ExternalRef string          `json:"external_ref"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PaymentRequestFromDomain converts a domain payment request to response.
func PaymentRequestFromDomain(p *domain.PaymentRequest) *PaymentRequestResponse {
	return &PaymentRequestResponse{
		ID:          p.ID,
		AccountID:   p.AccountID,
		Direction:   string(p.Direction),
		Amount:      p.Amount,
		NetAmount:   p.NetAmount,
		Status:      string(p.Status),
		Provider:    string(p.Provider),
		ExternalRef: p.ExternalRef,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ListPaymentRequestsResponse represents a page of payment requests.
type ListPaymentRequestsResponse struct {
	PaymentRequests []*PaymentRequestResponse `json:"payment_requests"`
	Total           int64                     `json:"total"`
}

// PaymentRequestsFromDomain converts domain payment requests to responses.
func PaymentRequestsFromDomain(reqs []*domain.PaymentRequest) []*PaymentRequestResponse {
	result := make([]*PaymentRequestResponse, len(reqs))
	for i, p := range reqs {
		result[i] = PaymentRequestFromDomain(p)
	}
	return result
}

// LedgerEventResponse represents a ledger event in API responses.
type LedgerEventResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEventFromDomain converts a domain ledger event to response.
func LedgerEventFromDomain(e *domain.LedgerEvent) *LedgerEventResponse {
	return &LedgerEventResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		TransactionID: e.TransactionID,
		AccountID:     e.AccountID,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

// LedgerEventsFromDomain converts domain ledger events to responses.
func LedgerEventsFromDomain(events []*domain.LedgerEvent) []*LedgerEventResponse {
	result := make([]*LedgerEventResponse, len(events))
	for i, e := range events {
		result[i] = LedgerEventFromDomain(e)
	}
	return result
}

// ListLedgerEventsResponse represents a page of an account's ledger.
type ListLedgerEventsResponse struct {
	Events []*LedgerEventResponse `json:"events"`
	Total  int64                  `json:"total"`
}

// ProcessResultResponse is the outcome of a mediation or adjustment.
type ProcessResultResponse struct {
	PaymentRequest *PaymentRequestResponse `json:"payment_request,omitempty"`
	Event          *LedgerEventResponse    `json:"event,omitempty"`
	Balance        *decimal.Decimal        `json:"balance,omitempty"`
	Applied        bool                    `json:"applied"`
}

// ProcessResultFromUseCase converts a processor result to response.
func ProcessResultFromUseCase(r *usecase.ProcessResult) *ProcessResultResponse {
	resp := &ProcessResultResponse{Applied: r.Applied}
	if r.Request != nil {
		resp.PaymentRequest = PaymentRequestFromDomain(r.Request)
	}
	if r.Event != nil {
		resp.Event = LedgerEventFromDomain(r.Event)
		balance := r.Balance
		resp.Balance = &balance
	}
	return resp
}

// MutationResultFromUseCase converts an adjustment result to response.
func MutationResultFromUseCase(r *usecase.MutationResult) *ProcessResultResponse {
	resp := &ProcessResultResponse{Applied: !r.Duplicate}
	if r.Event != nil {
		resp.Event = LedgerEventFromDomain(r.Event)
	}
	balance := r.Balance
	resp.Balance = &balance
	return resp
}

// ReconciliationResponse compares an account's balance with its ledger.
type ReconciliationResponse struct {
	AccountID         string          `json:"account_id"`
	RecordedBalance   decimal.Decimal `json:"recorded_balance"`
	CalculatedBalance decimal.Decimal `json:"calculated_balance"`
	Difference        decimal.Decimal `json:"difference"`
	IsReconciled      bool            `json:"is_reconciled"`
	LastChecked       time.Time       `json:"last_checked"`
}

// ReconciliationFromUseCase converts a reconciliation result to response.
func ReconciliationFromUseCase(r *usecase.ReconciliationResult) *ReconciliationResponse {
	return &ReconciliationResponse{
		AccountID:         r.AccountID,
		RecordedBalance:   r.RecordedBalance,
		CalculatedBalance: r.CalculatedBalance,
		Difference:        r.Difference,
		IsReconciled:      r.IsReconciled,
		LastChecked:       r.LastChecked,
	}
}

// ReconciliationReportResponse summarizes a full reconciliation sweep.
type ReconciliationReportResponse struct {
	TotalAccounts      int                       `json:"total_accounts"`
	ReconciledAccounts int                       `json:"reconciled_accounts"`
	Discrepancies      []*ReconciliationResponse `json:"discrepancies"`
	TotalDrift         decimal.Decimal           `json:"total_drift"`
	CheckedAt          time.Time                 `json:"checked_at"`
}

// ReconciliationReportFromUseCase converts a report to response.
func ReconciliationReportFromUseCase(r *usecase.ReconciliationReport) *ReconciliationReportResponse {
	discrepancies := make([]*ReconciliationResponse, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		discrepancies[i] = ReconciliationFromUseCase(d)
	}
	return &ReconciliationReportResponse{
		TotalAccounts:      r.TotalAccounts,
		ReconciledAccounts: r.ReconciledAccounts,
		Discrepancies:      discrepancies,
		TotalDrift:         r.TotalDrift,
		CheckedAt:          r.CheckedAt,
	}
}

// WebhookAck is returned for notifications that produce no stored result.
type WebhookAck struct {
	Status string `json:"status"`
}
