package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/gosettle/internal/adapter/http/dto"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// LedgerService reads the append-only ledger.
type LedgerService interface {
	ListAccountEvents(ctx context.Context, input usecase.ListAccountEventsInput) ([]*domain.LedgerEvent, error)
	ListTransactionEvents(ctx context.Context, transactionID string) ([]*domain.LedgerEvent, error)
}

// ReconciliationService compares balances with their ledgers.
type ReconciliationService interface {
	ReconcileAccount(ctx context.Context, accountID string) (*usecase.ReconciliationResult, error)
	GenerateReconciliationReport(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// LedgerHandler handles ledger and reconciliation requests.
type LedgerHandler struct {
	ledgerUC LedgerService
	reconUC  ReconciliationService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerUC LedgerService, reconUC ReconciliationService) *LedgerHandler {
	return &LedgerHandler{ledgerUC: ledgerUC, reconUC: reconUC}
}

// AccountEvents lists an account's ledger events, oldest first.
func (h *LedgerHandler) AccountEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	events, err := h.ledgerUC.ListAccountEvents(r.Context(), usecase.ListAccountEventsInput{
		AccountID: chi.URLParam(r, "id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(w, r, "failed to list ledger events", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListLedgerEventsResponse{
		Events: dto.LedgerEventsFromDomain(events),
		Total:  int64(len(events)),
	})
}

// TransactionEvents lists every ledger event caused by one transaction.
func (h *LedgerHandler) TransactionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledgerUC.ListTransactionEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "failed to list ledger events", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListLedgerEventsResponse{
		Events: dto.LedgerEventsFromDomain(events),
		Total:  int64(len(events)),
	})
}

// ReconcileAccount compares one account's balance with its ledger. Drift is
// reported in the body, not as an error status.
func (h *LedgerHandler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconUC.ReconcileAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "failed to reconcile account", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationFromUseCase(res))
}

// Report reconciles every account.
func (h *LedgerHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconUC.GenerateReconciliationReport(r.Context())
	if err != nil {
		respondError(w, r, "failed to generate reconciliation report", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationReportFromUseCase(report))
}
