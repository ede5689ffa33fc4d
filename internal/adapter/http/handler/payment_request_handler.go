package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/gosettle/internal/adapter/http/dto"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// PaymentRequestService defines the behavior needed by PaymentRequestHandler.
type PaymentRequestService interface {
	CreatePaymentRequest(ctx context.Context, input usecase.CreatePaymentRequestInput) (*domain.PaymentRequest, error)
	GetPaymentRequest(ctx context.Context, id string) (*domain.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, input usecase.ListPaymentRequestsInput) ([]*domain.PaymentRequest, error)
}

// MediationService places and lifts mediation holds.
type MediationService interface {
	PlaceInMediation(ctx context.Context, requestID, reason string) (*usecase.ProcessResult, error)
	ReleaseFromMediation(ctx context.Context, requestID, reason string) (*usecase.ProcessResult, error)
}

// PaymentRequestHandler handles payment request HTTP requests.
type PaymentRequestHandler struct {
	requestUC   PaymentRequestService
	mediationUC MediationService
}

// NewPaymentRequestHandler creates a new PaymentRequestHandler.
func NewPaymentRequestHandler(requestUC PaymentRequestService, mediationUC MediationService) *PaymentRequestHandler {
	return &PaymentRequestHandler{requestUC: requestUC, mediationUC: mediationUC}
}

// Create opens a new deposit or withdrawal request.
func (h *PaymentRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePaymentRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pr, err := h.requestUC.CreatePaymentRequest(r.Context(), req.ToUseCaseInput())
	if err != nil {
		respondError(w, r, "failed to create payment request", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.PaymentRequestFromDomain(pr))
}

// Get retrieves a payment request by ID.
func (h *PaymentRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	pr, err := h.requestUC.GetPaymentRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "failed to get payment request", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PaymentRequestFromDomain(pr))
}

// ListByAccount lists an account's payment requests, newest first.
func (h *PaymentRequestHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	reqs, err := h.requestUC.ListPaymentRequests(r.Context(), usecase.ListPaymentRequestsInput{
		AccountID: chi.URLParam(r, "id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(w, r, "failed to list payment requests", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListPaymentRequestsResponse{
		PaymentRequests: dto.PaymentRequestsFromDomain(reqs),
		Total:           int64(len(reqs)),
	})
}

// PlaceInMediation freezes the request's net amount.
func (h *PaymentRequestHandler) PlaceInMediation(w http.ResponseWriter, r *http.Request) {
	h.mediate(w, r, "failed to place request in mediation", h.mediationUC.PlaceInMediation)
}

// ReleaseFromMediation returns a held amount to the account.
func (h *PaymentRequestHandler) ReleaseFromMediation(w http.ResponseWriter, r *http.Request) {
	h.mediate(w, r, "failed to release request from mediation", h.mediationUC.ReleaseFromMediation)
}

func (h *PaymentRequestHandler) mediate(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	op func(ctx context.Context, requestID, reason string) (*usecase.ProcessResult, error),
) {
	var req dto.MediationRequest
	// DELETE usually carries no body.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := op(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondError(w, r, message, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ProcessResultFromUseCase(res))
}
