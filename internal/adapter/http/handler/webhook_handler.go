package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/adapter/http/dto"
	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/usecase"
)

const (
	// ReplayHeader is set when the body comes from an earlier delivery.
	ReplayHeader = "X-Idempotency-Replay"
	// StatusHeader reports how the gate resolved the delivery.
	StatusHeader = "X-Idempotency-Status"

	maxWebhookBody = 1 << 20
)

// NotificationService applies verified notifications at most once.
type NotificationService interface {
	HandleNotification(ctx context.Context, n *domain.NormalizedNotification) (*usecase.IngestResult, error)
}

// VerifierRegistry resolves a provider's signature verifier.
type VerifierRegistry interface {
	Get(provider domain.Provider) (webhook.SignatureVerifier, error)
}

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	verifiers VerifierRegistry
	service   NotificationService
	metrics   *metrics.Metrics
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifiers VerifierRegistry, service NotificationService, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{verifiers: verifiers, service: service, metrics: m}
}

// Receive handles POST /webhooks/{provider}. Processed, replayed, in-flight
// and ignored deliveries all answer 200 so providers stop retrying.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	verifier, err := h.verifiers.Get(domain.Provider(chi.URLParam(r, "provider")))
	if err != nil {
		respondError(w, r, "unknown provider", err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	n, err := verifier.Verify(r.Header, body)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) && h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues("webhook_signature").Inc()
		}
		respondError(w, r, "notification rejected", err)
		return
	}

	log := zerolog.Ctx(r.Context()).With().
		Str("provider", string(n.Provider)).
		Str("external_id", n.ExternalTransactionID).
		Logger()
	ctx := log.WithContext(r.Context())
	r = r.WithContext(ctx)

	res, err := h.service.HandleNotification(ctx, n)
	if err != nil {
		if res != nil && res.Replayed {
			w.Header().Set(ReplayHeader, "true")
			w.Header().Set(StatusHeader, "failed")
		}
		respondError(w, r, "failed to process notification", err)
		return
	}

	switch {
	case res == nil:
		w.Header().Set(StatusHeader, "ignored")
		writeJSON(w, http.StatusOK, dto.WebhookAck{Status: "ignored"})
	case res.InFlight:
		w.Header().Set(StatusHeader, "in_flight")
		writeJSON(w, http.StatusOK, dto.WebhookAck{Status: "accepted"})
	default:
		if res.Replayed {
			w.Header().Set(ReplayHeader, "true")
		}
		w.Header().Set(StatusHeader, "processed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Payload)
	}
}
