package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
)

// NotificationResult is the stored and replayed body of a handled notification.
type NotificationResult struct {
	PaymentRequestID string `json:"payment_request_id"`
	Direction        string `json:"direction"`
	Status           string `json:"status"`
	Applied          bool   `json:"applied"`
	Balance          string `json:"balance,omitempty"`
	LedgerEventID    string `json:"ledger_event_id,omitempty"`
}

// WebhookUseCase routes verified provider notifications into the processor,
// at most once per idempotency key.
type WebhookUseCase struct {
	gate        *IngestionGate
	requestRepo PaymentRequestRepository
	processor   *PaymentProcessor
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewWebhookUseCase creates a new WebhookUseCase.
func NewWebhookUseCase(gate *IngestionGate, requestRepo PaymentRequestRepository, processor *PaymentProcessor, m *metrics.Metrics, logger zerolog.Logger) *WebhookUseCase {
	return &WebhookUseCase{
		gate:        gate,
		requestRepo: requestRepo,
		processor:   processor,
		metrics:     m,
		logger:      logger,
	}
}

// HandleNotification deduplicates n and applies its reported outcome.
// Pending notifications are acknowledged with a nil result and never recorded,
// so a later paid or failed delivery under the same key is still processed.
func (uc *WebhookUseCase) HandleNotification(ctx context.Context, n *domain.NormalizedNotification) (*IngestResult, error) {
	if err := validateNotification(n); err != nil {
		uc.observe(n, "rejected")
		return nil, err
	}

	log := uc.logger.With().
		Str("provider", string(n.Provider)).
		Str("external_id", n.ExternalTransactionID).
		Str("reported_status", string(n.ReportedStatus)).
		Logger()

	if n.ReportedStatus == domain.ReportedPending {
		log.Info().Msg("pending notification acknowledged")
		uc.observe(n, "ignored")
		return nil, nil
	}

	res, err := uc.gate.Ingest(ctx, n.IdempotencyKey(), func(ctx context.Context) ([]byte, error) {
		return uc.apply(ctx, n)
	})

	switch {
	case err != nil:
		uc.observe(n, "error")
	case res.InFlight:
		uc.observe(n, "in_flight")
	case res.Replayed:
		uc.observe(n, "replayed")
	default:
		uc.observe(n, "processed")
	}
	return res, err
}

func (uc *WebhookUseCase) apply(ctx context.Context, n *domain.NormalizedNotification) ([]byte, error) {
	req, err := uc.requestRepo.GetByExternalRef(ctx, n.Provider, n.ExternalTransactionID)
	if err != nil {
		return nil, err
	}
	if req.Direction != n.Direction {
		return nil, fmt.Errorf("%w: request %s is a %s", domain.ErrDirectionMismatch, req.ID, req.Direction)
	}

	var res *ProcessResult
	switch {
	case n.ReportedStatus == domain.ReportedFailed:
		res, err = uc.processor.ProcessPaymentFailed(ctx, req)
	case req.Direction == domain.DirectionDeposit:
		res, err = uc.processor.ProcessPaymentReceived(ctx, req)
	default:
		res, err = uc.processor.ProcessPayoutSent(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	out := NotificationResult{
		PaymentRequestID: req.ID,
		Direction:        string(req.Direction),
		Applied:          res.Applied,
	}
	if res.Request != nil {
		out.Status = string(res.Request.Status)
	}
	if res.Event != nil {
		out.LedgerEventID = res.Event.ID
		out.Balance = res.Balance.String()
	}
	return json.Marshal(out)
}

func (uc *WebhookUseCase) observe(n *domain.NormalizedNotification, outcome string) {
	if uc.metrics == nil || n == nil {
		return
	}
	uc.metrics.WebhooksReceived.WithLabelValues(string(n.Provider), outcome).Inc()
}

func validateNotification(n *domain.NormalizedNotification) error {
	if n == nil || n.Provider == "" || n.ExternalTransactionID == "" {
		return fmt.Errorf("%w: provider and external transaction id are required", domain.ErrMalformedNotification)
	}
	if !n.Direction.IsValid() {
		return fmt.Errorf("%w: %w", domain.ErrMalformedNotification, domain.ErrInvalidDirection)
	}
	switch n.ReportedStatus {
	case domain.ReportedPaid, domain.ReportedFailed, domain.ReportedPending:
		return nil
	}
	return fmt.Errorf("%w: %q", domain.ErrUnsupportedOutcome, n.ReportedStatus)
}
