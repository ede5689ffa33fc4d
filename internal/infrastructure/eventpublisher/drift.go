package eventpublisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
)

// DriftAlerter publishes ledger drift straight to the broker. It bypasses the
// outbox because reconciliation writes nothing to commit alongside it.
type DriftAlerter struct {
	publisher Publisher
	idGen     usecase.IDGenerator
	logger    zerolog.Logger
	timeout   time.Duration
}

// NewDriftAlerter creates a DriftAlerter.
func NewDriftAlerter(publisher Publisher, idGen usecase.IDGenerator, logger zerolog.Logger) *DriftAlerter {
	return &DriftAlerter{
		publisher: publisher,
		idGen:     idGen,
		logger:    logger.With().Str("component", "drift_alerter").Logger(),
		timeout:   5 * time.Second,
	}
}

// AlertDrift implements usecase.DriftAlerter. Failures are logged only.
func (a *DriftAlerter) AlertDrift(ctx context.Context, result *usecase.ReconciliationResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	event := &domain.OutboxEvent{
		ID:            a.idGen.Generate(),
		AggregateID:   result.AccountID,
		AggregateType: domain.AggregateTypeAccount,
		EventType:     domain.EventTypeLedgerDrift,
		Payload: map[string]any{
			"account_id":         result.AccountID,
			"recorded_balance":   result.RecordedBalance.String(),
			"calculated_balance": result.CalculatedBalance.String(),
			"difference":         result.Difference.String(),
			"checked_at":         result.LastChecked,
		},
		CreatedAt: result.LastChecked,
	}

	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Error().Err(err).Str("account_id", result.AccountID).Msg("failed to publish drift alert")
	}
}
