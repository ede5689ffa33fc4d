package eventpublisher

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/usecase"
	"github.com/iho/gosettle/internal/usecase/mocks"
)

func driftResult() *usecase.ReconciliationResult {
	return &usecase.ReconciliationResult{
		AccountID:         "acc-7",
		RecordedBalance:   decimal.NewFromInt(100),
		CalculatedBalance: decimal.RequireFromString("97.5"),
		Difference:        decimal.RequireFromString("2.5"),
		LastChecked:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDriftAlerterPublishesEvent(t *testing.T) {
	pub := &stubPublisher{}
	alerter := NewDriftAlerter(pub, mocks.NewMockIDGenerator(), zerolog.Nop())

	alerter.AlertDrift(context.Background(), driftResult())

	require.Len(t, pub.published, 1)
	ev := pub.published[0]
	assert.Equal(t, domain.EventTypeLedgerDrift, ev.EventType)
	assert.Equal(t, "acc-7", ev.AggregateID)
	assert.Equal(t, "2.5", ev.Payload["difference"])
	assert.Equal(t, "97.5", ev.Payload["calculated_balance"])
}

func TestDriftAlerterLogsPublishFailure(t *testing.T) {
	var buf bytes.Buffer
	pub := &stubPublisher{errorsByID: map[string]error{"mock-id-1": errors.New("broker down")}}
	alerter := NewDriftAlerter(pub, mocks.NewMockIDGenerator(), zerolog.New(&buf))

	alerter.AlertDrift(context.Background(), driftResult())

	assert.Empty(t, pub.published)
	assert.Contains(t, buf.String(), "failed to publish drift alert")
	assert.Contains(t, buf.String(), "broker down")
}
