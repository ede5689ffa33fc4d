package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/domain"
)

// BalanceSubscriberFunc adapts a function to BalanceSubscriber.
type BalanceSubscriberFunc func(ctx context.Context, event domain.BalanceChanged)

// BalanceChanged calls f.
func (f BalanceSubscriberFunc) BalanceChanged(ctx context.Context, event domain.BalanceChanged) {
	f(ctx, event)
}

// EventDispatcher fans committed BalanceChanged events out to subscribers.
// A panicking subscriber is logged and does not affect the others.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers []BalanceSubscriber
	logger      zerolog.Logger
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher(logger zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{logger: logger}
}

// Subscribe registers s for all future events.
func (d *EventDispatcher) Subscribe(s BalanceSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Dispatch delivers events synchronously in order.
func (d *EventDispatcher) Dispatch(ctx context.Context, events ...domain.BalanceChanged) {
	if d == nil || len(events) == 0 {
		return
	}

	d.mu.RLock()
	subs := make([]BalanceSubscriber, len(d.subscribers))
	copy(subs, d.subscribers)
	d.mu.RUnlock()

	for _, event := range events {
		for _, s := range subs {
			d.deliver(ctx, s, event)
		}
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, s BalanceSubscriber, event domain.BalanceChanged) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("account_id", event.AccountID).
				Str("transaction_id", event.TransactionID).
				Msg("balance subscriber panicked")
		}
	}()
	s.BalanceChanged(ctx, event)
}
