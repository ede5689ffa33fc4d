package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
)

// ProcessResult is the outcome of a processor operation.
type ProcessResult struct {
	Request *domain.PaymentRequest
	Event   *domain.LedgerEvent
	Balance decimal.Decimal
	// Applied is false when the call was absorbed as already processed.
	Applied bool
}

// PaymentProcessor drives payment requests through their lifecycle exactly once.
type PaymentProcessor struct {
	txManager   TransactionManager
	retrier     Retrier
	requestRepo PaymentRequestRepository
	mutator     *BalanceMutator
	outboxRepo  OutboxRepository
	idGen       IDGenerator
	dispatcher  *EventDispatcher
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// PaymentProcessorConfig holds dependencies for PaymentProcessor.
type PaymentProcessorConfig struct {
	TxManager   TransactionManager
	Retrier     Retrier
	RequestRepo PaymentRequestRepository
	Mutator     *BalanceMutator
	OutboxRepo  OutboxRepository
	IDGen       IDGenerator
	Dispatcher  *EventDispatcher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewPaymentProcessor creates a new PaymentProcessor.
func NewPaymentProcessor(cfg PaymentProcessorConfig) *PaymentProcessor {
	return &PaymentProcessor{
		txManager:   cfg.TxManager,
		retrier:     cfg.Retrier,
		requestRepo: cfg.RequestRepo,
		mutator:     cfg.Mutator,
		outboxRepo:  cfg.OutboxRepo,
		idGen:       cfg.IDGen,
		dispatcher:  cfg.Dispatcher,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPaymentReceived credits the owner of a deposit by its net amount and
// moves it to PAID_OUT. Repeated or concurrent calls apply the credit once.
func (p *PaymentProcessor) ProcessPaymentReceived(ctx context.Context, req *domain.PaymentRequest) (*ProcessResult, error) {
	return p.run(ctx, "payment_received", req.ID, func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error) {
		return p.settleStep(locked, domain.DirectionDeposit)
	})
}

// ProcessPayoutSent debits the owner of a withdrawal by its net amount and
// moves it to COMPLETED. Repeated or concurrent calls apply the debit once.
func (p *PaymentProcessor) ProcessPayoutSent(ctx context.Context, req *domain.PaymentRequest) (*ProcessResult, error) {
	return p.run(ctx, "payout_sent", req.ID, func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error) {
		return p.settleStep(locked, domain.DirectionWithdrawal)
	})
}

// ProcessPaymentFailed moves a pending request to its failure status without
// touching the balance.
func (p *PaymentProcessor) ProcessPaymentFailed(ctx context.Context, req *domain.PaymentRequest) (*ProcessResult, error) {
	return p.run(ctx, "payment_failed", req.ID, func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error) {
		target := locked.Direction.FailureStatus()
		switch {
		case locked.Status == target:
			return nil, domain.ErrAlreadyProcessed
		case locked.Status.IsTerminal():
			return nil, locked.TransitionTo(target)
		}
		return &step{to: target}, nil
	})
}

// PlaceInMediation puts a settled request on hold and reverses its balance
// effect with a HOLD event. A request can be held at most once.
func (p *PaymentProcessor) PlaceInMediation(ctx context.Context, requestID, reason string) (*ProcessResult, error) {
	return p.run(ctx, "mediation_hold", requestID, func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error) {
		if err := locked.TransitionTo(domain.StatusMediation); err != nil {
			return nil, err
		}
		return &step{
			to: domain.StatusMediation,
			mutation: &Mutation{
				Type:           domain.LedgerEventHold,
				SkipFundsCheck: true,
				Metadata:       map[string]any{"reason": reason},
			},
			duplicateIsInvalid: true,
		}, nil
	})
}

// ReleaseFromMediation returns a held request to its success status and
// re-applies its balance effect with a RELEASE event.
func (p *PaymentProcessor) ReleaseFromMediation(ctx context.Context, requestID, reason string) (*ProcessResult, error) {
	return p.run(ctx, "mediation_release", requestID, func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error) {
		if locked.Status != domain.StatusMediation {
			return nil, fmt.Errorf("%w: request is %s, not in mediation", domain.ErrInvalidTransition, locked.Status)
		}
		target := locked.Direction.SuccessStatus()
		return &step{
			to: target,
			mutation: &Mutation{
				Type:           domain.LedgerEventRelease,
				SkipFundsCheck: true,
				Metadata:       map[string]any{"reason": reason},
			},
			duplicateIsInvalid: true,
		}, nil
	})
}

// step is what an operation wants done to a locked request.
type step struct {
	to       domain.PaymentStatus
	mutation *Mutation
	// duplicateIsInvalid turns a ledger duplicate into ErrInvalidTransition
	// instead of absorbing it.
	duplicateIsInvalid bool
}

func (p *PaymentProcessor) settleStep(locked *domain.PaymentRequest, direction domain.Direction) (*step, error) {
	if locked.Direction != direction {
		return nil, fmt.Errorf("%w: %s request cannot be settled as %s", domain.ErrInvalidTransition, locked.Direction, direction)
	}

	switch {
	case locked.Status.IsSuccess(), locked.Status == domain.StatusMediation:
		return nil, domain.ErrAlreadyProcessed
	case locked.Status.IsFailure():
		return nil, locked.TransitionTo(direction.SuccessStatus())
	}

	target := direction.SuccessStatus()
	if err := locked.TransitionTo(target); err != nil {
		return nil, err
	}

	return &step{
		to: target,
		mutation: &Mutation{
			Type: direction.LedgerEventType(),
			Metadata: map[string]any{
				"provider":     string(locked.Provider),
				"external_ref": locked.ExternalRef,
				"gross_amount": locked.Amount.String(),
			},
		},
	}, nil
}

// run executes plan against the locked request inside one atomic unit:
// lock request, optional balance mutation, status compare-and-swap, outbox.
func (p *PaymentProcessor) run(
	ctx context.Context,
	op string,
	requestID string,
	plan func(ctx context.Context, tx Transaction, locked *domain.PaymentRequest) (*step, error),
) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With().Str("op", op).Str("payment_request_id", requestID).Logger()

	var result *ProcessResult
	err := runInTx(ctx, p.txManager, p.retrier, func(ctx context.Context, tx Transaction) error {
		result = nil

		locked, err := p.requestRepo.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		result = &ProcessResult{Request: locked}

		s, err := plan(ctx, tx, locked)
		if err != nil {
			return err
		}

		now := p.now()
		if s.mutation != nil {
			mut := *s.mutation
			mut.AccountID = locked.AccountID
			mut.TransactionID = locked.ID
			mut.Amount = locked.NetAmount

			res, err := p.mutator.Apply(ctx, tx, mut)
			if err != nil {
				return err
			}
			if res.Duplicate {
				if s.duplicateIsInvalid {
					return fmt.Errorf("%w: %s already recorded for request", domain.ErrInvalidTransition, mut.Type)
				}
				if err := p.checkRecorded(ctx, mut); err != nil {
					return err
				}
				log.Info().Str("type", string(mut.Type)).Msg("ledger event already recorded, absorbing")
			}
			result.Event = res.Event
			result.Balance = res.Balance
		}

		ok, err := p.requestRepo.UpdateStatus(ctx, tx, locked.ID, locked.Status, s.to, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyProcessed
		}

		if err := p.writeOutbox(ctx, tx, locked, s.to, result.Event, now); err != nil {
			return err
		}

		from := locked.Status
		updated := *locked
		updated.Status = s.to
		updated.UpdatedAt = now
		result.Request = &updated
		result.Applied = true

		log.Info().
			Str("from", string(from)).
			Str("to", string(s.to)).
			Str("account_id", locked.AccountID).
			Msg("payment request transitioned")
		return nil
	})

	if p.metrics != nil {
		p.metrics.SettleDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		status := ""
		if result != nil && result.Request != nil {
			status = string(result.Request.Status)
		}
		log.Info().Str("status", status).Msg("payment request already processed")
		if result == nil {
			result = &ProcessResult{}
		}
		result.Applied = false
		result.Event = nil
		return result, nil
	case err != nil:
		p.logFailure(log, err)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.PaymentTransitions.WithLabelValues(string(result.Request.Direction), string(result.Request.Status)).Inc()
		if result.Event != nil {
			p.metrics.BalanceMutations.WithLabelValues(string(result.Event.Type)).Inc()
			p.metrics.MutationAmount.Observe(result.Event.Amount.InexactFloat64())
		}
	}
	if result.Event != nil {
		p.dispatcher.Dispatch(ctx, balanceChangedFrom(result.Event))
	}

	return result, nil
}

// checkRecorded accepts a duplicate only when the stored event is this
// request's own effect. Anything else holds the (transaction_id, type) slot
// without having moved the owner's balance.
func (p *PaymentProcessor) checkRecorded(ctx context.Context, mut Mutation) error {
	existing, err := p.mutator.Recorded(ctx, mut)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s for %s not found after conflict", domain.ErrLedgerConflict, mut.Type, mut.TransactionID)
	}
	if existing.AccountID != mut.AccountID || !existing.Amount.Equal(mut.Amount) {
		return fmt.Errorf("%w: %s for %s is on account %s amount %s",
			domain.ErrLedgerConflict, mut.Type, mut.TransactionID, existing.AccountID, existing.Amount)
	}
	return nil
}

func (p *PaymentProcessor) writeOutbox(ctx context.Context, tx Transaction, req *domain.PaymentRequest, to domain.PaymentStatus, event *domain.LedgerEvent, now time.Time) error {
	statusChanged := domain.PaymentStatusChanged{
		PaymentRequestID: req.ID,
		AccountID:        req.AccountID,
		From:             req.Status,
		To:               to,
		OccurredAt:       now,
	}
	if err := p.outboxRepo.Create(ctx, tx, newOutboxEvent(p.idGen,
		domain.AggregateTypePaymentRequest, req.ID, domain.EventTypePaymentStatusChanged,
		statusChanged.Payload(), now)); err != nil {
		return err
	}

	if event == nil {
		return nil
	}
	return p.outboxRepo.Create(ctx, tx, newOutboxEvent(p.idGen,
		domain.AggregateTypeAccount, event.AccountID, domain.EventTypeBalanceChanged,
		balanceChangedFrom(event).Payload(), now))
}

func (p *PaymentProcessor) logFailure(log zerolog.Logger, err error) {
	code := domain.ErrorCode(err)
	if p.metrics != nil {
		p.metrics.ProcessorErrors.WithLabelValues(code).Inc()
	}

	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInsufficientFunds):
		log.Warn().Err(err).Str("code", code).Msg("payment request rejected")
	default:
		log.Error().Err(err).Str("code", code).Msg("payment request processing failed")
	}
}
