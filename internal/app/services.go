package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/gosettle/internal/adapter/http"
	"github.com/iho/gosettle/internal/adapter/http/handler"
	"github.com/iho/gosettle/internal/adapter/http/middleware"
	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/config"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/infrastructure/scheduler"
	"github.com/iho/gosettle/internal/usecase"
)

// Options carries the optional collaborators of the use cases.
type Options struct {
	// Cache backs account reads and gate outcomes. Nil disables caching.
	Cache   usecase.Cache
	Alerter usecase.DriftAlerter
	Gate    usecase.GateConfig
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Services is the wired use case graph.
type Services struct {
	Dispatcher     *usecase.EventDispatcher
	Accounts       *usecase.AccountUseCase
	Balances       *usecase.BalanceUseCase
	Requests       *usecase.PaymentRequestUseCase
	Processor      *usecase.PaymentProcessor
	Ledger         *usecase.LedgerUseCase
	Reconciliation *usecase.ReconciliationUseCase
	Gate           *usecase.IngestionGate
	Webhooks       *usecase.WebhookUseCase

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewServices wires every use case over b.
func NewServices(b *Backend, opts Options) *Services {
	logger := opts.Logger
	m := opts.Metrics

	dispatcher := usecase.NewEventDispatcher(logger.With().Str("component", "dispatcher").Logger())
	accounts := usecase.NewAccountUseCase(b.Accounts, b.IDGen, opts.Cache, logger)
	dispatcher.Subscribe(accounts)

	mutator := usecase.NewBalanceMutator(b.Accounts, b.Ledger, b.IDGen)
	processor := usecase.NewPaymentProcessor(usecase.PaymentProcessorConfig{
		TxManager:   b.TxManager,
		Retrier:     b.Retrier,
		RequestRepo: b.Requests,
		Mutator:     mutator,
		OutboxRepo:  b.Outbox,
		IDGen:       b.IDGen,
		Dispatcher:  dispatcher,
		Metrics:     m,
		Logger:      logger.With().Str("component", "processor").Logger(),
	})
	gate := usecase.NewIngestionGate(b.Idempotency, opts.Cache, opts.Gate, m, logger.With().Str("component", "gate").Logger())

	return &Services{
		Dispatcher: dispatcher,
		Accounts:   accounts,
		Balances: usecase.NewBalanceUseCase(usecase.BalanceUseCaseConfig{
			TxManager:  b.TxManager,
			Retrier:    b.Retrier,
			Mutator:    mutator,
			OutboxRepo: b.Outbox,
			IDGen:      b.IDGen,
			Dispatcher: dispatcher,
			Metrics:    m,
			Logger:     logger,
		}),
		Requests:       usecase.NewPaymentRequestUseCase(b.Requests, b.Accounts, b.IDGen, logger),
		Processor:      processor,
		Ledger:         usecase.NewLedgerUseCase(b.Accounts, b.Ledger),
		Reconciliation: usecase.NewReconciliationUseCase(b.TxManager, b.Accounts, b.Ledger, opts.Alerter, m, logger.With().Str("component", "reconciliation").Logger()),
		Gate:           gate,
		Webhooks:       usecase.NewWebhookUseCase(gate, b.Requests, processor, m, logger.With().Str("component", "webhooks").Logger()),
		metrics:        m,
		logger:         logger,
	}
}

// GateConfig maps the idempotency settings onto the gate.
func GateConfig(cfg *config.Config) usecase.GateConfig {
	return usecase.GateConfig{
		TTL:          cfg.IdempotencyTTL,
		WaitTimeout:  cfg.IdempotencyWaitTimeout,
		PollInterval: cfg.IdempotencyPollInterval,
		RetryAfter:   cfg.IdempotencyRetryAfter,
		LeaseTimeout: cfg.IdempotencyLeaseTimeout,
	}
}

// HTTPOptions configures the HTTP surface.
type HTTPOptions struct {
	Verifiers          *webhook.Registry
	JWTManager         *auth.JWTManager
	IdempotencyStore   usecase.IdempotencyStore
	WebhookRateLimiter *middleware.RateLimiter
	// Registry serves /metrics and HTTP metrics. Nil disables both.
	Registry *prometheus.Registry
	Checks   map[string]handler.HealthCheck
}

// Router builds the HTTP handler over s.
func (s *Services) Router(opts HTTPOptions) http.Handler {
	verifiers := opts.Verifiers
	if verifiers == nil {
		verifiers = webhook.NewRegistry()
	}

	cfg := httpAdapter.RouterConfig{
		AccountHandler:        handler.NewAccountHandler(s.Accounts, s.Balances),
		PaymentRequestHandler: handler.NewPaymentRequestHandler(s.Requests, s.Processor),
		LedgerHandler:         handler.NewLedgerHandler(s.Ledger, s.Reconciliation),
		WebhookHandler:        handler.NewWebhookHandler(verifiers, s.Webhooks, s.metrics),
		HealthHandler:         handler.NewHealthHandler(opts.Checks),
		Logger:                s.logger,
		Metrics:               s.metrics,
		JWTManager:            opts.JWTManager,
		WebhookRateLimiter:    opts.WebhookRateLimiter,
		IdempotencyStore:      opts.IdempotencyStore,
	}
	if opts.Registry != nil {
		cfg.Gatherer = opts.Registry
		cfg.HTTPMetrics = middleware.NewHTTPMetrics(opts.Registry)
	}

	return httpAdapter.NewRouter(cfg)
}

// OutboxCleaner deletes published outbox rows past a retention window.
type OutboxCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// ScheduleJobs registers the periodic maintenance jobs on sch.
func (s *Services) ScheduleJobs(sch *scheduler.Scheduler, cfg *config.Config, outbox OutboxCleaner, limiter *middleware.RateLimiter) error {
	if err := sch.Add("reconcile", cfg.ReconcileSchedule, func(ctx context.Context) error {
		s.Reconciliation.RunScheduled(ctx)
		return nil
	}); err != nil {
		return err
	}

	if err := sch.Add("idempotency_purge", cfg.PurgeSchedule, func(ctx context.Context) error {
		_, err := s.Gate.PurgeExpired(ctx)
		return err
	}); err != nil {
		return err
	}

	if outbox != nil {
		if err := sch.Add("outbox_cleanup", cfg.PurgeSchedule, func(ctx context.Context) error {
			_, err := outbox.Cleanup(ctx, cfg.OutboxRetention)
			return err
		}); err != nil {
			return err
		}
	}

	if limiter != nil {
		if err := sch.Add("rate_limiter_cleanup", cfg.PurgeSchedule, func(ctx context.Context) error {
			limiter.CleanupLimiters(time.Hour)
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}
