package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/adapter/http/handler"
	"github.com/iho/gosettle/internal/adapter/http/middleware"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler        *handler.AccountHandler
	PaymentRequestHandler *handler.PaymentRequestHandler
	LedgerHandler         *handler.LedgerHandler
	WebhookHandler        *handler.WebhookHandler
	HealthHandler         *handler.HealthHandler

	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// JWTManager enables bearer auth on /api/v1. Nil leaves the API open.
	JWTManager *auth.JWTManager

	WebhookRateLimiter *middleware.RateLimiter
	IdempotencyStore   usecase.IdempotencyStore
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery)
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Wrap)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Provider callbacks authenticate by signature, not bearer token.
	r.Group(func(r chi.Router) {
		if cfg.WebhookRateLimiter != nil {
			r.Use(cfg.WebhookRateLimiter.Limit)
		}
		r.Post("/webhooks/{provider}", cfg.WebhookHandler.Receive)
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		authEnabled := cfg.JWTManager != nil
		if authEnabled {
			r.Use(middleware.AuthMiddleware(cfg.JWTManager, cfg.Metrics))
		}
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore).Wrap)
		}

		role := func(min domain.Role) func(http.Handler) http.Handler {
			if !authEnabled {
				return func(next http.Handler) http.Handler { return next }
			}
			return middleware.RequireRole(min)
		}

		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.With(role(domain.RoleViewer)).Get("/", cfg.AccountHandler.List)
			r.With(role(domain.RoleOperator)).Post("/", cfg.AccountHandler.Create)
			r.With(role(domain.RoleViewer)).Get("/{id}", cfg.AccountHandler.Get)
			r.With(role(domain.RoleViewer)).Get("/{id}/ledger", cfg.LedgerHandler.AccountEvents)
			r.With(role(domain.RoleViewer)).Get("/{id}/payment-requests", cfg.PaymentRequestHandler.ListByAccount)
			r.With(role(domain.RoleOperator)).Get("/{id}/reconciliation", cfg.LedgerHandler.ReconcileAccount)
			r.With(role(domain.RoleAdmin)).Post("/{id}/adjustments", cfg.AccountHandler.Adjust)
		})

		// Payment requests
		r.Route("/payment-requests", func(r chi.Router) {
			r.With(role(domain.RoleOperator)).Post("/", cfg.PaymentRequestHandler.Create)
			r.With(role(domain.RoleViewer)).Get("/{id}", cfg.PaymentRequestHandler.Get)
			r.With(role(domain.RoleAdmin)).Post("/{id}/mediation", cfg.PaymentRequestHandler.PlaceInMediation)
			r.With(role(domain.RoleAdmin)).Delete("/{id}/mediation", cfg.PaymentRequestHandler.ReleaseFromMediation)
		})

		r.With(role(domain.RoleViewer)).Get("/transactions/{id}/ledger", cfg.LedgerHandler.TransactionEvents)
		r.With(role(domain.RoleOperator)).Get("/reconciliation", cfg.LedgerHandler.Report)
	})

	return r
}
