package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/gosettle/internal/adapter/http/handler"
	apimiddleware "github.com/iho/gosettle/internal/adapter/http/middleware"
	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/usecase"
)

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.Gatherer = reg
		cfg.HTTPMetrics = apimiddleware.NewHTTPMetrics(reg)
	}))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /metrics to return 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `gosettle_http_requests_total{method="GET",path="/health",status="200"} 1`) {
		t.Fatalf("expected health request in metrics output, got:\n%s", rec.Body.String())
	}
}

func TestNewRouter_WebhookRateLimiter(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(0.0001, 1, "webhooks", nil)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.WebhookRateLimiter = rl
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader(`{}`))
		req.RemoteAddr = "1.2.3.4:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusNotFound {
		t.Fatalf("expected unknown provider to reach the handler, got %d", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", codes[1])
	}

	// The admin API is not throttled by the webhook limiter.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to bypass the webhook limiter, got %d", rec.Code)
	}
}

func TestNewRouter_AuthAndRoles(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.JWTManager = jwtManager
		cfg.Metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	}))

	token := func(role domain.Role) string {
		tok, err := jwtManager.Generate(&domain.Operator{ID: "op", Role: role})
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		return "Bearer " + tok
	}

	tests := []struct {
		name       string
		method     string
		path       string
		auth       string
		wantStatus int
	}{
		{"anonymous read", http.MethodGet, "/api/v1/accounts/acc-1", "", http.StatusUnauthorized},
		{"viewer read", http.MethodGet, "/api/v1/accounts/acc-1", token(domain.RoleViewer), http.StatusOK},
		{"viewer cannot create request", http.MethodPost, "/api/v1/payment-requests/", token(domain.RoleViewer), http.StatusForbidden},
		{"operator cannot mediate", http.MethodPost, "/api/v1/payment-requests/pr-1/mediation", token(domain.RoleOperator), http.StatusForbidden},
		{"admin mediates", http.MethodPost, "/api/v1/payment-requests/pr-1/mediation", token(domain.RoleAdmin), http.StatusOK},
		{"webhooks skip bearer auth", http.MethodPost, "/webhooks/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestNewRouter_IdempotencyMiddlewareInvokesStore(t *testing.T) {
	store := &stubIdempotencyStore{}
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.IdempotencyStore = store
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/", strings.NewReader(`{"name":"Main","currency":"BRL"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if !store.checkCalled {
		t.Fatalf("expected idempotency store to be used")
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newRouterConfig())

	chiRoutes, ok := router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"POST /webhooks/{provider}",
		"POST /api/v1/accounts/",
		"GET /api/v1/accounts/{id}",
		"GET /api/v1/accounts/{id}/ledger",
		"GET /api/v1/accounts/{id}/reconciliation",
		"POST /api/v1/accounts/{id}/adjustments",
		"POST /api/v1/payment-requests/",
		"GET /api/v1/payment-requests/{id}",
		"POST /api/v1/payment-requests/{id}/mediation",
		"DELETE /api/v1/payment-requests/{id}/mediation",
		"GET /api/v1/reconciliation",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func newRouterConfig(opts ...func(*RouterConfig)) RouterConfig {
	cfg := RouterConfig{
		HealthHandler:         handler.NewHealthHandler(nil),
		AccountHandler:        handler.NewAccountHandler(stubAccountService{}, nil),
		PaymentRequestHandler: handler.NewPaymentRequestHandler(nil, stubMediationService{}),
		LedgerHandler:         handler.NewLedgerHandler(nil, nil),
		WebhookHandler:        handler.NewWebhookHandler(webhook.NewRegistry(), nil, nil),
		Logger:                zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

type stubAccountService struct{}

func (stubAccountService) CreateAccount(ctx context.Context, input usecase.CreateAccountInput) (*domain.Account, error) {
	return &domain.Account{ID: "acc"}, nil
}

func (stubAccountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return &domain.Account{ID: id}, nil
}

func (stubAccountService) ListAccounts(ctx context.Context, input usecase.ListAccountsInput) ([]*domain.Account, error) {
	return []*domain.Account{}, nil
}

type stubMediationService struct{}

func (stubMediationService) PlaceInMediation(ctx context.Context, requestID, reason string) (*usecase.ProcessResult, error) {
	return &usecase.ProcessResult{Request: &domain.PaymentRequest{ID: requestID, Status: domain.StatusMediation}, Applied: true}, nil
}

func (stubMediationService) ReleaseFromMediation(ctx context.Context, requestID, reason string) (*usecase.ProcessResult, error) {
	return &usecase.ProcessResult{Request: &domain.PaymentRequest{ID: requestID}, Applied: true}, nil
}

type stubIdempotencyStore struct {
	checkCalled bool
}

func (s *stubIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.checkCalled = true
	return false, nil, nil
}

func (s *stubIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return nil
}

func (s *stubIdempotencyStore) Release(ctx context.Context, key string) error {
	return nil
}
