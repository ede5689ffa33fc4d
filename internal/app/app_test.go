package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/gosettle/internal/adapter/http/dto"
	"github.com/iho/gosettle/internal/adapter/http/handler"
	redisRepo "github.com/iho/gosettle/internal/adapter/repository/redis"
	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/usecase"
)

const testSecret = "whsec-e2e"

type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	services *Services
	verifier *webhook.HMACVerifier
	token    string
}

type envOptions struct {
	jwt   *auth.JWTManager
	redis bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	backend := NewMemoryBackend()
	t.Cleanup(backend.Close)

	var (
		cache usecase.Cache
		store usecase.IdempotencyStore
	)
	if opts.redis {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cache = redisRepo.NewCache(client)
		store = redisRepo.NewIdempotencyStore(client)
	}

	services := NewServices(backend, Options{
		Cache: cache,
		Gate: usecase.GateConfig{
			TTL:          time.Hour,
			WaitTimeout:  2 * time.Second,
			PollInterval: 5 * time.Millisecond,
			RetryAfter:   time.Second,
			LeaseTimeout: time.Minute,
		},
		Metrics: metrics.NewWithRegistry(reg),
		Logger:  zerolog.Nop(),
	})

	verifier := webhook.NewHMACVerifier("acme", testSecret, "")
	router := services.Router(HTTPOptions{
		Verifiers:  webhook.NewRegistry(verifier),
		JWTManager:       opts.jwt,
		IdempotencyStore: store,
		Registry:         reg,
		Checks:           backend.Checks,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	env := &testEnv{t: t, server: server, services: services, verifier: verifier}
	if opts.jwt != nil {
		token, err := opts.jwt.Generate(&domain.Operator{ID: "op-1", Email: "ops@example.com", Role: domain.RoleAdmin})
		require.NoError(t, err)
		env.token = token
	}
	return env
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	e.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(e.t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) createAccount(id string) {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/v1/accounts", dto.CreateAccountRequest{ID: id, Name: "Merchant " + id, Currency: "USD"}, nil)
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, string(body))
}

func (e *testEnv) createRequest(accountID, direction, amount, externalRef string) *dto.PaymentRequestResponse {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/v1/payment-requests", dto.CreatePaymentRequestRequest{
		AccountID:   accountID,
		Direction:   direction,
		Amount:      decimal.RequireFromString(amount),
		Provider:    "acme",
		ExternalRef: externalRef,
	}, nil)
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, string(body))

	var pr dto.PaymentRequestResponse
	require.NoError(e.t, json.Unmarshal(body, &pr))
	return &pr
}

func (e *testEnv) sendWebhook(externalRef, direction, status string) (*http.Response, []byte) {
	e.t.Helper()
	payload, err := json.Marshal(webhook.Payload{
		EventType:     "payment.updated",
		TransactionID: externalRef,
		Direction:     direction,
		Status:        status,
	})
	require.NoError(e.t, err)

	return e.do(http.MethodPost, "/webhooks/acme", payload, map[string]string{
		webhook.DefaultSignatureHeader: "sha256=" + e.verifier.Sign(payload),
	})
}

func (e *testEnv) balance(accountID string) decimal.Decimal {
	e.t.Helper()
	resp, body := e.do(http.MethodGet, "/api/v1/accounts/"+accountID, nil, nil)
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(body))

	var acc dto.AccountResponse
	require.NoError(e.t, json.Unmarshal(body, &acc))
	return acc.Balance
}

func (e *testEnv) ledger(accountID string) []*dto.LedgerEventResponse {
	e.t.Helper()
	resp, body := e.do(http.MethodGet, "/api/v1/accounts/"+accountID+"/ledger", nil, nil)
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(body))

	var list dto.ListLedgerEventsResponse
	require.NoError(e.t, json.Unmarshal(body, &list))
	return list.Events
}

func TestDepositWebhookCreditsOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	pr := env.createRequest("acc-1", "deposit", "100.50", "ext-1")
	assert.Equal(t, string(domain.StatusWaitingForApproval), pr.Status)

	resp, body := env.sendWebhook("ext-1", "deposit", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "processed", resp.Header.Get(handler.StatusHeader))
	assert.Empty(t, resp.Header.Get(handler.ReplayHeader))

	var first usecase.NotificationResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Applied)
	assert.Equal(t, string(domain.StatusPaidOut), first.Status)
	assert.Equal(t, "100.5", first.Balance)

	resp, replay := env.sendWebhook("ext-1", "deposit", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(handler.ReplayHeader))
	assert.JSONEq(t, string(body), string(replay))

	assert.True(t, env.balance("acc-1").Equal(decimal.RequireFromString("100.50")))
	events := env.ledger("acc-1")
	require.Len(t, events, 1)
	assert.Equal(t, pr.ID, events[0].TransactionID)
	assert.Equal(t, string(domain.LedgerEventCredit), events[0].Type)
}

func TestConcurrentDeliveriesWriteOneLedgerEvent(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	env.createRequest("acc-1", "deposit", "25", "ext-race")

	const deliveries = 8
	var wg sync.WaitGroup
	statuses := make([]int, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := env.sendWebhook("ext-race", "deposit", "paid")
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, code := range statuses {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Len(t, env.ledger("acc-1"), 1)
	assert.True(t, env.balance("acc-1").Equal(decimal.NewFromInt(25)))
}

func TestWithdrawalWithoutFundsFailsAndReplaysFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	pr := env.createRequest("acc-1", "withdrawal", "10", "ext-out")

	resp, body := env.sendWebhook("ext-out", "withdrawal", "paid")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, domain.ErrorCode(domain.ErrInsufficientFunds), errResp.Code)

	resp, _ = env.sendWebhook("ext-out", "withdrawal", "paid")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(handler.ReplayHeader))
	assert.Equal(t, "failed", resp.Header.Get(handler.StatusHeader))

	assert.Empty(t, env.ledger("acc-1"))
	assert.True(t, env.balance("acc-1").IsZero())

	resp, body = env.do(http.MethodGet, "/api/v1/payment-requests/"+pr.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got dto.PaymentRequestResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, string(domain.StatusPending), got.Status)
}

func TestWithdrawalAfterDeposit(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	env.createRequest("acc-1", "deposit", "50", "ext-in")
	env.createRequest("acc-1", "withdrawal", "20", "ext-out")

	resp, _ := env.sendWebhook("ext-in", "deposit", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := env.sendWebhook("ext-out", "withdrawal", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res usecase.NotificationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, string(domain.StatusCompleted), res.Status)
	assert.True(t, env.balance("acc-1").Equal(decimal.NewFromInt(30)))
}

func TestFailedAndPendingNotifications(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	env.createRequest("acc-1", "deposit", "5", "ext-1")

	resp, _ := env.sendWebhook("ext-1", "deposit", "pending")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", resp.Header.Get(handler.StatusHeader))

	resp, body := env.sendWebhook("ext-1", "deposit", "failed")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res usecase.NotificationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, string(domain.StatusCancelled), res.Status)
	assert.True(t, env.balance("acc-1").IsZero())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, _ := env.do(http.MethodPost, "/webhooks/acme", []byte(`{"transaction_id":"x"}`), map[string]string{
		webhook.DefaultSignatureHeader: "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/webhooks/unknown", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMediationHoldAndRelease(t *testing.T) {
	env := newTestEnv(t, envOptions{jwt: auth.NewJWTManager("jwt-secret", time.Hour)})
	env.createAccount("acc-1")
	pr := env.createRequest("acc-1", "deposit", "40", "ext-1")

	resp, _ := env.sendWebhook("ext-1", "deposit", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/api/v1/payment-requests/"+pr.ID+"/mediation", dto.MediationRequest{Reason: "chargeback"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var held dto.ProcessResultResponse
	require.NoError(t, json.Unmarshal(body, &held))
	assert.True(t, held.Applied)
	assert.Equal(t, string(domain.StatusMediation), held.PaymentRequest.Status)
	assert.True(t, env.balance("acc-1").IsZero())

	resp, _ = env.do(http.MethodPost, "/api/v1/payment-requests/"+pr.ID+"/mediation", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(http.MethodDelete, "/api/v1/payment-requests/"+pr.ID+"/mediation", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, env.balance("acc-1").Equal(decimal.NewFromInt(40)))

	types := make([]string, 0)
	for _, e := range env.ledger("acc-1") {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		string(domain.LedgerEventCredit),
		string(domain.LedgerEventHold),
		string(domain.LedgerEventRelease),
	}, types)

	resp, _ = env.do(http.MethodPost, "/api/v1/payment-requests/"+pr.ID+"/mediation", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, envOptions{jwt: auth.NewJWTManager("jwt-secret", time.Hour)})
	env.token = ""

	resp, _ := env.do(http.MethodGet, "/api/v1/accounts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReconciliationAfterSettlement(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")
	env.createAccount("acc-2")
	env.createRequest("acc-1", "deposit", "12.34", "ext-1")

	resp, _ := env.sendWebhook("ext-1", "deposit", "paid")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodGet, "/api/v1/accounts/acc-1/reconciliation", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result dto.ReconciliationResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.IsReconciled)
	assert.True(t, result.CalculatedBalance.Equal(decimal.RequireFromString("12.34")))

	resp, body = env.do(http.MethodGet, "/api/v1/reconciliation", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report dto.ReconciliationReportResponse
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 2, report.TotalAccounts)
	assert.Equal(t, 2, report.ReconciledAccounts)
	assert.Empty(t, report.Discrepancies)
}

func TestDuplicateAdjustmentIsAbsorbed(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.createAccount("acc-1")

	adj := dto.AdjustmentRequest{Type: string(domain.LedgerEventCredit), Amount: decimal.NewFromInt(7), TransactionID: "adj-1", Reason: "goodwill"}
	resp, body := env.do(http.MethodPost, "/api/v1/accounts/acc-1/adjustments", adj, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(http.MethodPost, "/api/v1/accounts/acc-1/adjustments", adj, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var dup dto.ProcessResultResponse
	require.NoError(t, json.Unmarshal(body, &dup))
	assert.False(t, dup.Applied)
	assert.True(t, env.balance("acc-1").Equal(decimal.NewFromInt(7)))
}

func TestIdempotencyKeyReplaysAdminCall(t *testing.T) {
	env := newTestEnv(t, envOptions{redis: true})
	env.createAccount("acc-1")

	headers := map[string]string{"Idempotency-Key": "create-req-1"}
	body := dto.CreatePaymentRequestRequest{
		AccountID:   "acc-1",
		Direction:   "deposit",
		Amount:      decimal.NewFromInt(3),
		Provider:    "acme",
		ExternalRef: "ext-1",
	}

	resp, first := env.do(http.MethodPost, "/api/v1/payment-requests", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(first))

	resp, second := env.do(http.MethodPost, "/api/v1/payment-requests", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(second))
	assert.Equal(t, "true", resp.Header.Get("X-Idempotency-Replay"))
	assert.JSONEq(t, string(first), string(second))

	resp, _ = env.do(http.MethodPost, "/api/v1/payment-requests", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRedisCachedGateStillCreditsOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{redis: true})
	env.createAccount("acc-1")
	env.createRequest("acc-1", "deposit", "9", "ext-1")

	for i := 0; i < 3; i++ {
		resp, body := env.sendWebhook("ext-1", "deposit", "paid")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	assert.Len(t, env.ledger("acc-1"), 1)
	assert.True(t, env.balance("acc-1").Equal(decimal.NewFromInt(9)))
}
