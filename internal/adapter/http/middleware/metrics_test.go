package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsRecordsRoutePattern(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		path       string
		label      string
		statusCode int
	}{
		{
			name:       "labels by route pattern",
			method:     http.MethodGet,
			path:       "/api/v1/accounts/ABC123",
			label:      "/api/v1/accounts/{id}",
			statusCode: http.StatusTeapot,
		},
		{
			name:       "static route",
			method:     http.MethodPost,
			path:       "/health",
			label:      "/health",
			statusCode: http.StatusCreated,
		},
		{
			name:       "unmatched route",
			method:     http.MethodGet,
			path:       "/nope/123",
			label:      "unmatched",
			statusCode: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewHTTPMetrics(prometheus.NewRegistry())

			r := chi.NewRouter()
			r.Use(m.Wrap)
			status := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(tc.statusCode) }
			r.Get("/api/v1/accounts/{id}", status)
			r.Post("/health", status)

			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if got := testutil.ToFloat64(m.requestsInFlight); got != 0 {
				t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
			}

			if got := testutil.ToFloat64(m.requestsTotal); got != 1 {
				t.Fatalf("expected one request counted, got %v", got)
			}
			if got := testutil.CollectAndCount(m.requestDuration); got != 1 {
				t.Fatalf("expected one duration series, got %d", got)
			}
			counter := m.requestsTotal.WithLabelValues(tc.method, tc.label, strconv.Itoa(tc.statusCode))
			if got := testutil.ToFloat64(counter); got != 1 {
				t.Fatalf("expected counter for %s to be 1, got %v", tc.label, got)
			}
		})
	}
}
