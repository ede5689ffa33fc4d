package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Webhook ingestion metrics
	WebhooksReceived  *prometheus.CounterVec
	IngestDuration    prometheus.Histogram
	IdempotencyPurged prometheus.Counter

	// Settlement metrics
	BalanceMutations   *prometheus.CounterVec
	DuplicateEvents    *prometheus.CounterVec
	MutationAmount     prometheus.Histogram
	PaymentTransitions *prometheus.CounterVec
	ProcessorErrors    *prometheus.CounterVec
	SettleDuration     prometheus.Histogram

	// Reconciliation metrics
	LedgerDriftAccounts prometheus.Gauge
	ReconciliationRuns  *prometheus.CounterVec

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter

	// Edge metrics
	RateLimitHits *prometheus.CounterVec
	AuthFailures  *prometheus.CounterVec
}

// New creates all metrics on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		WebhooksReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_webhooks_received_total",
				Help: "Webhook deliveries by provider and ingestion outcome",
			},
			[]string{"provider", "outcome"},
		),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gosettle_ingest_duration_seconds",
			Help:    "Duration of webhook ingestion including duplicate waits",
			Buckets: prometheus.DefBuckets,
		}),
		IdempotencyPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "gosettle_idempotency_records_purged_total",
			Help: "Expired idempotency records deleted",
		}),

		BalanceMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_balance_mutations_total",
				Help: "Committed balance mutations by ledger event type",
			},
			[]string{"type"},
		),
		DuplicateEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_duplicate_ledger_events_total",
				Help: "Ledger appends absorbed as duplicates",
			},
			[]string{"type"},
		),
		MutationAmount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gosettle_mutation_amount",
			Help:    "Amounts of committed balance mutations",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		}),
		PaymentTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_payment_transitions_total",
				Help: "Payment request status transitions",
			},
			[]string{"direction", "to"},
		),
		ProcessorErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_processor_errors_total",
				Help: "Hard processing failures by error code",
			},
			[]string{"code"},
		),
		SettleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gosettle_settle_duration_seconds",
			Help:    "Duration of the settlement atomic unit",
			Buckets: prometheus.DefBuckets,
		}),

		LedgerDriftAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "gosettle_ledger_drift_accounts",
			Help: "Accounts whose balance differs from the ledger in the last reconciliation",
		}),
		ReconciliationRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_reconciliation_runs_total",
				Help: "Reconciliation sweeps by result",
			},
			[]string{"result"},
		),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "gosettle_outbox_published_total",
			Help: "Outbox events published to the broker",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gosettle_outbox_failures_total",
			Help: "Outbox events that failed to publish",
		}),

		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		AuthFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosettle_auth_failures_total",
				Help: "Rejected admin API and webhook authentications",
			},
			[]string{"reason"},
		),
	}
}
