package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector for Prometheus.
type PrometheusCollector struct {
	syncRuns       *prometheus.CounterVec
	syncFailures   *prometheus.CounterVec
	syncLatency    *prometheus.HistogramVec
	accountSyncs   *prometheus.CounterVec
	accountLatency *prometheus.HistogramVec
	transactions   *prometheus.CounterVec
	adjustments    *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	upstreamCalls  *prometheus.CounterVec
	upstreamTime   *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// NewPrometheusCollector creates a collector whose metrics live under namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		syncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Full sync runs by trigger",
			},
			[]string{"trigger"},
		),
		syncFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_failed_accounts_total",
				Help:      "Accounts that failed during full sync runs",
			},
			[]string{"trigger"},
		),
		syncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Duration of full sync runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"trigger"},
		),
		accountSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_syncs_total",
				Help:      "Per-account syncs by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		accountLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "account_sync_duration_seconds",
				Help:      "Duration of per-account syncs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Transactions handed to a backend, by result",
			},
			[]string{"backend", "result"},
		),
		adjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_adjustments_total",
				Help:      "Balance adjustments written to tracking accounts",
			},
			[]string{"backend"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Webhook deliveries by result",
			},
			[]string{"result"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Outbound HTTP requests by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		upstreamTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Outbound HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Inbound HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordSyncRun implements Collector.
func (pc *PrometheusCollector) RecordSyncRun(trigger string, failedAccounts int, duration time.Duration) {
	pc.syncRuns.WithLabelValues(trigger).Inc()
	pc.syncFailures.WithLabelValues(trigger).Add(float64(failedAccounts))
	pc.syncLatency.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordAccountSync implements Collector.
func (pc *PrometheusCollector) RecordAccountSync(backend, outcome string, duration time.Duration) {
	pc.accountSyncs.WithLabelValues(backend, outcome).Inc()
	pc.accountLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordTransactions implements Collector.
func (pc *PrometheusCollector) RecordTransactions(backend string, reconciled, changed, failed int) {
	pc.transactions.WithLabelValues(backend, "unchanged").Add(float64(reconciled - changed))
	pc.transactions.WithLabelValues(backend, "changed").Add(float64(changed))
	pc.transactions.WithLabelValues(backend, "failed").Add(float64(failed))
}

// RecordBalanceAdjustment implements Collector.
func (pc *PrometheusCollector) RecordBalanceAdjustment(backend string) {
	pc.adjustments.WithLabelValues(backend).Inc()
}

// RecordWebhook implements Collector.
func (pc *PrometheusCollector) RecordWebhook(result string) {
	pc.webhooks.WithLabelValues(result).Inc()
}

// RecordUpstreamCall implements Collector.
func (pc *PrometheusCollector) RecordUpstreamCall(service, outcome string, duration time.Duration) {
	pc.upstreamCalls.WithLabelValues(service, outcome).Inc()
	pc.upstreamTime.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordCircuitState implements Collector.
func (pc *PrometheusCollector) RecordCircuitState(service string, state CircuitState) {
	pc.circuitState.WithLabelValues(service).Set(float64(state))
}

// RecordHTTPRequest implements Collector.
func (pc *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	pc.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pc.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.syncRuns,
		pc.syncFailures,
		pc.syncLatency,
		pc.accountSyncs,
		pc.accountLatency,
		pc.transactions,
		pc.adjustments,
		pc.webhooks,
		pc.upstreamCalls,
		pc.upstreamTime,
		pc.circuitState,
		pc.httpRequests,
		pc.httpLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}
