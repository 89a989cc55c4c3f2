package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the admission collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	rateLimitChecks *prometheus.CounterVec
	quotaChecks     *prometheus.CounterVec
	quotaIncrements *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	breakerOpen     *prometheus.GaugeVec
	checkDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		rateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_rate_limit_checks_total",
				Help: "Total number of rate limit checks by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		quotaChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_quota_checks_total",
				Help: "Total number of daily quota checks by plan and outcome",
			},
			[]string{"plan", "outcome"},
		),

		quotaIncrements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_quota_increments_total",
				Help: "Total number of metered operations recorded against daily quotas",
			},
			[]string{"plan"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_store_errors_total",
				Help: "Total number of failed counter or quota store operations",
			},
			[]string{"store"},
		),

		breakerOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "admission_breaker_open",
				Help: "1 while the circuit breaker of a store is not closed",
			},
			[]string{"store"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) RecordRateLimitCheck(tier, outcome string) {
	if m == nil {
		return
	}
	m.rateLimitChecks.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) RecordQuotaCheck(plan, outcome string) {
	if m == nil {
		return
	}
	m.quotaChecks.WithLabelValues(plan, outcome).Inc()
}

func (m *Metrics) RecordQuotaIncrement(plan string) {
	if m == nil {
		return
	}
	m.quotaIncrements.WithLabelValues(plan).Inc()
}

func (m *Metrics) RecordStoreError(store string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(store).Inc()
}

func (m *Metrics) SetBreakerOpen(store string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.WithLabelValues(store).Set(v)
}

func (m *Metrics) ObserveCheckDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
