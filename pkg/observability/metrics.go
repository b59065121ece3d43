package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	APIKeyValidations     *prometheus.CounterVec
	APIKeyCacheLookups    *prometheus.CounterVec
	APIKeysIssuedTotal    prometheus.Counter
	RateLimitDecisions    *prometheus.CounterVec
	RateLimitStoreErrors  *prometheus.CounterVec
	StoreErrorsTotal      *prometheus.CounterVec
	StoreOperationLatency *prometheus.HistogramVec

	// Catalog metrics
	CatalogReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_decisions_total",
				Help: "Authorization guard decisions",
			},
			[]string{"guard", "decision", "code"},
		),
		APIKeyValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_apikey_validations_total",
				Help: "API key validation outcomes",
			},
			[]string{"result"},
		),
		APIKeyCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_apikey_cache_lookups_total",
				Help: "API key cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		APIKeysIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_apikeys_issued_total",
				Help: "Total number of API keys issued",
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_ratelimit_decisions_total",
				Help: "Rate limiter decisions by identity kind",
			},
			[]string{"kind", "decision"},
		),
		RateLimitStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_ratelimit_store_errors_total",
				Help: "Counter store failures handled by the configured failure policy",
			},
			[]string{"policy"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_errors_total",
				Help: "Shared store failures",
			},
			[]string{"store", "operation"},
		),
		StoreOperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_store_operation_duration_seconds",
				Help:    "Shared store operation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"store", "operation"},
		),
		CatalogReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_catalog_reloads_total",
				Help: "Role catalog reload attempts",
			},
			[]string{"status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.AuthzDecisionsTotal,
			m.APIKeyValidations,
			m.APIKeyCacheLookups,
			m.APIKeysIssuedTotal,
			m.RateLimitDecisions,
			m.RateLimitStoreErrors,
			m.StoreErrorsTotal,
			m.StoreOperationLatency,
			m.CatalogReloadsTotal,
		)
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthzDecision records a guard decision
func (m *Metrics) RecordAuthzDecision(guard string, allowed bool, code string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(guard, decisionLabel(allowed), code).Inc()
}

// RecordAPIKeyValidation records the outcome of a credential resolution
func (m *Metrics) RecordAPIKeyValidation(result string) {
	if m == nil {
		return
	}
	m.APIKeyValidations.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a cache lookup
func (m *Metrics) RecordCacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.APIKeyCacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordKeyIssued records an issued API key
func (m *Metrics) RecordKeyIssued() {
	if m == nil {
		return
	}
	m.APIKeysIssuedTotal.Inc()
}

// RecordRateLimit records a rate limiter decision
func (m *Metrics) RecordRateLimit(kind string, allowed bool) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(kind, decisionLabel(allowed)).Inc()
}

// RecordRateLimitStoreError records a counter store failure
func (m *Metrics) RecordRateLimitStoreError(policy string) {
	if m == nil {
		return
	}
	m.RateLimitStoreErrors.WithLabelValues(policy).Inc()
}

// RecordStoreOperation records a shared store call
func (m *Metrics) RecordStoreOperation(store, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationLatency.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(store, operation).Inc()
	}
}

// RecordCatalogReload records a catalog reload attempt
func (m *Metrics) RecordCatalogReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.CatalogReloadsTotal.WithLabelValues(status).Inc()
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// Handler returns the Prometheus scrape handler for registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
