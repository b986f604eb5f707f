package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for tillage metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Tenant gateway
	statementsTotal   *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec

	// Key-value store
	kvOpsTotal *prometheus.CounterVec

	// Access control
	moduleDecisionsTotal *prometheus.CounterVec
	adminDenialsTotal    prometheus.Counter
	tenantMismatchTotal  prometheus.Counter
	rateLimitTotal       *prometheus.CounterVec

	// HTTP
	httpRequestsTotal *prometheus.CounterVec
	activeRequests    prometheus.Gauge
	uptime            prometheus.GaugeFunc
}

// Default histogram buckets for statement duration (in milliseconds)
var defaultBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var (
	promMetrics *PrometheusMetrics
	startTime   = time.Now()
)

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		statementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_statements_total",
				Help:      "Tenant-scoped SQL statements by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tenant_statement_duration_milliseconds",
				Help:      "Duration of tenant-scoped SQL statements in milliseconds",
				Buckets:   buckets,
			},
			[]string{"op"},
		),

		kvOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_kv_operations_total",
				Help:      "Tenant key-value operations by backend, operation and outcome",
			},
			[]string{"backend", "op", "outcome"},
		),

		moduleDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_gate_decisions_total",
				Help:      "Module access gate decisions",
			},
			[]string{"module", "decision"},
		),

		adminDenialsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_denials_total",
				Help:      "Administrative requests rejected by the owner-role gate",
			},
		),

		tenantMismatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_hint_mismatch_total",
				Help:      "Requests whose X-Tenant-ID hint disagreed with the session tenant",
			},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Per-tenant rate limit decisions",
			},
			[]string{"decision"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of in-flight HTTP requests",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since process start",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		pm.statementsTotal,
		pm.statementDuration,
		pm.kvOpsTotal,
		pm.moduleDecisionsTotal,
		pm.adminDenialsTotal,
		pm.tenantMismatchTotal,
		pm.rateLimitTotal,
		pm.httpRequestsTotal,
		pm.activeRequests,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordStatement records one tenant gateway statement
func RecordStatement(op, outcome string, duration time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.statementsTotal.WithLabelValues(op, outcome).Inc()
	if outcome != "rejected" {
		promMetrics.statementDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
	}
}

// RecordKVOperation records one tenant key-value operation
func RecordKVOperation(backend, op string, err error) {
	if promMetrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	promMetrics.kvOpsTotal.WithLabelValues(backend, op, outcome).Inc()
}

// RecordModuleDecision records a module gate allow/deny
func RecordModuleDecision(module string, allowed bool) {
	if promMetrics == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	promMetrics.moduleDecisionsTotal.WithLabelValues(module, decision).Inc()
}

// RecordAdminDenial counts a rejected administrative request
func RecordAdminDenial() {
	if promMetrics == nil {
		return
	}
	promMetrics.adminDenialsTotal.Inc()
}

// RecordTenantMismatch counts a rejected X-Tenant-ID hint
func RecordTenantMismatch() {
	if promMetrics == nil {
		return
	}
	promMetrics.tenantMismatchTotal.Inc()
}

// RecordRateLimitDecision records a per-tenant rate limit allow/deny
func RecordRateLimitDecision(allowed bool) {
	if promMetrics == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	promMetrics.rateLimitTotal.WithLabelValues(decision).Inc()
}

// RecordHTTPRequest records a completed HTTP request
func RecordHTTPRequest(method string, code int) {
	if promMetrics == nil {
		return
	}
	promMetrics.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// IncActiveRequests increments the active requests gauge
func IncActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Inc()
}

// DecActiveRequests decrements the active requests gauge
func DecActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Dec()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}

// StartTime returns the process start time
func StartTime() time.Time {
	return startTime
}
