package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Identity metrics
	ResolutionsTotal        *prometheus.CounterVec
	DuplicateSubjectsTotal  prometheus.Counter
	ResolutionDuration      prometheus.Histogram

	// Authorization metrics
	EvaluationsTotal   *prometheus.CounterVec
	BreakGlassTotal    prometheus.Counter
	RoleReplacesTotal  *prometheus.CounterVec

	// API key metrics
	KeyValidationsTotal   *prometheus.CounterVec
	KeyMeteringFailures   prometheus.Counter
	RateLimitRejections   *prometheus.CounterVec

	// Impersonation metrics
	ImpersonationStartsTotal prometheus.Counter
	ImpersonationStopsTotal  prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_identity_resolutions_total",
				Help: "Total number of identity resolutions by outcome",
			},
			[]string{"outcome", "source"},
		),
		DuplicateSubjectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_identity_duplicate_subjects_total",
				Help: "Resolutions that found more than one actor for a subject id",
			},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authcore_identity_resolution_duration_seconds",
				Help:    "Identity resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_authz_evaluations_total",
				Help: "Total number of authorization evaluations by outcome",
			},
			[]string{"tenant", "outcome"},
		),
		BreakGlassTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_authz_break_glass_total",
				Help: "Evaluations authorized via the global admin allow-list",
			},
		),
		RoleReplacesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_authz_role_replaces_total",
				Help: "Total number of role set replacements by result",
			},
			[]string{"tenant", "result"},
		),

		KeyValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_apikey_validations_total",
				Help: "Total number of API key validations by result",
			},
			[]string{"result"},
		),
		KeyMeteringFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_apikey_metering_failures_total",
				Help: "Usage metering writes that failed after a successful validation",
			},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_apikey_rate_limit_rejections_total",
				Help: "Requests rejected by the per-key rate limiter",
			},
			[]string{"tenant"},
		),

		ImpersonationStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_impersonation_starts_total",
				Help: "Total number of impersonation sessions started",
			},
		),
		ImpersonationStopsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_impersonation_stops_total",
				Help: "Total number of impersonation sessions stopped explicitly",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.DuplicateSubjectsTotal,
		m.ResolutionDuration,
		m.EvaluationsTotal,
		m.BreakGlassTotal,
		m.RoleReplacesTotal,
		m.KeyValidationsTotal,
		m.KeyMeteringFailures,
		m.RateLimitRejections,
		m.ImpersonationStartsTotal,
		m.ImpersonationStopsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request counts and latency for every request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
