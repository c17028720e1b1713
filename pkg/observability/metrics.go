package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It implements rbac.Recorder.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal   *prometheus.CounterVec
	GuardErrorsTotal *prometheus.CounterVec
	LinkChangesTotal *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec

	// Bootstrap metrics
	BootstrapRunsTotal   *prometheus.CounterVec
	BootstrapLastSuccess prometheus.Gauge

	registry prometheus.Registerer
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
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

		// Authorization metrics
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"check", "decision"},
		),
		GuardErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_errors_total",
				Help: "Authorization checks denied because resolution failed",
			},
			[]string{"check"},
		),
		LinkChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_link_changes_total",
				Help: "Role-permission and user-role links created or removed",
			},
			[]string{"operation"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_resolve_duration_seconds",
				Help:    "Time to resolve a user's effective permissions",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		// Cache metrics
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_lookups_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"result"},
		),

		// Bootstrap metrics
		BootstrapRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_bootstrap_runs_total",
				Help: "Bootstrap definition applications by status",
			},
			[]string{"trigger", "status"},
		),
		BootstrapLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_bootstrap_last_success_timestamp_seconds",
				Help: "Unix time of the last successful bootstrap application",
			},
		),

		registry: registry,
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.GuardErrorsTotal,
		m.LinkChangesTotal,
		m.ResolveDuration,
		m.CacheLookupsTotal,
		m.BootstrapRunsTotal,
		m.BootstrapLastSuccess,
	)

	return m
}

// RegisterDB exports connection pool statistics for db under the given name
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// RecordDecision counts an authorization decision
func (m *Metrics) RecordDecision(check string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.DecisionsTotal.WithLabelValues(check, decision).Inc()
}

// RecordGuardError counts a check that failed closed
func (m *Metrics) RecordGuardError(check string) {
	m.GuardErrorsTotal.WithLabelValues(check).Inc()
}

// RecordLinkChange adds count links to the operation's total
func (m *Metrics) RecordLinkChange(operation string, count int) {
	if count > 0 {
		m.LinkChangesTotal.WithLabelValues(operation).Add(float64(count))
	}
}

// ObserveResolve records a permission resolution latency
func (m *Metrics) ObserveResolve(duration time.Duration) {
	m.ResolveDuration.Observe(duration.Seconds())
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordBootstrap counts a bootstrap run started by trigger ("startup", "watch", "schedule")
func (m *Metrics) RecordBootstrap(trigger string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.BootstrapLastSuccess.SetToCurrentTime()
	}
	m.BootstrapRunsTotal.WithLabelValues(trigger, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
