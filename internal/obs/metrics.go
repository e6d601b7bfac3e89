package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth metrics
var (
	// AuthCallbacks counts callback completions by outcome (otp, code, error, missing).
	AuthCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_callback_total",
			Help: "Auth callback completions by outcome.",
		},
		[]string{"outcome"},
	)

	// LockoutChecks counts lockout evaluations by result (locked, open, error).
	LockoutChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_lockout_checks_total",
			Help: "Account lockout checks by result.",
		},
		[]string{"result"},
	)

	// AuditWriteFailures counts swallowed persistence failures by record kind.
	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit and failed-login writes that could not be persisted.",
		},
		[]string{"kind"},
	)

	// EdgeRedirects counts redirects issued by the session refresh middleware.
	EdgeRedirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_redirects_total",
			Help: "Redirects issued by route protection.",
		},
		[]string{"reason"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuthCallbacks, LockoutChecks, AuditWriteFailures, EdgeRedirects,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in known routes so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) == 4 && parts[0] == "admin" && parts[1] == "users" && parts[3] == "role" {
		return "/admin/users/:id/role"
	}
	if len(parts) == 3 && parts[0] == "admin" && (parts[1] == "flows" || parts[1] == "posts") {
		return "/admin/" + parts[1] + "/:id"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
