package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики безопасности
var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by identity type and outcome.",
		},
		[]string{"identity_type", "outcome"},
	)

	authLockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Lockouts triggered by the abuse guard, by route class.",
		},
		[]string{"class"},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected with 429, by route class.",
		},
		[]string{"class"},
	)

	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events recorded, by type and severity.",
		},
		[]string{"type", "severity"},
	)
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttemptsTotal, authLockoutsTotal, rateLimitedTotal, auditEventsTotal,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthAttempt counts one authentication attempt.
func ObserveAuthAttempt(identityType, outcome string) {
	authAttemptsTotal.WithLabelValues(identityType, outcome).Inc()
}

// ObserveLockout counts one lockout transition for the given route class.
func ObserveLockout(class string) {
	authLockoutsTotal.WithLabelValues(class).Inc()
}

// ObserveRateLimited counts one 429 rejection for the given route class.
func ObserveRateLimited(class string) {
	rateLimitedTotal.WithLabelValues(class).Inc()
}

// ObserveAuditEvent counts one recorded audit event.
func ObserveAuditEvent(eventType, severity string) {
	auditEventsTotal.WithLabelValues(eventType, severity).Inc()
}

// CanonicalPath collapses per-record path segments so metric labels stay
// low-cardinality. Unknown shapes pass through untouched.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(p, "/")
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "payments" && parts[3] != "" && parts[3] != "pending" {
		switch {
		case len(parts) == 4:
			parts[3] = ":id"
		case len(parts) == 5 && (parts[4] == "verify" || parts[4] == "submit"):
			parts[3] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
