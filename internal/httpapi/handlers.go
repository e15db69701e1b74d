package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"payvault.org/internal/audit"
	"payvault.org/internal/auth"
	"payvault.org/internal/guard"
	"payvault.org/internal/obs"
	"payvault.org/internal/payment"
	"payvault.org/internal/stream"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	payments payment.Service
	guard    *guard.Guard
	recorder *audit.Recorder
	stream   *stream.Stream

	corsOrigin    string
	maxBodyBytes  int64
	rateBurst     int
	ratePerSecond int
	quotaWindow   time.Duration
	quotaMax      int

	// resetDelivery receives freshly minted password reset tokens for
	// out-of-band delivery. The token never appears in an HTTP response.
	resetDelivery func(username, rawToken string)
}

// Option adjusts transport-level knobs.
type Option func(*API)

// WithCORSOrigin allows one configured origin in addition to localhost.
func WithCORSOrigin(origin string) Option {
	return func(a *API) { a.corsOrigin = strings.TrimSpace(origin) }
}

// WithBodyLimit caps request body size in bytes.
func WithBodyLimit(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithThrottle tunes the per-IP token bucket.
func WithThrottle(perSecond, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.ratePerSecond = perSecond
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

// WithQuota tunes the fixed-window request quota.
func WithQuota(window time.Duration, max int) Option {
	return func(a *API) {
		if window > 0 {
			a.quotaWindow = window
		}
		if max > 0 {
			a.quotaMax = max
		}
	}
}

// WithResetDelivery installs the password reset delivery hook.
func WithResetDelivery(fn func(username, rawToken string)) Option {
	return func(a *API) { a.resetDelivery = fn }
}

func New(rp ReadyProbe, version string, svc *auth.Service, payments payment.Service, g *guard.Guard, recorder *audit.Recorder, activity *stream.Stream, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		auth:          svc,
		payments:      payments,
		guard:         g,
		recorder:      recorder,
		stream:        activity,
		maxBodyBytes:  64 << 10,
		rateBurst:     20,
		ratePerSecond: 10,
		quotaWindow:   guard.DefaultQuotaWindow,
		quotaMax:      guard.DefaultQuotaMax,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credential lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/password-reset", a.handlePasswordResetStart)
	a.mux.HandleFunc("/v1/auth/password-reset/confirm", a.handlePasswordResetConfirm)
	a.mux.HandleFunc("/v1/session", a.handleSession)

	// payments
	a.mux.HandleFunc("/v1/payments", a.handlePaymentsCollection)
	a.mux.HandleFunc("/v1/payments/", a.handlePaymentResource)

	// live security feed
	a.mux.HandleFunc("/v1/activity/stream", a.StreamActivity)

	// (опционально) корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux. Order matters:
// the request id must exist before anything logs or throttles, and auth
// runs innermost so rejected requests are still logged and counted.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = a.quotaLimit(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "payvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "payvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
