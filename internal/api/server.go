package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewashby/tokenflow/internal/metrics"
	"github.com/lewashby/tokenflow/internal/middleware"
	"github.com/lewashby/tokenflow/internal/tenant"
)

// Server is the HTTP Surface: a gorilla/mux router with the full
// middleware chain (request id, logging, security headers, auth, quota,
// rate limiting) wrapping Handler's endpoints.
type Server struct {
	httpServer *http.Server
}

// Config configures the Server's network and timeout behavior.
type Config struct {
	Port            string
	IsProduction    bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestDeadline time.Duration
	CORSOrigins     []string
}

// NewServer builds the router and wraps it in an http.Server. A nil m
// disables the /metrics endpoint and all Tenant Gate request-outcome
// instrumentation.
func NewServer(cfg Config, h *Handler, gate *tenant.Gate, rl *middleware.RateLimiter, defaultRateLimit int, m *metrics.Metrics) *Server {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.EnforceHTTPS(cfg.IsProduction))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(requestDeadline(cfg.RequestDeadline))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/webhooks/apix", h.Webhook).Methods(http.MethodPost)

	// Registration is the one /api/v1 endpoint reachable without a tenant
	// API key.
	r.HandleFunc("/api/v1/users/register", h.Register).Methods(http.MethodPost)

	// Everything else under /api/v1 runs through the Tenant Gate: identify
	// the caller, rate-limit, then enforce quota.
	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(middleware.Authenticate(gate))
	authed.Use(middleware.Enforce(rl, defaultRateLimit, m))
	authed.Use(middleware.EnforceQuota(gate, m))
	authed.Use(middleware.LogUsage(gate))

	authed.HandleFunc("/analyze/path", h.AnalyzePath).Methods(http.MethodGet, http.MethodPost)
	authed.HandleFunc("/risk/{address}", h.Risk).Methods(http.MethodGet)
	authed.HandleFunc("/intent/{signature}", h.Intent).Methods(http.MethodGet)
	authed.HandleFunc("/trace", h.Trace).Methods(http.MethodPost)
	authed.HandleFunc("/analyze/token", h.AnalyzeToken).Methods(http.MethodGet, http.MethodPost)

	authed.HandleFunc("/users/me", h.Me).Methods(http.MethodGet)
	authed.HandleFunc("/users/usage", h.Usage).Methods(http.MethodGet)
	authed.HandleFunc("/users/keys", h.ListKeys).Methods(http.MethodGet)
	authed.HandleFunc("/users/keys", h.CreateKey).Methods(http.MethodPost)
	authed.HandleFunc("/users/keys/{keyId}", h.RevokeKey).Methods(http.MethodDelete)
	authed.HandleFunc("/users/plan", h.UpdatePlan).Methods(http.MethodPost)
	authed.HandleFunc("/users/cancel", h.Cancel).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{httpServer: srv}
}

// ListenAndServe starts the server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	slog.Info("tokenflow api starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestDeadline bounds every handler with an overall deadline,
// 30s unless configured otherwise.
func requestDeadline(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// corsMiddleware reflects the configured allow-list.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 1 && origins[0] == "*"
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", fmt.Sprintf("Content-Type, %s, %s", middleware.APIKeyHeader, middleware.RequestIDHeader))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
