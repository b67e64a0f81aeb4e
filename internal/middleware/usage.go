package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/tenant"
)

// usageLogger is the subset of tenant.Gate the usage-logging middleware
// needs; lets tests substitute a fake without pulling in the full Gate.
type usageLogger interface {
	RecordUsage(ctx context.Context, auth tenant.AuthContext, log domain.ApiUsageLog) error
}

// LogUsage fires off, on every authenticated request that reaches the
// handler, an asynchronous currentUsage/totalCalls increment plus an
// ApiUsageLog row, detached from the request's own deadline so a slow
// persistence write never adds to response latency and survives client
// disconnect.
func LogUsage(gate usageLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsAdminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			auth, ok := AuthFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logEntry := domain.ApiUsageLog{
				ID:             uuid.NewString(),
				UserID:         auth.User.ID,
				ApiKeyID:       auth.ApiKey.ID,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     rec.status,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				UserAgent:      r.UserAgent(),
				IPAddress:      r.RemoteAddr,
				RequestID:      RequestIDFromContext(r.Context()),
				Timestamp:      start,
			}

			go func(auth tenant.AuthContext, log domain.ApiUsageLog) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = gate.RecordUsage(ctx, auth, log)
			}(auth, logEntry)
		})
	}
}
