package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/tenant"
)

// APIKeyHeader is where callers present their tenant credential.
const APIKeyHeader = "X-Api-Key"

// Authenticate extracts the API key, checks it against the admin bypass
// first, and otherwise authenticates it through the Tenant Gate. Success
// attaches a tenant.AuthContext to the request context; the gate's
// last-used bookkeeping is fired off detached from the request so a slow
// persistence write never adds to request latency.
func Authenticate(gate *tenant.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(APIKeyHeader)

			if gate.IsAdminKey(rawKey) {
				next.ServeHTTP(w, r.WithContext(WithAdminBypass(r.Context())))
				return
			}

			auth, err := gate.Authenticate(r.Context(), rawKey)
			if err != nil {
				var apiErr *apierr.Error
				if !apierr.As(err, &apiErr) {
					apiErr = apierr.Wrap(apierr.KindInternal, "authentication failed", err)
				}
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apiErr)
				return
			}

			go func(auth tenant.AuthContext) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := gate.TouchAuth(ctx, auth); err != nil {
					slog.Warn("tenant: touch auth bookkeeping failed", "error", err, "userId", auth.User.ID)
				}
			}(*auth)

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), *auth)))
		})
	}
}
