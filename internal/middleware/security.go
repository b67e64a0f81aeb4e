package middleware

import (
	"net/http"

	"github.com/lewashby/tokenflow/internal/apierr"
)

// SecurityHeaders sets the strict transport, referrer, and content-security
// headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// EnforceHTTPS refuses plain HTTP in production with 403 HttpsRequired.
// TLS termination happens upstream of this process, so it trusts
// X-Forwarded-Proto from the fronting proxy.
func EnforceHTTPS(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProduction && r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apierr.New(apierr.KindHTTPSRequired, "HTTPS is required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
