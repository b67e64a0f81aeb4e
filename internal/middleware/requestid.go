package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is honored if present and generated otherwise.
const RequestIDHeader = "X-Request-Id"

// RequestID attaches a request id to the request context and echoes it
// back on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
