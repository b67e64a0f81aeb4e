package middleware

import (
	"context"

	"github.com/lewashby/tokenflow/internal/tenant"
)

type contextKey string

const (
	authContextKey      contextKey = "tokenflow_auth"
	adminBypassKey      contextKey = "tokenflow_admin_bypass"
	requestIDContextKey contextKey = "tokenflow_request_id"
)

// WithAuth attaches an authenticated tenant context to ctx.
func WithAuth(ctx context.Context, auth tenant.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext retrieves the tenant context attached by the auth
// middleware, if any.
func AuthFromContext(ctx context.Context) (tenant.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey).(tenant.AuthContext)
	return auth, ok
}

// WithAdminBypass marks ctx as an internal admin-key caller, exempt from
// quota and rate-limit enforcement.
func WithAdminBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminBypassKey, true)
}

// IsAdminBypass reports whether ctx carries the admin bypass marker.
func IsAdminBypass(ctx context.Context) bool {
	v, _ := ctx.Value(adminBypassKey).(bool)
	return v
}

// WithRequestID attaches the per-request correlation id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext retrieves the request id, defaulting to "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
