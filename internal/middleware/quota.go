package middleware

import (
	"net/http"
	"strconv"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/metrics"
	"github.com/lewashby/tokenflow/internal/tenant"
)

// EnforceQuota requires an active subscription under its monthly quota
// for authenticated, non-admin requests, and annotates
// every authenticated response with the caller's quota headroom. A nil m
// disables the Tenant Gate's request-outcome metrics.
func EnforceQuota(gate *tenant.Gate, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsAdminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			auth, ok := AuthFromContext(r.Context())
			if !ok {
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apierr.New(apierr.KindUnauthenticated, "authentication required"))
				return
			}
			plan := string(auth.Subscription.Plan)

			if err := gate.CheckQuota(auth); err != nil {
				var apiErr *apierr.Error
				if !apierr.As(err, &apiErr) {
					apiErr = apierr.Wrap(apierr.KindInternal, "quota check failed", err)
				}
				if m != nil {
					outcome := "quota_exceeded"
					if apiErr.Kind == apierr.KindSubscriptionInactive {
						outcome = "subscription_inactive"
					}
					m.RecordTenantRequest(plan, outcome)
				}
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apiErr)
				return
			}

			remaining := auth.Subscription.MonthlyQuota - auth.Subscription.CurrentUsage
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-Quota-Limit", strconv.FormatInt(auth.Subscription.MonthlyQuota, 10))
			w.Header().Set("X-Quota-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-Quota-Reset", auth.Subscription.BillingPeriodEnd.Format("2006-01-02"))

			if m != nil {
				m.RecordTenantRequest(plan, "allowed")
			}
			next.ServeHTTP(w, r)
		})
	}
}
