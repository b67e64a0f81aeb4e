package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/metrics"
)

// RateLimiter enforces per-key-per-minute call limits, rejecting with 429
// RateLimited and a retry-after. It is KV-backed via cache.Cache.Incr so
// limits are shared across replicas, falling back to an in-process,
// capacity+TTL-bounded LRU of token-bucket limiters (golang.org/x/time/rate)
// when the cache is unavailable, so the fallback itself cannot grow
// unbounded.
type RateLimiter struct {
	kv       cache.Cache
	fallback *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter constructs a RateLimiter. lruSize/lruTTL bound the
// in-process fallback (config.TenantConfig.RateLimitLRUSize/TTLSec).
func NewRateLimiter(kv cache.Cache, lruSize int, lruTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		kv:       kv,
		fallback: expirable.NewLRU[string, *rate.Limiter](lruSize, nil, lruTTL),
	}
}

// Check increments the counter for key's current one-minute bucket and
// reports the resulting count plus seconds until the bucket resets. limit
// is the caller's per-minute allowance, needed to size a fresh fallback
// token bucket the first time key is seen without the KV store.
func (rl *RateLimiter) Check(ctx context.Context, key string, limit int) (count int64, resetSec int, err error) {
	now := time.Now()
	bucket := now.Unix() / 60
	resetSec = 60 - int(now.Unix()%60)

	bucketKey := key + ":" + strconv.FormatInt(bucket, 10)
	count, err = rl.kv.Incr(ctx, bucketKey, 1, 60*time.Second)
	if err == nil {
		return count, resetSec, nil
	}

	slog.Warn("rate_limiter: cache unavailable, using in-process fallback", "error", err)
	return rl.checkFallback(key, limit, now), resetSec, nil
}

// checkFallback approximates the fixed-window count/limit contract with a
// per-key token bucket refilling at limit tokens/minute and burst=limit:
// each call consumes one token, and the reported "count" is how many of
// the bucket's tokens are spent, so Enforce's count>limit comparison still
// rejects once the bucket is dry.
func (rl *RateLimiter) checkFallback(key string, limit int, now time.Time) int64 {
	lim, ok := rl.fallback.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit))/60, limit)
		rl.fallback.Add(key, lim)
	}
	allowed := lim.AllowN(now, 1)
	spent := int64(limit) - int64(lim.TokensAt(now))
	if !allowed {
		spent = int64(limit) + 1
	}
	return spent
}

// Enforce applies the per-tenant rateLimitPerMinute from the caller's plan
// (or a fixed default for unauthenticated lookups), keyed by API key /
// remote address. Admin-bypass requests skip enforcement entirely.
func Enforce(rl *RateLimiter, defaultLimit int, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsAdminBypass(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}

			limit := defaultLimit
			key := r.RemoteAddr
			plan := ""
			if auth, ok := AuthFromContext(r.Context()); ok {
				limit = auth.Subscription.RateLimitPerMinute
				key = auth.ApiKey.ID
				plan = string(auth.Subscription.Plan)
			}
			if limit <= 0 {
				limit = defaultLimit
			}

			count, resetSec, err := rl.Check(r.Context(), key, limit)
			if err != nil {
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apierr.Wrap(apierr.KindInternal, "rate limit check failed", err))
				return
			}

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSec))

			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(resetSec))
				if m != nil {
					m.RecordTenantRequest(plan, "rate_limited")
				}
				apierr.WriteJSON(w, RequestIDFromContext(r.Context()), apierr.New(apierr.KindRateLimited, "rate limit exceeded").
					WithContext(map[string]any{"retryAfterSec": resetSec}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
