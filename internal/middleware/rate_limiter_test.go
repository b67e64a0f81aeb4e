package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/tenant"
)

// downCache simulates an unreachable KV store so Check exercises the
// in-process fallback path.
type downCache struct{}

func (downCache) Set(context.Context, string, []byte, time.Duration) error { return errors.New("down") }
func (downCache) Get(context.Context, string) ([]byte, error)              { return nil, errors.New("down") }
func (downCache) Delete(context.Context, ...string) error                  { return errors.New("down") }
func (downCache) Incr(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("down")
}
func (downCache) Close() error { return nil }

func TestCheckUsesKVCounter(t *testing.T) {
	rl := NewRateLimiter(cache.NewNoOp(), 100, time.Hour)

	// NoOp's Incr is a real in-process counter, so consecutive checks on
	// the same key within the minute bucket count up.
	c1, reset, err := rl.Check(context.Background(), "key-1", 10)
	require.NoError(t, err)
	c2, _, err := rl.Check(context.Background(), "key-1", 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), c1)
	assert.Equal(t, int64(2), c2)
	assert.Greater(t, reset, 0)
	assert.LessOrEqual(t, reset, 60)
}

func TestCheckFallsBackWhenKVDown(t *testing.T) {
	rl := NewRateLimiter(downCache{}, 100, time.Hour)

	limit := 3
	var rejected bool
	for i := 0; i < limit+1; i++ {
		count, _, err := rl.Check(context.Background(), "key-2", limit)
		require.NoError(t, err)
		if count > int64(limit) {
			rejected = true
		}
	}
	assert.True(t, rejected, "fallback limiter should reject once the bucket is dry")
}

func authedRequest(auth tenant.AuthContext) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/path", nil)
	return r.WithContext(WithAuth(r.Context(), auth))
}

func testAuth(limit int, usage, quota int64) tenant.AuthContext {
	return tenant.AuthContext{
		User: domain.User{ID: "u-1"},
		Subscription: domain.Subscription{
			ID: "s-1", Status: domain.SubscriptionActive, Plan: domain.PlanStarter,
			RateLimitPerMinute: limit, CurrentUsage: usage, MonthlyQuota: quota,
			BillingPeriodEnd: time.Now().AddDate(0, 1, 0),
		},
		ApiKey: domain.ApiKey{ID: "k-1"},
	}
}

func TestEnforceSetsRateLimitHeadersAndRejects(t *testing.T) {
	rl := NewRateLimiter(cache.NewNoOp(), 100, time.Hour)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := Enforce(rl, 10, nil)(next)

	auth := testAuth(2, 0, 1000)

	// First two pass with headers, third is rejected.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest(auth))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(auth))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RateLimited")
}

func TestEnforceQuotaHeadersAndRejection(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	gate, err := tenant.New(noopStore{}, "0123456789abcdef0123456789abcdef", "", 0)
	require.NoError(t, err)
	handler := EnforceQuota(gate, nil)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(testAuth(10, 5, 1000)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "995", rec.Header().Get("X-Quota-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-Quota-Reset"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(testAuth(10, 1000, 1000)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "QuotaExceeded")
	assert.Contains(t, rec.Body.String(), "resetDate")
}

func TestEnforceQuotaAdminBypass(t *testing.T) {
	gate, err := tenant.New(noopStore{}, "0123456789abcdef0123456789abcdef", "", 0)
	require.NoError(t, err)
	var reached bool
	handler := EnforceQuota(gate, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true }))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/path", nil)
	r = r.WithContext(WithAdminBypass(r.Context()))
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, reached)
}

// noopStore satisfies tenant.Store for middleware tests that never hit
// persistence.
type noopStore struct{}

func (noopStore) GetUserByID(context.Context, string) (*domain.User, error)         { return nil, nil }
func (noopStore) GetUserByEmail(context.Context, string) (*domain.User, error)      { return nil, nil }
func (noopStore) GetUserByExternalID(context.Context, string) (*domain.User, error) { return nil, nil }
func (noopStore) CreateUser(context.Context, domain.User) error                     { return nil }
func (noopStore) UpdateUser(context.Context, domain.User) error                     { return nil }
func (noopStore) GetActiveSubscription(context.Context, string) (*domain.Subscription, error) {
	return nil, nil
}
func (noopStore) GetLatestSubscription(context.Context, string) (*domain.Subscription, error) {
	return nil, nil
}
func (noopStore) CreateSubscription(context.Context, domain.Subscription) error { return nil }
func (noopStore) UpdateSubscription(context.Context, domain.Subscription) error { return nil }
func (noopStore) IncrementUsage(context.Context, string, int64) error           { return nil }
func (noopStore) GetApiKeyByHash(context.Context, string) (*domain.ApiKey, error) {
	return nil, nil
}
func (noopStore) ListApiKeys(context.Context, string) ([]domain.ApiKey, error) { return nil, nil }
func (noopStore) CreateApiKey(context.Context, domain.ApiKey) error            { return nil }
func (noopStore) RevokeApiKey(context.Context, string, string) error           { return nil }
func (noopStore) IncrementApiKeyCalls(context.Context, string, int64) error    { return nil }
func (noopStore) TouchUserLastLogin(context.Context, string) error             { return nil }
func (noopStore) InsertApiUsageLog(context.Context, domain.ApiUsageLog) error  { return nil }
func (noopStore) ListApiUsageLogs(context.Context, string, int) ([]domain.ApiUsageLog, error) {
	return nil, nil
}
