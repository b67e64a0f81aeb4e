package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
)

// memCache is a deterministic in-memory Cache for adapter tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrMiss
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memCache) Incr(_ context.Context, _ string, _ int64, _ time.Duration) (int64, error) {
	return 0, cache.ErrMiss
}

func (m *memCache) Close() error { return nil }

func testAdapter(t *testing.T, handler http.Handler, c cache.Cache) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New(Config{
		BaseURL:             srv.URL,
		APIKey:              "test-key",
		HealthTimeout:       2 * time.Second,
		TxTimeout:           2 * time.Second,
		HistoryTimeout:      2 * time.Second,
		RetryMaxAttempts:    3,
		RetryBaseDelay:      time.Millisecond,
		BreakerThreshold:    5,
		BreakerOpenFor:      time.Second,
		BreakerHalfOpenReqs: 2,
	}, c)
	return a, srv
}

func TestDecimalToAmount(t *testing.T) {
	cases := []struct {
		amount   float64
		decimals int
		want     string
	}{
		{1.5, 6, "1500000"},
		{0, 6, "0"},
		{100, 0, "100"},
		{0.000001, 6, "1"},
		{1.9999999, 6, "1999999"}, // floored, never rounded up
		{-5, 6, "0"},              // negative clamps to zero
	}
	for _, tc := range cases {
		got := decimalToAmount(tc.amount, tc.decimals)
		assert.Equal(t, tc.want, got.Dec(), "amount=%v decimals=%d", tc.amount, tc.decimals)
	}
}

func TestFlattenTokenTransfersFiltersAndAnnotates(t *testing.T) {
	target := "TARGETMINT"
	txs := []domain.ParsedTransaction{
		{
			Signature: "sig1",
			BlockTime: 100,
			Accounts:  []domain.Account{{Address: "user", Signer: true, Writable: true}},
			TokenTransfers: []domain.TokenTransfer{
				{Mint: target, FromAddress: "pool", ToAddress: "user", TokenAmount: 100, Decimals: 6},
				{Mint: "USDC", FromAddress: "user", ToAddress: "pool", TokenAmount: 5, Decimals: 6},
			},
		},
		{
			Signature:      "sig2",
			BlockTime:      200,
			TokenTransfers: []domain.TokenTransfer{{Mint: "OTHER", FromAddress: "a", ToAddress: "b", TokenAmount: 1, Decimals: 6}},
		},
	}

	transfers := flattenTokenTransfers(txs, target)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, "sig1", tr.Signature)
	assert.Equal(t, domain.TxTypeSwap, tr.TxType)
	require.NotNil(t, tr.SwapDirection)
	assert.Equal(t, domain.SwapDirectionBuy, *tr.SwapDirection)
	assert.Equal(t, "100000000", tr.AmountString())
}

func TestGetTransactionNotFoundCachesNegative(t *testing.T) {
	var calls int
	c := newMemCache()
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}), c)

	tx, err := a.GetTransaction(context.Background(), "missing-sig")
	require.NoError(t, err)
	assert.Nil(t, tx)

	// Second lookup is served from the negative cache entry.
	tx, err = a.GetTransaction(context.Background(), "missing-sig")
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.Equal(t, 1, calls)
}

func TestGetTransactionRetriesServerErrors(t *testing.T) {
	var calls int
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signature":"sig","blockTime":100,"slot":1,"fee":5000,"success":true}`))
	}), cache.NewNoOp())

	tx, err := a.GetTransaction(context.Background(), "sig")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "sig", tx.Signature)
	assert.Equal(t, 3, calls)
}

func TestRateLimitedIsNotRetried(t *testing.T) {
	var calls int
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}), cache.NewNoOp())

	_, err := a.GetTransaction(context.Background(), "sig")
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 1, calls)
}

func TestBadResponseSurfacesImmediately(t *testing.T) {
	var calls int
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`not json at all`))
	}), cache.NewNoOp())

	_, err := a.GetTransaction(context.Background(), "sig")
	assert.True(t, IsBadResponse(err))
	assert.Equal(t, 1, calls)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	a, srv := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), cache.NewNoOp())
	defer srv.Close()

	// Each GetTransaction makes up to 3 attempts; two calls cross the
	// 5-failure threshold and trip the transaction-fetch breaker.
	for i := 0; i < 3; i++ {
		_, err := a.GetTransaction(context.Background(), "sig")
		require.Error(t, err)
	}

	_, err := a.GetTransaction(context.Background(), "sig")
	assert.True(t, IsUnavailable(err))
}

func TestGetTokenTransfersCachesResult(t *testing.T) {
	var calls int
	c := newMemCache()
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"signature":"s1","blockTime":100,"type":"TRANSFER","tokenTransfers":[{"mint":"MINT","fromUserAccount":"A","toUserAccount":"B","tokenAmount":1.5,"decimals":6}]}]`))
	}), c)

	first, err := a.GetTokenTransfers(context.Background(), "A", "MINT", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, domain.TxTypeTransfer, first[0].TxType)

	second, err := a.GetTokenTransfers(context.Background(), "A", "MINT", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, calls)
	// The exact amount survives the cache round-trip.
	assert.Equal(t, "1500000", second[0].AmountString())
}
