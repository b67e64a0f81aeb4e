// Package upstream implements the Upstream Adapter: retry- and
// circuit-breaker-protected fetches of transactions and address histories
// against the external enhanced-transactions provider, with cache-aside
// reads through the Cache component.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/circuitbreaker"
	"github.com/lewashby/tokenflow/internal/classifier"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/metrics"
)

const (
	txCacheTTL             = time.Hour
	tokenTransfersCacheTTL = 5 * time.Minute
	recentActivityCacheTTL = 2 * time.Minute
)

// AddressTxOptions constrains an address-history page.
type AddressTxOptions struct {
	Limit  int
	Before string
	Until  string
}

// Adapter is the concrete Upstream Adapter.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      cache.Cache
	breakers   *circuitbreaker.UpstreamCircuitBreakers
	metrics    *metrics.Metrics

	healthTimeout  time.Duration
	txTimeout      time.Duration
	historyTimeout time.Duration
	retry          retryConfig
}

// Config configures a new Adapter.
type Config struct {
	BaseURL             string
	APIKey              string
	HealthTimeout       time.Duration
	TxTimeout           time.Duration
	HistoryTimeout      time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	BreakerThreshold    uint32
	BreakerOpenFor      time.Duration
	BreakerHalfOpenReqs uint32
}

// New constructs an Adapter wired to cache and a fresh breaker set.
func New(cfg Config, c cache.Cache) *Adapter {
	return NewWithMetrics(cfg, c, nil)
}

// NewWithMetrics is New with an explicit Metrics sink; a nil m disables
// instrumentation (every recording call below is guarded accordingly).
func NewWithMetrics(cfg Config, c cache.Cache, m *metrics.Metrics) *Adapter {
	return &Adapter{
		httpClient:     &http.Client{},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		cache:          c,
		breakers:       circuitbreaker.NewUpstreamCircuitBreakers(cfg.BreakerThreshold, cfg.BreakerOpenFor, cfg.BreakerHalfOpenReqs),
		metrics:        m,
		healthTimeout:  cfg.HealthTimeout,
		txTimeout:      cfg.TxTimeout,
		historyTimeout: cfg.HistoryTimeout,
		retry:          retryConfig{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
	}
}

// recordCall reports one upstream call outcome and refreshes the circuit
// breaker state gauges for the three call classes.
func (a *Adapter) recordCall(operation string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case IsUnavailable(err):
		result = "unavailable"
	case IsRateLimited(err):
		result = "rate_limited"
	case IsBadResponse(err):
		result = "bad_response"
	}
	a.metrics.RecordUpstreamCall(operation, result, time.Since(start).Seconds())

	for name, state := range map[string]circuitbreaker.State{
		"health":            a.breakers.HealthProbe.State(),
		"transaction-fetch": a.breakers.TransactionFetch.State(),
		"history-walk":      a.breakers.HistoryWalk.State(),
	} {
		a.metrics.SetBreakerState(name, int(state))
	}
}

// Healthy probes the upstream within the health-check timeout, guarded by
// its own circuit breaker so a flapping provider cannot also trip the
// transaction-fetch or history-walk breakers.
func (a *Adapter) Healthy(ctx context.Context) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.healthTimeout)
	defer cancel()

	_, err := a.breakers.HealthProbe.Execute(func() (any, error) {
		return a.doGet(ctx, "/v0/health", nil)
	})
	a.recordCall("health", start, err)
	return err == nil
}

// GetTransaction fetches and caches a single parsed transaction. Returns
// (nil, nil) for missing/unconfirmed signatures.
func (a *Adapter) GetTransaction(ctx context.Context, signature string) (tx *domain.ParsedTransaction, err error) {
	start := time.Now()
	defer func() { a.recordCall("get_transaction", start, err) }()
	cacheKey := "tx:" + signature

	var cached domain.ParsedTransaction
	if err := cache.GetJSON(ctx, a.cache, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if b, getErr := a.cache.Get(ctx, cacheKey); getErr == nil && cache.IsNegative(b) {
		return nil, nil
	}

	tx, err = withRetry(ctx, a.retry, func(ctx context.Context) (*domain.ParsedTransaction, error) {
		ctx, cancel := context.WithTimeout(ctx, a.txTimeout)
		defer cancel()

		result, err := a.breakers.TransactionFetch.Execute(func() (any, error) {
			return a.fetchTransaction(ctx, signature)
		})
		if err != nil {
			return nil, translateBreakerErr(err)
		}
		tx, _ := result.(*domain.ParsedTransaction)
		return tx, nil
	})
	if err != nil {
		return nil, err
	}

	if tx == nil {
		_ = cache.SetNegative(ctx, a.cache, cacheKey, txCacheTTL)
		return nil, nil
	}
	_ = cache.SetJSON(ctx, a.cache, cacheKey, tx, txCacheTTL)
	return tx, nil
}

func (a *Adapter) fetchTransaction(ctx context.Context, signature string) (*domain.ParsedTransaction, error) {
	body, err := a.doGet(ctx, "/v0/transactions/"+url.PathEscape(signature), nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var tx domain.ParsedTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, badResponse("decode transaction", err)
	}
	return &tx, nil
}

// GetAddressTransactions paginates the upstream's address history,
// returning at most opts.Limit transactions.
func (a *Adapter) GetAddressTransactions(ctx context.Context, address string, opts AddressTxOptions) (txs []domain.ParsedTransaction, err error) {
	start := time.Now()
	defer func() { a.recordCall("get_address_transactions", start, err) }()

	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	txs, err = withRetry(ctx, a.retry, func(ctx context.Context) ([]domain.ParsedTransaction, error) {
		ctx, cancel := context.WithTimeout(ctx, a.historyTimeout)
		defer cancel()

		q := url.Values{}
		q.Set("limit", fmt.Sprint(opts.Limit))
		if opts.Before != "" {
			q.Set("before", opts.Before)
		}
		if opts.Until != "" {
			q.Set("until", opts.Until)
		}

		result, err := a.breakers.HistoryWalk.Execute(func() (any, error) {
			body, err := a.doGet(ctx, "/v0/addresses/"+url.PathEscape(address)+"/transactions", q)
			if err != nil {
				return nil, err
			}
			var txs []domain.ParsedTransaction
			if err := json.Unmarshal(body, &txs); err != nil {
				return nil, badResponse("decode address transactions", err)
			}
			if len(txs) > opts.Limit {
				txs = txs[:opts.Limit]
			}
			return txs, nil
		})
		if err != nil {
			return nil, translateBreakerErr(err)
		}
		txs, _ := result.([]domain.ParsedTransaction)
		return txs, nil
	})
	return txs, err
}

// GetTokenTransfers fetches address's enhanced transaction history,
// flattens per-transaction token transfers matching tokenMint, and
// converts decimal amounts to exact integers at this boundary.
func (a *Adapter) GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]domain.Transfer, error) {
	cacheKey := fmt.Sprintf("transfers:%s:%s:%d", address, tokenMint, limit)
	var cached []domain.Transfer
	if err := cache.GetJSON(ctx, a.cache, cacheKey, &cached); err == nil {
		return cached, nil
	}

	txs, err := a.GetAddressTransactions(ctx, address, AddressTxOptions{Limit: limit})
	if err != nil {
		return nil, err
	}

	transfers := flattenTokenTransfers(txs, tokenMint)
	_ = cache.SetJSON(ctx, a.cache, cacheKey, transfers, tokenTransfersCacheTTL)
	return transfers, nil
}

func flattenTokenTransfers(txs []domain.ParsedTransaction, tokenMint string) []domain.Transfer {
	var out []domain.Transfer
	for _, tx := range txs {
		txType := classifier.ClassifyTxType(tx, tokenMint)
		var direction *domain.SwapDirection
		var swapInfo *domain.SwapInfo
		if txType == domain.TxTypeSwap {
			direction = classifier.SwapDirection(tx, tokenMint)
			swapInfo = classifier.ExtractSwapInfo(tx)
		}

		for i, tt := range tx.TokenTransfers {
			if tt.Mint != tokenMint {
				continue
			}
			out = append(out, domain.Transfer{
				Signature:        tx.Signature,
				FromAddress:      tt.FromAddress,
				ToAddress:        tt.ToAddress,
				TokenMint:        tt.Mint,
				Amount:           decimalToAmount(tt.TokenAmount, tt.Decimals),
				Decimals:         tt.Decimals,
				InstructionIndex: i,
				BlockTime:        tx.BlockTime,
				TxType:           txType,
				SwapDirection:    direction,
				SwapInfo:         swapInfo,
			})
		}
	}
	return out
}

// GetRecentTokenActivity resolves recent transfers of tokenMint in two
// passes: signature walk first, largest-holder fallback second.
func (a *Adapter) GetRecentTokenActivity(ctx context.Context, tokenMint string, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	cacheKey := fmt.Sprintf("activity:%s:%d", tokenMint, limit)
	var cached []domain.Transfer
	if err := cache.GetJSON(ctx, a.cache, cacheKey, &cached); err == nil {
		return cached, nil
	}

	transfers, err := a.primaryTokenActivityPass(ctx, tokenMint, limit)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		transfers, err = a.fallbackTokenActivityPass(ctx, tokenMint, limit)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(transfers, func(i, j int) bool { return transfers[i].BlockTime > transfers[j].BlockTime })
	if len(transfers) > limit {
		transfers = transfers[:limit]
	}

	_ = cache.SetJSON(ctx, a.cache, cacheKey, transfers, recentActivityCacheTTL)
	return transfers, nil
}

const signaturePageSize = 1000
const transactionBatchSize = 10

// primaryTokenActivityPass fetches signatures for tokenMint with paginated
// RPC, batch-resolves transactions, classifies each once, and emits one
// Transfer per matching tokenTransfer.
func (a *Adapter) primaryTokenActivityPass(ctx context.Context, tokenMint string, limit int) ([]domain.Transfer, error) {
	signatures, err := a.fetchTokenSignatures(ctx, tokenMint, signaturePageSize)
	if err != nil {
		return nil, err
	}

	var out []domain.Transfer
	for i := 0; i < len(signatures) && len(out) < limit; i += transactionBatchSize {
		end := i + transactionBatchSize
		if end > len(signatures) {
			end = len(signatures)
		}
		txs, err := a.resolveTransactionBatch(ctx, signatures[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, flattenTokenTransfers(txs, tokenMint)...)
	}
	return out, nil
}

// fallbackTokenActivityPass queries the top three largest token accounts,
// resolves each to its owner, and repeats the enhanced-history walk per
// owner, de-duplicating by (signature, fromAddress).
func (a *Adapter) fallbackTokenActivityPass(ctx context.Context, tokenMint string, limit int) ([]domain.Transfer, error) {
	owners, err := a.fetchLargestTokenAccountOwners(ctx, tokenMint, 3)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []domain.Transfer
	for _, owner := range owners {
		transfers, err := a.GetTokenTransfers(ctx, owner, tokenMint, limit)
		if err != nil {
			return nil, err
		}
		for _, t := range transfers {
			key := t.Signature + ":" + t.FromAddress
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *Adapter) fetchTokenSignatures(ctx context.Context, tokenMint string, pageSize int) (sigs []string, err error) {
	start := time.Now()
	defer func() { a.recordCall("fetch_token_signatures", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.historyTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageSize))

	result, err := a.breakers.HistoryWalk.Execute(func() (any, error) {
		body, err := a.doGet(ctx, "/v0/tokens/"+url.PathEscape(tokenMint)+"/signatures", q)
		if err != nil {
			return nil, err
		}
		var sigs []string
		if err := json.Unmarshal(body, &sigs); err != nil {
			return nil, badResponse("decode token signatures", err)
		}
		return sigs, nil
	})
	if err != nil {
		err = translateBreakerErr(err)
		return nil, err
	}
	sigs, _ = result.([]string)
	return sigs, nil
}

func (a *Adapter) resolveTransactionBatch(ctx context.Context, signatures []string) (txs []domain.ParsedTransaction, err error) {
	start := time.Now()
	defer func() { a.recordCall("resolve_transaction_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.txTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"transactions": signatures})
	if err != nil {
		err = badResponse("encode batch request", err)
		return nil, err
	}

	result, err := a.breakers.TransactionFetch.Execute(func() (any, error) {
		body, err := a.doPost(ctx, "/v0/transactions", payload)
		if err != nil {
			return nil, err
		}
		var txs []domain.ParsedTransaction
		if err := json.Unmarshal(body, &txs); err != nil {
			return nil, badResponse("decode transaction batch", err)
		}
		return txs, nil
	})
	if err != nil {
		err = translateBreakerErr(err)
		return nil, err
	}
	txs, _ = result.([]domain.ParsedTransaction)
	return txs, nil
}

func (a *Adapter) fetchLargestTokenAccountOwners(ctx context.Context, tokenMint string, n int) (owners []string, err error) {
	start := time.Now()
	defer func() { a.recordCall("fetch_largest_token_account_owners", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.historyTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("limit", fmt.Sprint(n))

	result, err := a.breakers.HistoryWalk.Execute(func() (any, error) {
		body, err := a.doGet(ctx, "/v0/tokens/"+url.PathEscape(tokenMint)+"/largest-accounts", q)
		if err != nil {
			return nil, err
		}
		var owners []string
		if err := json.Unmarshal(body, &owners); err != nil {
			return nil, badResponse("decode largest accounts", err)
		}
		return owners, nil
	})
	if err != nil {
		err = translateBreakerErr(err)
		return nil, err
	}
	owners, _ = result.([]string)
	return owners, nil
}

func translateBreakerErr(err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
		return unavailable("circuit open", err)
	}
	return err
}

func (a *Adapter) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, badResponse("build request", err)
	}
	return a.do(req)
}

func (a *Adapter) doPost(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, badResponse("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *Adapter) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, badResponse("read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimited(fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return nil, unavailable(fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, badResponse(fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	return body, nil
}
