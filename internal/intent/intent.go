// Package intent implements the Intent Inference Client: a thin, cached
// contract in front of an external transaction-intent classifier. The
// classifier itself lives elsewhere; this package pins the gRPC contract
// and keeps a real *grpc.ClientConn* dialed for the day the Python service
// is deployed: real connection, inline logic until the proto is compiled
// and the remote is reachable.
package intent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/pb"
)

// Result is the outcome of a PredictIntent call.
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Unknown is returned whenever the classifier cannot be reached or fails,
// and is not cached in that case. When the inline heuristics classify a
// transaction as unknown, that result is cached like any other.
var Unknown = Result{Intent: "unknown", Confidence: 0}

// EntityLookup is the subset of the Entity Registry the classifier needs
// to recognize bridge/lending/DEX program ids.
type EntityLookup interface {
	Lookup(address string) (domain.Entity, bool)
}

// Client is the Intent Inference Client.
type Client struct {
	conn        *grpc.ClientConn
	remote      pb.IntentServiceClient
	entities    EntityLookup
	cache       cache.Cache
	cacheTTL    time.Duration
	callTimeout time.Duration
}

// New dials addr (lazily; grpc.NewClient does not block) and returns a
// Client ready to serve PredictIntent.
func New(addr string, entities EntityLookup, c cache.Cache, cacheTTL, callTimeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("intent: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, entities: entities, cache: c, cacheTTL: cacheTTL, callTimeout: callTimeout}, nil
}

// WithRemote routes predictions through an IntentServiceClient instead of
// the inline heuristics, once a classifier is actually listening.
func (c *Client) WithRemote(remote pb.IntentServiceClient) *Client {
	c.remote = remote
	return c
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func cacheKey(signature string) string {
	return "intent:" + signature
}

// PredictIntent classifies tx, consulting the cache first (keyed by
// signature), then the classifier. Any failure degrades to Unknown
// without caching the negative result.
func (c *Client) PredictIntent(ctx context.Context, tx domain.ParsedTransaction) (Result, error) {
	if tx.Signature == "" {
		return Unknown, nil
	}

	var cached Result
	if err := cache.GetJSON(ctx, c.cache, cacheKey(tx.Signature), &cached); err == nil {
		return cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := c.predict(callCtx, tx)
	if err != nil {
		return Unknown, nil
	}

	_ = cache.SetJSON(ctx, c.cache, cacheKey(tx.Signature), result, c.cacheTTL)
	return result, nil
}

// PredictBatch fans PredictIntent out over txs, preserving input order.
func (c *Client) PredictBatch(ctx context.Context, txs []domain.ParsedTransaction) []Result {
	results := make([]Result, len(txs))
	var wg sync.WaitGroup
	for i, tx := range txs {
		wg.Add(1)
		go func(i int, tx domain.ParsedTransaction) {
			defer wg.Done()
			r, err := c.PredictIntent(ctx, tx)
			if err != nil {
				r = Unknown
			}
			results[i] = r
		}(i, tx)
	}
	wg.Wait()
	return results
}

// predict classifies tx through the IntentServiceClient attached with
// WithRemote, or with the inline heuristics below when none is attached.
// c.conn itself is not used for predictions.
func (c *Client) predict(ctx context.Context, tx domain.ParsedTransaction) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if c.remote != nil {
		resp, err := c.remote.Predict(ctx, predictRequest(tx))
		if err != nil {
			return Result{}, err
		}
		return Result{Intent: resp.Intent, Confidence: resp.Confidence}, nil
	}

	if kind := c.dominantEntityKind(tx); kind != "" {
		switch kind {
		case domain.EntityBridge:
			return Result{Intent: "bridging", Confidence: 0.75}, nil
		case domain.EntityLending:
			return Result{Intent: "yield_farming", Confidence: 0.7}, nil
		}
	}

	if tx.Events.Swap != nil || strings.Contains(strings.ToUpper(tx.UpstreamType), "SWAP") {
		if distinctDEXCount(tx, c.entities) >= 2 {
			return Result{Intent: "arbitrage", Confidence: 0.65}, nil
		}
		return Result{Intent: "trading", Confidence: 0.8}, nil
	}

	if len(tx.TokenTransfers) > 0 || len(tx.NativeTransfers) > 0 {
		return Result{Intent: "transfer", Confidence: 0.6}, nil
	}

	return Unknown, nil
}

// predictRequest flattens tx into the wire shape the classifier scores:
// signature, program ids, account addresses, and fee.
func predictRequest(tx domain.ParsedTransaction) *pb.PredictRequest {
	programs := make([]string, 0, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		programs = append(programs, ix.ProgramID)
	}
	accounts := make([]string, 0, len(tx.Accounts))
	for _, a := range tx.Accounts {
		accounts = append(accounts, a.Address)
	}
	return &pb.PredictRequest{
		Signature:    tx.Signature,
		Instructions: programs,
		Accounts:     accounts,
		Fee:          tx.Fee,
	}
}

func (c *Client) dominantEntityKind(tx domain.ParsedTransaction) domain.EntityKind {
	if c.entities == nil {
		return ""
	}
	for _, ix := range tx.Instructions {
		if e, ok := c.entities.Lookup(ix.ProgramID); ok {
			switch e.EntityKind {
			case domain.EntityBridge, domain.EntityLending:
				return e.EntityKind
			}
		}
	}
	return ""
}

func distinctDEXCount(tx domain.ParsedTransaction, entities EntityLookup) int {
	if entities == nil {
		return 0
	}
	seen := make(map[string]bool)
	for _, ix := range tx.Instructions {
		if e, ok := entities.Lookup(ix.ProgramID); ok && e.EntityKind == domain.EntityDEX {
			seen[ix.ProgramID] = true
		}
	}
	return len(seen)
}

