// Package flowgraph implements the Flow Graph Engine: bounded depth-first
// reconstruction of token-flow paths from aggregated transfers, confidence
// scoring, and cycle detection.
package flowgraph

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/metrics"
)

const (
	hardMaxDepth       = 10
	maxVisitedPerQuery = 10000
	maxPathsPerQuery   = 1000
	perNodeFetchLimit  = 500
)

// TransferSource is the subset of the Upstream Adapter the engine needs.
type TransferSource interface {
	GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]domain.Transfer, error)
}

// EntityLookup is the subset of the Entity Registry the engine needs.
type EntityLookup interface {
	Lookup(address string) (domain.Entity, bool)
}

// PathStore persists reconstructed paths (Persistence Adapter surface).
type PathStore interface {
	UpsertFlowPath(ctx context.Context, p domain.FlowPath) error
}

// TimeRange bounds transfers considered during traversal. A zero Since/Until
// is unbounded on that side.
type TimeRange struct {
	Since time.Time
	Until time.Time
}

func (tr TimeRange) includes(blockTime int64) bool {
	t := time.Unix(blockTime, 0)
	if !tr.Since.IsZero() && t.Before(tr.Since) {
		return false
	}
	if !tr.Until.IsZero() && t.After(tr.Until) {
		return false
	}
	return true
}

// ClampMaxDepth bounds a requested traversal depth to [1, 10].
func ClampMaxDepth(d int) int {
	if d < 1 {
		return 1
	}
	if d > hardMaxDepth {
		return hardMaxDepth
	}
	return d
}

// Engine is the Flow Graph Engine.
type Engine struct {
	upstream TransferSource
	entities EntityLookup
	store    PathStore
	metrics  *metrics.Metrics
}

func New(upstream TransferSource, entities EntityLookup, store PathStore) *Engine {
	return &Engine{upstream: upstream, entities: entities, store: store}
}

// NewWithMetrics is New with an explicit Metrics sink; a nil m disables
// instrumentation.
func NewWithMetrics(upstream TransferSource, entities EntityLookup, store PathStore, m *metrics.Metrics) *Engine {
	return &Engine{upstream: upstream, entities: entities, store: store, metrics: m}
}

type direction int

const (
	forward direction = iota
	backward
)

// BuildForwardPath reconstructs paths of tokenMint transfers leading away
// from start, up to maxDepth hops, persisting each resulting FlowPath.
func (e *Engine) BuildForwardPath(ctx context.Context, start, tokenMint string, maxDepth int, tr TimeRange) ([]domain.FlowPath, error) {
	return e.build(ctx, start, tokenMint, ClampMaxDepth(maxDepth), tr, forward)
}

// BuildBackwardPath reconstructs paths of tokenMint transfers leading into
// end, symmetric to BuildForwardPath with edges traversed in reverse and
// the resulting path direction flipped back to chronological order.
func (e *Engine) BuildBackwardPath(ctx context.Context, end, tokenMint string, maxDepth int, tr TimeRange) ([]domain.FlowPath, error) {
	return e.build(ctx, end, tokenMint, ClampMaxDepth(maxDepth), tr, backward)
}

type traversal struct {
	tokenMint string
	maxDepth  int
	tr        TimeRange
	dir       direction
	visited   map[string]struct{}
	pathCount int
	results   []domain.FlowPath
}

func (e *Engine) build(ctx context.Context, origin, tokenMint string, maxDepth int, tr TimeRange, dir direction) ([]domain.FlowPath, error) {
	st := &traversal{tokenMint: tokenMint, maxDepth: maxDepth, tr: tr, dir: dir, visited: make(map[string]struct{})}

	entity, _ := e.entities.Lookup(origin)
	startNode := domain.PathNode{Address: origin, EntityKind: string(entity.EntityKind), EntityName: entity.Name}

	if err := e.expand(ctx, st, origin, 0, []domain.PathNode{startNode}); err != nil {
		return nil, err
	}

	dirLabel := "forward"
	if dir == backward {
		dirLabel = "backward"
	}
	for i := range st.results {
		if dir == backward {
			st.results[i] = reversePath(st.results[i], origin)
		}
		if e.store != nil {
			if err := e.store.UpsertFlowPath(ctx, st.results[i]); err != nil {
				return nil, fmt.Errorf("flowgraph: persist path %s: %w", st.results[i].PathID, err)
			}
		}
		if e.metrics != nil {
			e.metrics.RecordFlowPath(dirLabel, st.results[i].HopCount)
		}
	}
	return st.results, nil
}

// expand performs the depth-first walk. visited is recursion-local: the
// current address is added on entry and removed on every exit path.
func (e *Engine) expand(ctx context.Context, st *traversal, address string, depth int, path []domain.PathNode) error {
	if _, already := st.visited[address]; already {
		return e.emit(st, path)
	}
	st.visited[address] = struct{}{}
	defer delete(st.visited, address)

	if depth >= st.maxDepth || len(st.visited) > maxVisitedPerQuery || st.pathCount >= maxPathsPerQuery {
		return e.emit(st, path)
	}

	transfers, err := e.upstream.GetTokenTransfers(ctx, address, st.tokenMint, perNodeFetchLimit)
	if err != nil {
		return fmt.Errorf("flowgraph: fetch transfers for %s: %w", address, err)
	}

	hops := aggregateHops(transfers, address, st.dir, st.tr)
	if len(hops) == 0 {
		return e.emit(st, path)
	}

	for _, hop := range hops {
		if st.pathCount >= maxPathsPerQuery {
			break
		}
		nextPath := appendHop(path, hop, e.entities)
		if err := e.expand(ctx, st, hop.Address, depth+1, nextPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emit(st *traversal, path []domain.PathNode) error {
	if len(path) == 0 || st.pathCount >= maxPathsPerQuery {
		return nil
	}
	fp := buildFlowPath(path, st.tokenMint)
	st.results = append(st.results, fp)
	st.pathCount++
	return nil
}

// aggregatedHop is one destination reached from address, with amounts
// summed across every transfer to that destination.
type aggregatedHop struct {
	Address           string
	Amount            *uint256.Int
	EarliestBlockTime int64
}

func aggregateHops(transfers []domain.Transfer, address string, dir direction, tr TimeRange) []aggregatedHop {
	sums := make(map[string]*uint256.Int)
	earliest := make(map[string]int64)

	for _, t := range transfers {
		if !tr.includes(t.BlockTime) {
			continue
		}
		var counterparty string
		switch dir {
		case forward:
			if t.FromAddress != address {
				continue
			}
			counterparty = t.ToAddress
		case backward:
			if t.ToAddress != address {
				continue
			}
			counterparty = t.FromAddress
		}
		if counterparty == "" || t.Amount == nil {
			continue
		}
		if sums[counterparty] == nil {
			sums[counterparty] = new(uint256.Int)
			earliest[counterparty] = t.BlockTime
		}
		sums[counterparty].Add(sums[counterparty], t.Amount)
		if t.BlockTime < earliest[counterparty] {
			earliest[counterparty] = t.BlockTime
		}
	}

	hops := make([]aggregatedHop, 0, len(sums))
	for addr, amt := range sums {
		hops = append(hops, aggregatedHop{Address: addr, Amount: amt, EarliestBlockTime: earliest[addr]})
	}
	return hops
}

func appendHop(path []domain.PathNode, hop aggregatedHop, entities EntityLookup) []domain.PathNode {
	next := make([]domain.PathNode, len(path)+1)
	copy(next, path)

	amountStr := hop.Amount.Dec()
	next[len(path)-1].AmountOut = amountStr

	entity, _ := entities.Lookup(hop.Address)
	ts := hop.EarliestBlockTime
	next[len(path)] = domain.PathNode{
		Address:    hop.Address,
		EntityKind: string(entity.EntityKind),
		EntityName: entity.Name,
		AmountIn:   amountStr,
		Timestamp:  &ts,
	}
	return next
}

func buildFlowPath(path []domain.PathNode, tokenMint string) domain.FlowPath {
	total := new(uint256.Int)
	for _, node := range path {
		if node.AmountOut != "" {
			amt, err := uint256.FromDecimal(node.AmountOut)
			if err == nil {
				total.Add(total, amt)
			}
		}
	}

	return domain.FlowPath{
		PathID:          uuid.NewString(),
		StartAddress:    path[0].Address,
		EndAddress:      path[len(path)-1].Address,
		TokenMint:       tokenMint,
		Hops:            path,
		TotalAmount:     total.Dec(),
		HopCount:        len(path),
		ConfidenceScore: confidence(path),
	}
}

// confidence applies the multiplicative scoring rule over consecutive hops.
func confidence(path []domain.PathNode) float64 {
	score := 1.0
	for i := 1; i < len(path)-1; i++ {
		node := path[i]
		if node.AmountIn == "" || node.AmountOut == "" {
			continue
		}
		in, errIn := uint256.FromDecimal(node.AmountIn)
		out, errOut := uint256.FromDecimal(node.AmountOut)
		if errIn != nil || errOut != nil || in.IsZero() {
			continue
		}
		ratio := ratioFloat(out, in)
		score *= ratioMultiplier(ratio)

		if node.EntityKind == string(domain.EntityDEX) || node.EntityKind == string(domain.EntityPool) {
			score *= 0.98
		}
	}

	for i := 1; i < len(path); i++ {
		if path[i-1].Timestamp == nil || path[i].Timestamp == nil {
			continue
		}
		gap := *path[i].Timestamp - *path[i-1].Timestamp
		if gap < 0 {
			gap = -gap
		}
		if gap > int64(24*time.Hour/time.Second) {
			score *= 0.9
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func ratioFloat(out, in *uint256.Int) float64 {
	o := new(big.Float).SetPrec(128).SetInt(out.ToBig())
	n := new(big.Float).SetPrec(128).SetInt(in.ToBig())
	r := new(big.Float).Quo(o, n)
	f, _ := r.Float64()
	return f
}

func ratioMultiplier(r float64) float64 {
	switch {
	case r >= 0.95 && r <= 1.05:
		return 1.0
	case r >= 0.90 && r <= 1.10:
		return 0.95
	case r >= 0.80 && r <= 1.20:
		return 0.85
	default:
		return 0.70
	}
}

// reversePath flips a backward-built path into chronological (start→end)
// order and swaps each node's in/out amounts to match the new direction.
func reversePath(fp domain.FlowPath, originalEnd string) domain.FlowPath {
	n := len(fp.Hops)
	reversed := make([]domain.PathNode, n)
	for i, node := range fp.Hops {
		node.AmountIn, node.AmountOut = node.AmountOut, node.AmountIn
		reversed[n-1-i] = node
	}
	fp.Hops = reversed
	fp.StartAddress = reversed[0].Address
	fp.EndAddress = originalEnd
	return fp
}
