// Package risk implements the Risk Scoring Engine: proximity BFS against
// sanctioned/mixer sets, peel-chain and velocity heuristics, and circular-
// flow reuse from the Flow Graph Engine, combined into a single composite
// score.
package risk

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/metrics"
)

const (
	proximityMaxDepth   = 2
	proximityFanout     = 10
	proximityFetchLimit = 200
	velocityFetchLimit  = 500
	peelFetchLimit      = 200
	velocityThreshold   = 100
	peelMinRatio        = 0.85
	peelMaxRatio        = 0.95
	peelMinChain        = 3

	assessmentCachePrefix = "risk:assessment:"
)

// TransferSource is the subset of the Upstream Adapter the engine needs.
type TransferSource interface {
	GetTokenTransfers(ctx context.Context, address, tokenMint string, limit int) ([]domain.Transfer, error)
}

// EntityChecker is the subset of the Entity Registry the engine needs.
type EntityChecker interface {
	IsSanctioned(address string) bool
	IsMixer(address string) bool
	UpdateRisk(ctx context.Context, address string, level domain.RiskLevel, score int) error
}

// CycleDetector is the subset of the Flow Graph Engine the engine needs.
type CycleDetector interface {
	DetectCircularFlows(ctx context.Context, address, tokenMint string) ([]domain.CircularFlow, error)
}

// FlagStore persists the per-check findings (Persistence Adapter surface).
type FlagStore interface {
	InsertRiskFlags(ctx context.Context, address string, flags []domain.RiskFlag) error
}

// Engine is the Risk Scoring Engine.
type Engine struct {
	upstream  TransferSource
	entities  EntityChecker
	flowgraph CycleDetector
	store     FlagStore
	cache     cache.Cache
	cacheTTL  time.Duration
	metrics   *metrics.Metrics
}

func New(upstream TransferSource, entities EntityChecker, flowgraph CycleDetector, store FlagStore, c cache.Cache, cacheTTL time.Duration) *Engine {
	return &Engine{upstream: upstream, entities: entities, flowgraph: flowgraph, store: store, cache: c, cacheTTL: cacheTTL}
}

// NewWithMetrics is New with an explicit Metrics sink; a nil m disables
// instrumentation.
func NewWithMetrics(upstream TransferSource, entities EntityChecker, flowgraph CycleDetector, store FlagStore, c cache.Cache, cacheTTL time.Duration, m *metrics.Metrics) *Engine {
	return &Engine{upstream: upstream, entities: entities, flowgraph: flowgraph, store: store, cache: c, cacheTTL: cacheTTL, metrics: m}
}

// AssessRisk computes the composite risk score for address relative to
// tokenMint, persists the outcome, and caches it for the configured TTL.
func (e *Engine) AssessRisk(ctx context.Context, address, tokenMint string) (domain.RiskAssessment, error) {
	key := assessmentCachePrefix + tokenMint + ":" + address
	var cached domain.RiskAssessment
	if err := cache.GetJSON(ctx, e.cache, key, &cached); err == nil {
		return cached, nil
	}

	assessment, flags, err := e.compute(ctx, address, tokenMint)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	if err := e.entities.UpdateRisk(ctx, address, assessment.RiskLevel, assessment.RiskScore); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("risk: persist entity risk for %s: %w", address, err)
	}
	if err := e.store.InsertRiskFlags(ctx, address, flags); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("risk: persist flags for %s: %w", address, err)
	}

	_ = cache.SetJSON(ctx, e.cache, key, assessment, e.cacheTTL)
	if e.metrics != nil {
		e.metrics.RecordRiskAssessment(string(assessment.RiskLevel), assessment.RiskScore)
	}
	return assessment, nil
}

func (e *Engine) compute(ctx context.Context, address, tokenMint string) (domain.RiskAssessment, []domain.RiskFlag, error) {
	now := time.Now()

	if e.entities.IsSanctioned(address) {
		flags := []domain.RiskFlag{{Type: domain.FlagSanctionedDirect, Severity: domain.SeverityCritical}}
		return domain.RiskAssessment{
			Address: address, RiskScore: 100, RiskLevel: domain.RiskCritical,
			Flags: flags, LastAssessed: now,
		}, flags, nil
	}

	var score int
	var flags []domain.RiskFlag

	sanctionedNear, err := e.bfsProximity(ctx, address, tokenMint, e.entities.IsSanctioned)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("risk: sanctioned proximity for %s: %w", address, err)
	}
	if sanctionedNear {
		score += 50
		flags = append(flags, domain.RiskFlag{Type: domain.FlagSanctionedNear, Severity: domain.SeverityCritical})
	}

	mixerNear, err := e.bfsProximity(ctx, address, tokenMint, e.entities.IsMixer)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("risk: mixer proximity for %s: %w", address, err)
	}
	if mixerNear {
		score += 40
		flags = append(flags, domain.RiskFlag{Type: domain.FlagMixerNear, Severity: domain.SeverityCritical})
	}

	chainLen, err := e.peelChainLength(ctx, address, tokenMint)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("risk: peel chain for %s: %w", address, err)
	}
	if chainLen >= peelMinChain {
		score += 35
		flags = append(flags, domain.RiskFlag{
			Type: domain.FlagPeelChain, Severity: domain.SeverityCritical,
			Detail: map[string]any{"chainLength": chainLen},
		})
	}

	cycles, err := e.flowgraph.DetectCircularFlows(ctx, address, tokenMint)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("risk: circular flow for %s: %w", address, err)
	}
	if len(cycles) > 0 {
		score += 25
		flags = append(flags, domain.RiskFlag{
			Type: domain.FlagCircularFlow, Severity: domain.SeverityWarning,
			Detail: map[string]any{"addresses": cycles[0].Addresses},
		})
	}

	velocity, err := e.outboundVelocityPerHour(ctx, address, tokenMint)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("risk: velocity for %s: %w", address, err)
	}
	if velocity > velocityThreshold {
		score += 20
		flags = append(flags, domain.RiskFlag{
			Type: domain.FlagVelocity, Severity: domain.SeverityWarning,
			Detail: map[string]any{"transfersPerHour": velocity},
		})
	}

	score = clamp(score, 0, 100)
	return domain.RiskAssessment{
		Address: address, RiskScore: score, RiskLevel: domain.DeriveRiskLevel(score),
		Flags: flags, LastAssessed: now,
	}, flags, nil
}

// bfsProximity runs a forward BFS from address up to proximityMaxDepth hops,
// fanning out to at most proximityFanout destinations per node, and reports
// whether any visited node satisfies match.
func (e *Engine) bfsProximity(ctx context.Context, address, tokenMint string, match func(string) bool) (bool, error) {
	type queued struct {
		address string
		depth   int
	}
	visited := map[string]bool{address: true}
	queue := []queued{{address, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= proximityMaxDepth {
			continue
		}

		transfers, err := e.upstream.GetTokenTransfers(ctx, cur.address, tokenMint, proximityFetchLimit)
		if err != nil {
			return false, err
		}
		for _, dest := range outboundFanout(transfers, cur.address, proximityFanout) {
			if match(dest) {
				return true, nil
			}
			if !visited[dest] {
				visited[dest] = true
				queue = append(queue, queued{dest, cur.depth + 1})
			}
		}
	}
	return false, nil
}

// outboundFanout returns up to limit distinct destinations address sent
// tokenMint to, in upstream-returned order so traversal stays
// deterministic.
func outboundFanout(transfers []domain.Transfer, address string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range transfers {
		if t.FromAddress != address || t.ToAddress == "" || seen[t.ToAddress] {
			continue
		}
		seen[t.ToAddress] = true
		out = append(out, t.ToAddress)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// peelChainLength returns the length of the longest run of consecutive
// outbound transfers from address whose amount ratio falls in
// [peelMinRatio, peelMaxRatio].
func (e *Engine) peelChainLength(ctx context.Context, address, tokenMint string) (int, error) {
	transfers, err := e.upstream.GetTokenTransfers(ctx, address, tokenMint, peelFetchLimit)
	if err != nil {
		return 0, err
	}

	outbound := make([]domain.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.FromAddress == address && t.Amount != nil {
			outbound = append(outbound, t)
		}
	}
	sort.Slice(outbound, func(i, j int) bool { return outbound[i].BlockTime < outbound[j].BlockTime })

	if len(outbound) < 2 {
		return 0, nil
	}

	// chainLength counts consecutive qualifying ratios (edges): four
	// amounts with three qualifying ratios in a row report chainLength=3.
	var best, run int
	for i := 1; i < len(outbound); i++ {
		ratio := amountRatio(outbound[i].Amount, outbound[i-1].Amount)
		if ratio >= peelMinRatio && ratio <= peelMaxRatio {
			run++
		} else {
			run = 0
		}
		if run > best {
			best = run
		}
	}
	return best, nil
}

// outboundVelocityPerHour counts address's outbound transfers of tokenMint
// in the most recent hour of returned history.
func (e *Engine) outboundVelocityPerHour(ctx context.Context, address, tokenMint string) (int, error) {
	transfers, err := e.upstream.GetTokenTransfers(ctx, address, tokenMint, velocityFetchLimit)
	if err != nil {
		return 0, err
	}

	var latest int64
	for _, t := range transfers {
		if t.FromAddress == address && t.BlockTime > latest {
			latest = t.BlockTime
		}
	}
	if latest == 0 {
		return 0, nil
	}
	windowStart := latest - int64(time.Hour/time.Second)

	count := 0
	for _, t := range transfers {
		if t.FromAddress == address && t.BlockTime >= windowStart && t.BlockTime <= latest {
			count++
		}
	}
	return count, nil
}

func amountRatio(out, in *uint256.Int) float64 {
	if in == nil || in.IsZero() || out == nil {
		return 0
	}
	o := new(big.Float).SetPrec(128).SetInt(out.ToBig())
	n := new(big.Float).SetPrec(128).SetInt(in.ToBig())
	r := new(big.Float).Quo(o, n)
	f, _ := r.Float64()
	return f
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
