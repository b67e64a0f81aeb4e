package risk

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
)

type fakeTransferSource struct {
	byAddress map[string][]domain.Transfer
}

func (f *fakeTransferSource) GetTokenTransfers(_ context.Context, address, _ string, _ int) ([]domain.Transfer, error) {
	return f.byAddress[address], nil
}

type fakeEntityChecker struct {
	sanctioned map[string]bool
	mixers     map[string]bool
	updated    map[string]int
}

func newFakeEntityChecker() *fakeEntityChecker {
	return &fakeEntityChecker{sanctioned: map[string]bool{}, mixers: map[string]bool{}, updated: map[string]int{}}
}

func (f *fakeEntityChecker) IsSanctioned(address string) bool { return f.sanctioned[address] }
func (f *fakeEntityChecker) IsMixer(address string) bool      { return f.mixers[address] }
func (f *fakeEntityChecker) UpdateRisk(_ context.Context, address string, _ domain.RiskLevel, score int) error {
	f.updated[address] = score
	return nil
}

type fakeCycleDetector struct {
	cycles []domain.CircularFlow
}

func (f *fakeCycleDetector) DetectCircularFlows(_ context.Context, _, _ string) ([]domain.CircularFlow, error) {
	return f.cycles, nil
}

type fakeFlagStore struct {
	flags map[string][]domain.RiskFlag
}

func (f *fakeFlagStore) InsertRiskFlags(_ context.Context, address string, flags []domain.RiskFlag) error {
	if f.flags == nil {
		f.flags = map[string][]domain.RiskFlag{}
	}
	f.flags[address] = append(f.flags[address], flags...)
	return nil
}

func newTestEngine(src *fakeTransferSource, ec *fakeEntityChecker, cd *fakeCycleDetector) (*Engine, *fakeFlagStore) {
	store := &fakeFlagStore{}
	return New(src, ec, cd, store, cache.NewNoOp(), 10*time.Minute), store
}

func outbound(from, to string, amount uint64, blockTime int64) domain.Transfer {
	return domain.Transfer{
		Signature: from + ":" + to, FromAddress: from, ToAddress: to,
		TokenMint: "MINT", Amount: uint256.NewInt(amount), BlockTime: blockTime,
	}
}

func TestAssessRiskSanctionedDirect(t *testing.T) {
	ec := newFakeEntityChecker()
	ec.sanctioned["bad"] = true
	engine, store := newTestEngine(&fakeTransferSource{}, ec, &fakeCycleDetector{})

	assessment, err := engine.AssessRisk(context.Background(), "bad", "MINT")
	require.NoError(t, err)

	assert.Equal(t, 100, assessment.RiskScore)
	assert.Equal(t, domain.RiskCritical, assessment.RiskLevel)
	require.Len(t, assessment.Flags, 1)
	assert.Equal(t, domain.FlagSanctionedDirect, assessment.Flags[0].Type)
	assert.Equal(t, domain.SeverityCritical, assessment.Flags[0].Severity)
	assert.Equal(t, 100, ec.updated["bad"])
	assert.Len(t, store.flags["bad"], 1)
}

func TestAssessRiskSanctionedWithinTwoHops(t *testing.T) {
	ec := newFakeEntityChecker()
	ec.sanctioned["sanctioned"] = true
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"A": {outbound("A", "B", 100, 100)},
		"B": {outbound("B", "sanctioned", 100, 200)},
	}}
	engine, _ := newTestEngine(src, ec, &fakeCycleDetector{})

	assessment, err := engine.AssessRisk(context.Background(), "A", "MINT")
	require.NoError(t, err)

	assert.Equal(t, 50, assessment.RiskScore)
	assert.Equal(t, domain.RiskHigh, assessment.RiskLevel)
	require.Len(t, assessment.Flags, 1)
	assert.Equal(t, domain.FlagSanctionedNear, assessment.Flags[0].Type)
}

func TestAssessRiskMixerProximityBeyondDepthIgnored(t *testing.T) {
	ec := newFakeEntityChecker()
	ec.mixers["mixer"] = true
	// mixer is three hops out, past the depth<=2 bound.
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"A": {outbound("A", "B", 100, 100)},
		"B": {outbound("B", "C", 100, 200)},
		"C": {outbound("C", "mixer", 100, 300)},
	}}
	engine, _ := newTestEngine(src, ec, &fakeCycleDetector{})

	assessment, err := engine.AssessRisk(context.Background(), "A", "MINT")
	require.NoError(t, err)

	assert.Equal(t, 0, assessment.RiskScore)
	assert.Empty(t, assessment.Flags)
}

func TestAssessRiskPeelChain(t *testing.T) {
	// Amounts 1000 -> 920 -> 850 -> 780: three consecutive ratios inside
	// [0.85, 0.95], so chainLength=3 and the +35 weight applies.
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"X": {
			outbound("X", "h1", 1000, 100),
			outbound("X", "h2", 920, 200),
			outbound("X", "h3", 850, 300),
			outbound("X", "h4", 780, 400),
		},
	}}
	engine, _ := newTestEngine(src, newFakeEntityChecker(), &fakeCycleDetector{})

	assessment, err := engine.AssessRisk(context.Background(), "X", "MINT")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, assessment.RiskScore, 35)
	var peel *domain.RiskFlag
	for i := range assessment.Flags {
		if assessment.Flags[i].Type == domain.FlagPeelChain {
			peel = &assessment.Flags[i]
		}
	}
	require.NotNil(t, peel)
	assert.Equal(t, 3, peel.Detail["chainLength"])
	assert.Equal(t, domain.SeverityCritical, peel.Severity)
}

func TestAssessRiskCircularFlow(t *testing.T) {
	cd := &fakeCycleDetector{cycles: []domain.CircularFlow{
		{Addresses: []string{"A", "B", "C", "A"}, TotalAmount: "1500", CycleCount: 3},
	}}
	engine, _ := newTestEngine(&fakeTransferSource{}, newFakeEntityChecker(), cd)

	assessment, err := engine.AssessRisk(context.Background(), "A", "MINT")
	require.NoError(t, err)

	assert.Equal(t, 25, assessment.RiskScore)
	require.Len(t, assessment.Flags, 1)
	assert.Equal(t, domain.FlagCircularFlow, assessment.Flags[0].Type)
	assert.Equal(t, domain.SeverityWarning, assessment.Flags[0].Severity)
	assert.Equal(t, []string{"A", "B", "C", "A"}, assessment.Flags[0].Detail["addresses"])
}

func TestAssessRiskVelocity(t *testing.T) {
	transfers := make([]domain.Transfer, 0, 150)
	base := int64(1_700_000_000)
	for i := 0; i < 150; i++ {
		transfers = append(transfers, outbound("V", "dest", 10, base+int64(i*10)))
	}
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{"V": transfers}}
	engine, _ := newTestEngine(src, newFakeEntityChecker(), &fakeCycleDetector{})

	assessment, err := engine.AssessRisk(context.Background(), "V", "MINT")
	require.NoError(t, err)

	var velocity *domain.RiskFlag
	for i := range assessment.Flags {
		if assessment.Flags[i].Type == domain.FlagVelocity {
			velocity = &assessment.Flags[i]
		}
	}
	require.NotNil(t, velocity)
	assert.GreaterOrEqual(t, assessment.RiskScore, 20)
}

func TestDeriveRiskLevelBands(t *testing.T) {
	assert.Equal(t, domain.RiskLow, domain.DeriveRiskLevel(0))
	assert.Equal(t, domain.RiskLow, domain.DeriveRiskLevel(24))
	assert.Equal(t, domain.RiskMedium, domain.DeriveRiskLevel(25))
	assert.Equal(t, domain.RiskHigh, domain.DeriveRiskLevel(50))
	assert.Equal(t, domain.RiskCritical, domain.DeriveRiskLevel(75))
	assert.Equal(t, domain.RiskCritical, domain.DeriveRiskLevel(100))
}
