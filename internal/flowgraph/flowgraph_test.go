package flowgraph

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/domain"
)

type fakeTransferSource struct {
	byAddress map[string][]domain.Transfer
}

func (f *fakeTransferSource) GetTokenTransfers(_ context.Context, address, tokenMint string, _ int) ([]domain.Transfer, error) {
	return f.byAddress[address], nil
}

type fakeEntityLookup struct{}

func (fakeEntityLookup) Lookup(string) (domain.Entity, bool) { return domain.Entity{}, false }

type fakePathStore struct{ saved []domain.FlowPath }

func (f *fakePathStore) UpsertFlowPath(_ context.Context, p domain.FlowPath) error {
	f.saved = append(f.saved, p)
	return nil
}

func transferBetween(from, to string, amount int64, blockTime int64) domain.Transfer {
	return domain.Transfer{
		Signature: from + "->" + to, FromAddress: from, ToAddress: to,
		TokenMint: "MINT", Amount: uint256.NewInt(uint64(amount)), BlockTime: blockTime,
	}
}

func TestBuildForwardPathDeepChain(t *testing.T) {
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"A": {transferBetween("A", "B", 1_000_000, 100)},
		"B": {transferBetween("B", "C", 1_000_000, 200)},
		"C": {transferBetween("C", "D", 1_000_000, 300)},
		"D": {transferBetween("D", "E", 1_000_000, 400)},
	}}
	store := &fakePathStore{}
	engine := New(src, fakeEntityLookup{}, store)

	paths, err := engine.BuildForwardPath(context.Background(), "A", "MINT", 5, TimeRange{})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	p := paths[0]
	assert.Equal(t, 5, p.HopCount)
	assert.Equal(t, "A", p.StartAddress)
	assert.Equal(t, "E", p.EndAddress)
	assert.InDelta(t, 1.0, p.ConfidenceScore, 1e-9)
	assert.Len(t, store.saved, 1)
}

func TestBuildForwardPathPeelChain(t *testing.T) {
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"X":  {transferBetween("X", "Y1", 1000, 100)},
		"Y1": {transferBetween("Y1", "Y2", 920, 200)},
		"Y2": {transferBetween("Y2", "Y3", 850, 300)},
		"Y3": {transferBetween("Y3", "Y4", 780, 400)},
	}}
	engine := New(src, fakeEntityLookup{}, &fakePathStore{})

	paths, err := engine.BuildForwardPath(context.Background(), "X", "MINT", 5, TimeRange{})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Less(t, paths[0].ConfidenceScore, 1.0)
}

func TestDetectCircularFlows(t *testing.T) {
	src := &fakeTransferSource{byAddress: map[string][]domain.Transfer{
		"A": {transferBetween("A", "B", 500, 100)},
		"B": {transferBetween("B", "C", 500, 200)},
		"C": {transferBetween("C", "A", 500, 300)},
	}}
	engine := New(src, fakeEntityLookup{}, &fakePathStore{})

	cycles, err := engine.DetectCircularFlows(context.Background(), "A", "MINT")
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycles[0].Addresses)
	assert.Equal(t, "1500", cycles[0].TotalAmount)
}

func TestMaxDepthClamp(t *testing.T) {
	assert.Equal(t, 10, ClampMaxDepth(11))
	assert.Equal(t, 1, ClampMaxDepth(0))
	assert.Equal(t, 5, ClampMaxDepth(5))
}
