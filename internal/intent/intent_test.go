package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/domain"
)

type fakeEntities struct {
	byAddress map[string]domain.Entity
}

func (f *fakeEntities) Lookup(address string) (domain.Entity, bool) {
	e, ok := f.byAddress[address]
	return e, ok
}

func newTestClient(t *testing.T, entities EntityLookup) *Client {
	t.Helper()
	c, err := New("localhost:50051", entities, cache.NewNoOp(), time.Hour, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPredictIntentSwapIsTrading(t *testing.T) {
	c := newTestClient(t, &fakeEntities{})

	result, err := c.PredictIntent(context.Background(), domain.ParsedTransaction{
		Signature: "sig-1",
		Events:    domain.TxEvents{Swap: &domain.SwapEvent{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "trading", result.Intent)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestPredictIntentMultiDEXIsArbitrage(t *testing.T) {
	entities := &fakeEntities{byAddress: map[string]domain.Entity{
		"dex1": {Address: "dex1", EntityKind: domain.EntityDEX},
		"dex2": {Address: "dex2", EntityKind: domain.EntityDEX},
	}}
	c := newTestClient(t, entities)

	result, err := c.PredictIntent(context.Background(), domain.ParsedTransaction{
		Signature: "sig-2",
		Events:    domain.TxEvents{Swap: &domain.SwapEvent{}},
		Instructions: []domain.Instruction{
			{ProgramID: "dex1"}, {ProgramID: "dex2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "arbitrage", result.Intent)
}

func TestPredictIntentBridgeProgram(t *testing.T) {
	entities := &fakeEntities{byAddress: map[string]domain.Entity{
		"bridge": {Address: "bridge", EntityKind: domain.EntityBridge},
	}}
	c := newTestClient(t, entities)

	result, err := c.PredictIntent(context.Background(), domain.ParsedTransaction{
		Signature:    "sig-3",
		Instructions: []domain.Instruction{{ProgramID: "bridge"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "bridging", result.Intent)
}

func TestPredictIntentEmptyTxIsUnknown(t *testing.T) {
	c := newTestClient(t, &fakeEntities{})

	result, err := c.PredictIntent(context.Background(), domain.ParsedTransaction{Signature: "sig-4"})
	require.NoError(t, err)
	assert.Equal(t, Unknown, result)

	// Missing signature short-circuits to Unknown without caching.
	result, err = c.PredictIntent(context.Background(), domain.ParsedTransaction{})
	require.NoError(t, err)
	assert.Equal(t, Unknown, result)
}

func TestPredictBatchPreservesOrder(t *testing.T) {
	c := newTestClient(t, &fakeEntities{})

	txs := []domain.ParsedTransaction{
		{Signature: "a", Events: domain.TxEvents{Swap: &domain.SwapEvent{}}},
		{Signature: "b", TokenTransfers: []domain.TokenTransfer{{Mint: "M", TokenAmount: 1}}},
	}
	results := c.PredictBatch(context.Background(), txs)
	require.Len(t, results, 2)
	assert.Equal(t, "trading", results[0].Intent)
	assert.Equal(t, "transfer", results[1].Intent)
}
