package entities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/domain"
)

type fakeStore struct {
	rows map[string]domain.Entity
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]domain.Entity{}} }

func (s *fakeStore) ListEntities(_ context.Context) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) UpsertEntity(_ context.Context, e domain.Entity) error {
	s.rows[e.Address] = e
	return nil
}

func TestSeedAndLookup(t *testing.T) {
	store := newFakeStore()
	reg, err := New(store)
	require.NoError(t, err)

	require.NoError(t, reg.SeedKnownPrograms(context.Background(), KnownPrograms))

	e, ok := reg.Lookup("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	require.True(t, ok)
	assert.Equal(t, domain.EntityDEX, e.EntityKind)
	assert.Equal(t, "Raydium AMM", e.Name)
	assert.True(t, reg.IsDEX(e.Address))

	// Seeds are persisted, not just cached.
	assert.Len(t, store.rows, len(KnownPrograms))

	// Re-seeding is a no-op for already-known addresses.
	require.NoError(t, reg.SeedKnownPrograms(context.Background(), KnownPrograms))
	assert.Len(t, store.rows, len(KnownPrograms))
}

func TestObserveAndClassifiers(t *testing.T) {
	store := newFakeStore()
	reg, err := New(store)
	require.NoError(t, err)

	require.NoError(t, reg.Observe(context.Background(), "mixerAddr", domain.EntityMixer))
	require.NoError(t, reg.Observe(context.Background(), "sanctionedAddr", domain.EntitySanctioned))

	assert.True(t, reg.IsMixer("mixerAddr"))
	assert.False(t, reg.IsMixer("sanctionedAddr"))
	assert.True(t, reg.IsSanctioned("sanctionedAddr"))
	assert.False(t, reg.IsSanctioned("unknownAddr"))
}

func TestUpdateRiskCreatesWalletWhenUnknown(t *testing.T) {
	store := newFakeStore()
	reg, err := New(store)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateRisk(context.Background(), "fresh", domain.RiskHigh, 60))

	e, ok := reg.Lookup("fresh")
	require.True(t, ok)
	assert.Equal(t, domain.EntityWallet, e.EntityKind)
	assert.Equal(t, 60, e.RiskScore)
	assert.Equal(t, domain.RiskHigh, e.RiskLevel)
	assert.Equal(t, 60, store.rows["fresh"].RiskScore)
}

func TestReloadPurgesStaleEntries(t *testing.T) {
	store := newFakeStore()
	reg, err := New(store)
	require.NoError(t, err)

	require.NoError(t, reg.Observe(context.Background(), "transient", domain.EntityWallet))
	delete(store.rows, "transient")

	require.NoError(t, reg.Reload(context.Background()))
	_, ok := reg.Lookup("transient")
	assert.False(t, ok)
}
