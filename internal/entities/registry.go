// Package entities implements the Entity Registry: a process-wide
// read-through cache over known program IDs (DEX, bridge, lending) and
// previously observed addresses (mixer, sanctioned, wallet, pool), backed
// by the Persistence Adapter and populated at startup.
package entities

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lewashby/tokenflow/internal/domain"
)

// Store is the Persistence Adapter surface the registry reads through and
// writes newly observed entities to.
type Store interface {
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	UpsertEntity(ctx context.Context, e domain.Entity) error
}

const cacheSize = 4096

// Registry maps addresses to their Entity, read-through-cached in front of
// Store. Safe for concurrent use.
type Registry struct {
	store Store

	mu    sync.RWMutex
	cache *lru.Cache[string, domain.Entity]
}

// New constructs an empty Registry. Call Reload to populate it from Store.
func New(store Store) (*Registry, error) {
	c, err := lru.New[string, domain.Entity](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("entities: create cache: %w", err)
	}
	return &Registry{store: store, cache: c}, nil
}

// Reload repopulates the registry from the entities table, invalidating
// whatever was cached before.
func (r *Registry) Reload(ctx context.Context) error {
	rows, err := r.store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("entities: reload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	for _, e := range rows {
		r.cache.Add(e.Address, e)
	}
	return nil
}

// Lookup returns the Entity for address if known, and whether it was found.
func (r *Registry) Lookup(address string) (domain.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Get(address)
}

// IsSanctioned reports whether address is classified as sanctioned.
func (r *Registry) IsSanctioned(address string) bool {
	e, ok := r.Lookup(address)
	return ok && e.EntityKind == domain.EntitySanctioned
}

// IsMixer reports whether address is classified as a mixer.
func (r *Registry) IsMixer(address string) bool {
	e, ok := r.Lookup(address)
	return ok && e.EntityKind == domain.EntityMixer
}

// IsDEX reports whether address is a known DEX program or pool account.
func (r *Registry) IsDEX(address string) bool {
	e, ok := r.Lookup(address)
	return ok && (e.EntityKind == domain.EntityDEX || e.EntityKind == domain.EntityPool)
}

// Observe records a newly-seen address with the given kind if it is not
// already known, invalidating and refreshing the cache entry. Used by the
// Activity Classifier's pool-hub detection and the Flow Graph Engine when
// they encounter addresses absent from the seed table.
func (r *Registry) Observe(ctx context.Context, address string, kind domain.EntityKind) error {
	if _, ok := r.Lookup(address); ok {
		return nil
	}
	e := domain.Entity{Address: address, EntityKind: kind, RiskLevel: domain.RiskLow}
	if err := r.store.UpsertEntity(ctx, e); err != nil {
		return fmt.Errorf("entities: observe %s: %w", address, err)
	}
	r.mu.Lock()
	r.cache.Add(address, e)
	r.mu.Unlock()
	return nil
}

// UpdateRisk writes back a new risk level/score for address, e.g. after the
// Risk Scoring Engine assesses it, and refreshes the cache entry.
func (r *Registry) UpdateRisk(ctx context.Context, address string, level domain.RiskLevel, score int) error {
	e, ok := r.Lookup(address)
	if !ok {
		e = domain.Entity{Address: address, EntityKind: domain.EntityWallet}
	}
	e.RiskLevel = level
	e.RiskScore = score
	if err := r.store.UpsertEntity(ctx, e); err != nil {
		return fmt.Errorf("entities: update risk %s: %w", address, err)
	}
	r.mu.Lock()
	r.cache.Add(address, e)
	r.mu.Unlock()
	return nil
}

// SeedKnownPrograms seeds the registry (and persists) the well-known DEX,
// bridge, and lending program IDs configured as ops-maintained data.
func (r *Registry) SeedKnownPrograms(ctx context.Context, seeds []domain.Entity) error {
	for _, e := range seeds {
		if _, ok := r.Lookup(e.Address); ok {
			continue
		}
		if err := r.store.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("entities: seed %s: %w", e.Address, err)
		}
		r.mu.Lock()
		r.cache.Add(e.Address, e)
		r.mu.Unlock()
	}
	return nil
}
