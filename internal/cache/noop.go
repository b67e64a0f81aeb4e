package cache

import (
	"context"
	"sync"
	"time"
)

// NoOp is the degraded-mode Cache used when no KV host is configured or the
// Redis connection could not be established at startup. Reads always miss
// so callers fall
// through to the upstream; Incr is backed by an in-process map so quota and
// rate-limit counters still function, just without cross-process sharing.
type NoOp struct {
	mu     sync.Mutex
	counts map[string]noopEntry
}

type noopEntry struct {
	value     int64
	expiresAt time.Time
}

// NewNoOp constructs a degraded-mode cache.
func NewNoOp() *NoOp {
	return &NoOp{counts: make(map[string]noopEntry)}
}

func (n *NoOp) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *NoOp) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrMiss
}

func (n *NoOp) Delete(ctx context.Context, keys ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range keys {
		delete(n.counts, k)
	}
	return nil
}

func (n *NoOp) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	entry, ok := n.counts[key]
	if !ok || now.After(entry.expiresAt) {
		entry = noopEntry{value: 0, expiresAt: now.Add(ttl)}
	}
	entry.value += delta
	n.counts[key] = entry
	return entry.value, nil
}

func (n *NoOp) Close() error {
	return nil
}
