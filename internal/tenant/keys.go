package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
)

// GeneratedKey is a freshly minted raw API key plus the row derived from
// it. The raw value is returned to the caller exactly once and never
// persisted.
type GeneratedKey struct {
	Raw string
	Row domain.ApiKey
}

// generateRawKey produces "tfa_live_" + 64 lowercase hex characters.
func generateRawKey() (string, error) {
	buf := make([]byte, keyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("tenant: generate key: %w", err)
	}
	return keyPrefixTag + hex.EncodeToString(buf), nil
}

// CreateAPIKey mints a new key for userID, persists its hash, and returns
// the raw value once.
func (g *Gate) CreateAPIKey(ctx context.Context, userID, name string) (*GeneratedKey, error) {
	raw, err := generateRawKey()
	if err != nil {
		return nil, err
	}

	row := domain.ApiKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		KeyHash:   g.HashKey(raw),
		KeyPrefix: raw[:keyPrefixLen],
		Name:      name,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := g.store.CreateApiKey(ctx, row); err != nil {
		return nil, fmt.Errorf("tenant: create api key for %s: %w", userID, err)
	}
	return &GeneratedKey{Raw: raw, Row: row}, nil
}

// ListAPIKeys returns the owning user's keys (key hash never exposed;
// domain.ApiKey.KeyHash is json:"-").
func (g *Gate) ListAPIKeys(ctx context.Context, userID string) ([]domain.ApiKey, error) {
	keys, err := g.store.ListApiKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("tenant: list api keys for %s: %w", userID, err)
	}
	return keys, nil
}

// RevokeAPIKey soft-deletes keyID if owned by userID. Revoking an
// already-revoked key is a no-op that still returns success.
func (g *Gate) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	if err := g.store.RevokeApiKey(ctx, userID, keyID); err != nil {
		return apierr.Wrap(apierr.KindInternal, "failed to revoke api key", err)
	}
	return nil
}
