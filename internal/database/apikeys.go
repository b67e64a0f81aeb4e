package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lewashby/tokenflow/internal/domain"
)

// AuthLookup joins an active apiKey with its user and active subscription.
// supabase-go has no server-side join helper here, so the lookup is issued
// as sequential Select calls.
type AuthLookup struct {
	ApiKey       domain.ApiKey
	User         domain.User
	Subscription domain.Subscription
}

func (c *Client) GetApiKeyByHash(ctx context.Context, keyHash string) (*domain.ApiKey, error) {
	var rows []apiKeyRow
	_, err := c.sb.From("api_keys").Select("*", "", false).
		Eq("key_hash", keyHash).Eq("active", "true").Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get api key: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	k := rows[0].toDomain()
	return &k, nil
}

// AuthenticateByHash performs the full authentication join: active key →
// user → active subscription. Returns nil, nil on any miss in the chain.
func (c *Client) AuthenticateByHash(ctx context.Context, keyHash string) (*AuthLookup, error) {
	key, err := c.GetApiKeyByHash(ctx, keyHash)
	if err != nil || key == nil {
		return nil, err
	}
	user, err := c.GetUserByID(ctx, key.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	sub, err := c.GetActiveSubscription(ctx, user.ID)
	if err != nil || sub == nil {
		return nil, err
	}
	return &AuthLookup{ApiKey: *key, User: *user, Subscription: *sub}, nil
}

func (c *Client) ListApiKeys(ctx context.Context, userID string) ([]domain.ApiKey, error) {
	var rows []apiKeyRow
	_, err := c.sb.From("api_keys").Select("*", "", false).
		Eq("user_id", userID).Order("created_at", nil).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list api keys for %s: %w", userID, err)
	}
	out := make([]domain.ApiKey, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (c *Client) CreateApiKey(ctx context.Context, k domain.ApiKey) error {
	var result []apiKeyRow
	_, err := c.sb.From("api_keys").Insert(apiKeyToRow(k), false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: create api key: %w", err)
	}
	return nil
}

// RevokeApiKey soft-deletes the key. A repeat call on an already-revoked
// key is a no-op that still returns success.
func (c *Client) RevokeApiKey(ctx context.Context, userID, keyID string) error {
	now := time.Now()
	var result []apiKeyRow
	_, err := c.sb.From("api_keys").
		Update(map[string]any{"active": false, "revoked_at": now}, "", "").
		Eq("id", keyID).Eq("user_id", userID).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: revoke api key %s: %w", keyID, err)
	}
	return nil
}

// IncrementApiKeyCalls records one more call against keyID by setting its
// total_calls to current+1.
func (c *Client) IncrementApiKeyCalls(ctx context.Context, keyID string, current int64) error {
	var result []apiKeyRow
	_, err := c.sb.From("api_keys").
		Update(map[string]any{"total_calls": current + 1}, "", "").
		Eq("id", keyID).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: increment api key calls %s: %w", keyID, err)
	}
	return nil
}

func (c *Client) TouchUserLastLogin(ctx context.Context, userID string) error {
	now := time.Now()
	var result []userRow
	_, err := c.sb.From("users").
		Update(map[string]any{"last_login_at": now}, "", "").
		Eq("id", userID).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: touch last login %s: %w", userID, err)
	}
	return nil
}
