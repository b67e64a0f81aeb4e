// Package tenant implements the Tenant Gate: API-key hashing and lookup,
// quota enforcement, usage accounting, and the webhook-driven lifecycle of
// user + subscription + key state.
package tenant

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
)

// hkdfInfo domain-separates the derived MAC key from any other use of the
// configured salt, so a salt reused elsewhere can't be replayed here.
const hkdfInfo = "tokenflow-api-key-hash-v1"

// Store is the Persistence Adapter surface the Tenant Gate reads through
// and writes to.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByExternalID(ctx context.Context, externalUserID string) (*domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error

	GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	GetLatestSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	CreateSubscription(ctx context.Context, s domain.Subscription) error
	UpdateSubscription(ctx context.Context, s domain.Subscription) error
	IncrementUsage(ctx context.Context, subscriptionID string, delta int64) error

	GetApiKeyByHash(ctx context.Context, keyHash string) (*domain.ApiKey, error)
	ListApiKeys(ctx context.Context, userID string) ([]domain.ApiKey, error)
	CreateApiKey(ctx context.Context, k domain.ApiKey) error
	RevokeApiKey(ctx context.Context, userID, keyID string) error
	IncrementApiKeyCalls(ctx context.Context, keyID string, current int64) error
	TouchUserLastLogin(ctx context.Context, userID string) error

	InsertApiUsageLog(ctx context.Context, l domain.ApiUsageLog) error
	ListApiUsageLogs(ctx context.Context, userID string, limit int) ([]domain.ApiUsageLog, error)
}

const (
	keyPrefixTag  = "tfa_live_"
	keyPrefixLen  = 16
	keyRandBytes  = 32 // 32 bytes -> 64 lowercase hex chars
	minSaltLength = 32
)

// Gate is the Tenant Gate.
type Gate struct {
	store     Store
	macKey    []byte
	adminKey  string
	authFloor time.Duration
}

// New constructs a Gate. salt must be ≥32 characters; callers validate this
// at startup via config.Config.Validate. The configured
// salt is never used as the MAC key directly: it seeds an HKDF-SHA256
// derivation so the operator-supplied secret and the key actually hashing
// tenant API keys are never the same bytes.
func New(store Store, salt, adminKey string, authFailureFloor time.Duration) (*Gate, error) {
	if len(salt) < minSaltLength {
		return nil, fmt.Errorf("tenant: API key salt must be at least %d characters", minSaltLength)
	}
	macKey, err := deriveMACKey(salt)
	if err != nil {
		return nil, fmt.Errorf("tenant: derive API key MAC key: %w", err)
	}
	return &Gate{store: store, macKey: macKey, adminKey: adminKey, authFloor: authFailureFloor}, nil
}

func deriveMACKey(salt string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(salt), nil, []byte(hkdfInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// HashKey computes HMAC-SHA256(derivedKey, rawKey) as a lowercase hex
// string, the stored form of every API key.
func (g *Gate) HashKey(rawKey string) string {
	mac := hmac.New(sha256.New, g.macKey)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashKey is the free-function form, deriving its own MAC key from salt.
// Usable without a constructed Gate (e.g. from tests or from the webhook
// lifecycle mutators that only have the raw configured salt).
func HashKey(salt, rawKey string) string {
	macKey, err := deriveMACKey(salt)
	if err != nil {
		// hkdf.New only errors when the requested output exceeds its
		// 255*hash-size limit; sha256.Size never does.
		panic(err)
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsAdminKey reports whether presented matches the configured admin key
// using a constant-time comparison.
func (g *Gate) IsAdminKey(presented string) bool {
	if g.adminKey == "" || presented == "" {
		return false
	}
	return hmac.Equal([]byte(g.adminKey), []byte(presented))
}

// AuthContext is what a successful Authenticate attaches to the request.
type AuthContext struct {
	User         domain.User
	Subscription domain.Subscription
	ApiKey       domain.ApiKey
}

// Authenticate performs the authentication lookup: active key → user →
// active subscription. On any miss it returns apierr.Unauthenticated after
// padding the call to at least authFloor, to prevent key-existence timing
// oracles.
func (g *Gate) Authenticate(ctx context.Context, rawKey string) (*AuthContext, error) {
	start := time.Now()
	auth, err := g.lookup(ctx, rawKey)
	if err != nil {
		g.padFailure(start)
		return nil, err
	}
	if auth == nil {
		g.padFailure(start)
		return nil, apierr.New(apierr.KindUnauthenticated, "invalid or missing API key")
	}
	return auth, nil
}

func (g *Gate) lookup(ctx context.Context, rawKey string) (*AuthContext, error) {
	if rawKey == "" {
		return nil, nil
	}
	keyHash := g.HashKey(rawKey)

	key, err := g.store.GetApiKeyByHash(ctx, keyHash)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup api key: %w", err)
	}
	if key == nil {
		return nil, nil
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, nil
	}

	user, err := g.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup user %s: %w", key.UserID, err)
	}
	if user == nil {
		return nil, nil
	}

	sub, err := g.store.GetActiveSubscription(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup subscription for %s: %w", user.ID, err)
	}
	if sub == nil {
		return nil, nil
	}

	return &AuthContext{User: *user, Subscription: *sub, ApiKey: *key}, nil
}

func (g *Gate) padFailure(start time.Time) {
	elapsed := time.Since(start)
	if remaining := g.authFloor - elapsed; remaining > 0 {
		time.Sleep(remaining)
	}
}

// TouchAuth asynchronously records lastUsedAt-style bookkeeping for a
// successfully authenticated key. totalCalls itself is bumped once per
// request by RecordUsage, after the handler has actually run; TouchAuth
// only updates the user's lastLoginAt. Callers fire this off in a
// goroutine detached from the request deadline.
func (g *Gate) TouchAuth(ctx context.Context, auth AuthContext) error {
	if err := g.store.TouchUserLastLogin(ctx, auth.User.ID); err != nil {
		return fmt.Errorf("tenant: touch user %s: %w", auth.User.ID, err)
	}
	return nil
}

// CheckQuota requires an active subscription under its monthly quota.
func (g *Gate) CheckQuota(auth AuthContext) error {
	if auth.Subscription.Status != domain.SubscriptionActive {
		return apierr.New(apierr.KindSubscriptionInactive, "subscription is not active")
	}
	if auth.Subscription.CurrentUsage >= auth.Subscription.MonthlyQuota {
		return apierr.New(apierr.KindQuotaExceeded, "monthly quota exceeded").
			WithContext(map[string]any{"resetDate": auth.Subscription.BillingPeriodEnd})
	}
	return nil
}

// RecordUsage asynchronously increments usage counters and appends an
// ApiUsageLog row. Callers detach it from the request deadline.
func (g *Gate) RecordUsage(ctx context.Context, auth AuthContext, log domain.ApiUsageLog) error {
	if err := g.store.IncrementUsage(ctx, auth.Subscription.ID, 1); err != nil {
		return fmt.Errorf("tenant: increment usage for %s: %w", auth.Subscription.ID, err)
	}
	if err := g.store.IncrementApiKeyCalls(ctx, auth.ApiKey.ID, auth.ApiKey.TotalCalls); err != nil {
		return fmt.Errorf("tenant: increment api key calls for %s: %w", auth.ApiKey.ID, err)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if err := g.store.InsertApiUsageLog(ctx, log); err != nil {
		return fmt.Errorf("tenant: insert usage log: %w", err)
	}
	return nil
}

// ErrUnknownPlan is returned when a plan name does not appear in the
// catalog.
var ErrUnknownPlan = errors.New("tenant: unknown plan")

func planCatalogEntry(plan domain.Plan) (domain.PlanCatalogEntry, error) {
	entry, ok := domain.PlanCatalog[plan]
	if !ok {
		return domain.PlanCatalogEntry{}, ErrUnknownPlan
	}
	return entry, nil
}
