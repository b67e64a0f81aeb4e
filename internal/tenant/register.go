package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
)

// RegisterResult is returned from direct (non-webhook) registration: a new
// user, its subscription, and the one issued API key.
type RegisterResult struct {
	User         domain.User
	Subscription domain.Subscription
	Key          GeneratedKey
}

// RegisterUser handles POST /api/v1/users/register. A duplicate email is
// a Conflict, distinct from the webhook path's idempotent externalUserId
// match.
func (g *Gate) RegisterUser(ctx context.Context, email, fullName, companyName string, plan domain.Plan) (*RegisterResult, error) {
	if plan == "" {
		plan = domain.PlanStarter
	}
	entry, err := planCatalogEntry(plan)
	if err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "unknown plan")
	}

	existing, err := g.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("tenant: check existing user %s: %w", email, err)
	}
	if existing != nil {
		return nil, apierr.New(apierr.KindConflict, "a user with this email already exists")
	}

	now := time.Now()
	user := domain.User{
		ID: uuid.NewString(), Email: email, FullName: fullName, CompanyName: companyName,
		Plan: plan, Status: domain.UserActive, CreatedAt: now,
	}
	if err := g.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("tenant: create user %s: %w", email, err)
	}

	sub := newSubscription(user.ID, entry, now)
	if err := g.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("tenant: create subscription for %s: %w", user.ID, err)
	}

	key, err := g.CreateAPIKey(ctx, user.ID, "default")
	if err != nil {
		return nil, err
	}

	return &RegisterResult{User: user, Subscription: sub, Key: *key}, nil
}

func newSubscription(userID string, entry domain.PlanCatalogEntry, now time.Time) domain.Subscription {
	return domain.Subscription{
		ID: uuid.NewString(), UserID: userID, Plan: entry.Plan,
		MonthlyQuota: entry.MonthlyQuota, RateLimitPerMinute: entry.RateLimitPerMinute,
		CurrentUsage: 0, BillingPeriodStart: now, BillingPeriodEnd: now.AddDate(0, 1, 0),
		Status: domain.SubscriptionActive, PriceCents: entry.PriceCents,
	}
}

// UpdatePlan handles POST /api/v1/users/plan for an authenticated user:
// updates the active subscription's plan, quota, and rate limit per the
// catalog, mirroring plan onto the user row.
func (g *Gate) UpdatePlan(ctx context.Context, auth AuthContext, plan domain.Plan) (*domain.Subscription, error) {
	entry, err := planCatalogEntry(plan)
	if err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "unknown plan")
	}

	sub := auth.Subscription
	sub.Plan = entry.Plan
	sub.MonthlyQuota = entry.MonthlyQuota
	sub.RateLimitPerMinute = entry.RateLimitPerMinute
	sub.PriceCents = entry.PriceCents
	if err := g.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("tenant: update subscription %s: %w", sub.ID, err)
	}

	user := auth.User
	user.Plan = entry.Plan
	if err := g.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("tenant: mirror plan onto user %s: %w", user.ID, err)
	}
	return &sub, nil
}

// CancelSubscription handles POST /api/v1/users/cancel.
func (g *Gate) CancelSubscription(ctx context.Context, auth AuthContext) error {
	sub := auth.Subscription
	sub.Status = domain.SubscriptionCancelled
	if err := g.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("tenant: cancel subscription %s: %w", sub.ID, err)
	}

	user := auth.User
	user.Status = domain.UserCancelled
	if err := g.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("tenant: mirror cancellation onto user %s: %w", user.ID, err)
	}
	return nil
}

// UsageSummary is the response shape for GET /api/v1/users/usage:
// current-period counters plus recent log history.
type UsageSummary struct {
	CurrentUsage int64                `json:"currentUsage"`
	MonthlyQuota int64                `json:"monthlyQuota"`
	ResetDate    time.Time            `json:"resetDate"`
	RecentLogs   []domain.ApiUsageLog `json:"recentLogs"`
}

// GetUsageSummary implements GET /api/v1/users/usage.
func (g *Gate) GetUsageSummary(ctx context.Context, auth AuthContext) (*UsageSummary, error) {
	logs, err := g.store.ListApiUsageLogs(ctx, auth.User.ID, 100)
	if err != nil {
		return nil, fmt.Errorf("tenant: list usage logs for %s: %w", auth.User.ID, err)
	}
	return &UsageSummary{
		CurrentUsage: auth.Subscription.CurrentUsage,
		MonthlyQuota: auth.Subscription.MonthlyQuota,
		ResetDate:    auth.Subscription.BillingPeriodEnd,
		RecentLogs:   logs,
	}, nil
}
