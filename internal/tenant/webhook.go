package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
)

// SubscribedEvent is the inbound user.subscribed payload.
type SubscribedEvent struct {
	ExternalUserID string      `json:"externalUserId"`
	Email          string      `json:"email"`
	FullName       string      `json:"fullName,omitempty"`
	CompanyName    string      `json:"companyName,omitempty"`
	Plan           domain.Plan `json:"plan"`
}

// SubscribedResult carries the keyPrefix-only response: the full raw key
// is never returned in webhook responses.
type SubscribedResult struct {
	UserID           string      `json:"userId"`
	SubscriptionPlan domain.Plan `json:"plan"`
	MonthlyQuota     int64       `json:"monthlyQuota"`
	ApiKeyPrefix     string      `json:"apiKeyPrefix"`
}

// HandleSubscribed implements the user.subscribed lifecycle mutation:
// create the user if externalUserId is unknown, create a
// subscription, generate one API key.
func (g *Gate) HandleSubscribed(ctx context.Context, ev SubscribedEvent) (*SubscribedResult, error) {
	plan := ev.Plan
	if plan == "" {
		plan = domain.PlanStarter
	}
	entry, err := planCatalogEntry(plan)
	if err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "unknown plan")
	}

	user, err := g.store.GetUserByExternalID(ctx, ev.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup external user %s: %w", ev.ExternalUserID, err)
	}

	if user == nil {
		now := time.Now()
		u := domain.User{
			ID: uuid.NewString(), Email: ev.Email, FullName: ev.FullName, CompanyName: ev.CompanyName,
			Plan: plan, Status: domain.UserActive, ExternalUserID: ev.ExternalUserID, CreatedAt: now,
		}
		if err := g.store.CreateUser(ctx, u); err != nil {
			return nil, fmt.Errorf("tenant: create user for webhook subscribe: %w", err)
		}
		user = &u
	}

	sub, err := g.store.GetActiveSubscription(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup subscription for %s: %w", user.ID, err)
	}
	if sub == nil {
		s := newSubscription(user.ID, entry, time.Now())
		if err := g.store.CreateSubscription(ctx, s); err != nil {
			return nil, fmt.Errorf("tenant: create subscription for %s: %w", user.ID, err)
		}
		sub = &s
	}

	key, err := g.CreateAPIKey(ctx, user.ID, "webhook-issued")
	if err != nil {
		return nil, err
	}

	return &SubscribedResult{
		UserID: user.ID, SubscriptionPlan: sub.Plan, MonthlyQuota: sub.MonthlyQuota,
		ApiKeyPrefix: key.Row.KeyPrefix,
	}, nil
}

// PlanChangedEvent is the inbound user.plan_changed payload.
type PlanChangedEvent struct {
	ExternalUserID string      `json:"externalUserId"`
	Plan           domain.Plan `json:"plan"`
}

// HandlePlanChanged implements the user.plan_changed lifecycle mutation.
func (g *Gate) HandlePlanChanged(ctx context.Context, ev PlanChangedEvent) error {
	user, sub, err := g.findByExternalID(ctx, ev.ExternalUserID)
	if err != nil {
		return err
	}
	entry, err := planCatalogEntry(ev.Plan)
	if err != nil {
		return apierr.New(apierr.KindInvalidRequest, "unknown plan")
	}

	sub.Plan = entry.Plan
	sub.MonthlyQuota = entry.MonthlyQuota
	sub.RateLimitPerMinute = entry.RateLimitPerMinute
	sub.PriceCents = entry.PriceCents
	if err := g.store.UpdateSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("tenant: update subscription on plan change: %w", err)
	}

	user.Plan = entry.Plan
	if err := g.store.UpdateUser(ctx, *user); err != nil {
		return fmt.Errorf("tenant: mirror plan change onto user: %w", err)
	}
	return nil
}

// CancelledEvent is the inbound user.cancelled payload.
type CancelledEvent struct {
	ExternalUserID string `json:"externalUserId"`
}

// HandleCancelled implements the user.cancelled lifecycle mutation.
func (g *Gate) HandleCancelled(ctx context.Context, ev CancelledEvent) error {
	user, sub, err := g.findByExternalID(ctx, ev.ExternalUserID)
	if err != nil {
		return err
	}

	sub.Status = domain.SubscriptionCancelled
	if err := g.store.UpdateSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("tenant: cancel subscription via webhook: %w", err)
	}

	user.Status = domain.UserCancelled
	if err := g.store.UpdateUser(ctx, *user); err != nil {
		return fmt.Errorf("tenant: mirror cancellation onto user via webhook: %w", err)
	}
	return nil
}

// RenewedEvent is the inbound user.renewed payload.
type RenewedEvent struct {
	ExternalUserID string `json:"externalUserId"`
}

// HandleRenewed implements the user.renewed lifecycle mutation: reactivate,
// reset currentUsage to 0, advance the billing window by one month. The
// lookup is by latest subscription, not active-only, since renewal is how
// a cancelled or expired subscription comes back.
func (g *Gate) HandleRenewed(ctx context.Context, ev RenewedEvent) error {
	user, err := g.store.GetUserByExternalID(ctx, ev.ExternalUserID)
	if err != nil {
		return fmt.Errorf("tenant: lookup external user %s: %w", ev.ExternalUserID, err)
	}
	if user == nil {
		return apierr.New(apierr.KindNotFound, "unknown externalUserId")
	}
	sub, err := g.store.GetLatestSubscription(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("tenant: lookup subscription for %s: %w", user.ID, err)
	}
	if sub == nil {
		return apierr.New(apierr.KindNotFound, "no subscription to renew")
	}

	sub.Status = domain.SubscriptionActive
	sub.CurrentUsage = 0
	sub.BillingPeriodStart = sub.BillingPeriodEnd
	sub.BillingPeriodEnd = sub.BillingPeriodStart.AddDate(0, 1, 0)
	if err := g.store.UpdateSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("tenant: renew subscription %s: %w", sub.ID, err)
	}

	if user.Status != domain.UserActive {
		user.Status = domain.UserActive
		if err := g.store.UpdateUser(ctx, *user); err != nil {
			return fmt.Errorf("tenant: reactivate user %s: %w", user.ID, err)
		}
	}
	return nil
}

func (g *Gate) findByExternalID(ctx context.Context, externalUserID string) (*domain.User, *domain.Subscription, error) {
	user, err := g.store.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("tenant: lookup external user %s: %w", externalUserID, err)
	}
	if user == nil {
		return nil, nil, apierr.New(apierr.KindNotFound, "unknown externalUserId")
	}
	sub, err := g.store.GetActiveSubscription(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("tenant: lookup subscription for %s: %w", user.ID, err)
	}
	if sub == nil {
		return nil, nil, apierr.New(apierr.KindNotFound, "no active subscription")
	}
	return user, sub, nil
}
