package tenant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/domain"
)

func TestHandleSubscribedCreatesUserSubscriptionAndKey(t *testing.T) {
	store := newFakeStore()
	gate := newTestGate(t, store)

	result, err := gate.HandleSubscribed(context.Background(), SubscribedEvent{
		ExternalUserID: "ext-1", Email: "a@b.co", Plan: domain.PlanPro,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.ApiKeyPrefix, "tfa_live_"))
	assert.Equal(t, domain.PlanPro, result.SubscriptionPlan)
	assert.Equal(t, int64(10000), result.MonthlyQuota)

	user, err := store.GetUserByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, domain.PlanPro, user.Plan)

	sub, err := store.GetActiveSubscription(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
}

func TestHandleSubscribedIsIdempotentOnExternalID(t *testing.T) {
	store := newFakeStore()
	gate := newTestGate(t, store)

	first, err := gate.HandleSubscribed(context.Background(), SubscribedEvent{
		ExternalUserID: "ext-2", Email: "b@b.co", Plan: domain.PlanStarter,
	})
	require.NoError(t, err)

	second, err := gate.HandleSubscribed(context.Background(), SubscribedEvent{
		ExternalUserID: "ext-2", Email: "b@b.co", Plan: domain.PlanStarter,
	})
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)

	// No second user row, no second subscription row.
	assert.Len(t, store.users, 1)
	active := 0
	for _, s := range store.subscriptions {
		if s.Status == domain.SubscriptionActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestHandlePlanChanged(t *testing.T) {
	store := newFakeStore()
	gate := newTestGate(t, store)

	_, err := gate.HandleSubscribed(context.Background(), SubscribedEvent{
		ExternalUserID: "ext-3", Email: "c@b.co", Plan: domain.PlanStarter,
	})
	require.NoError(t, err)

	err = gate.HandlePlanChanged(context.Background(), PlanChangedEvent{
		ExternalUserID: "ext-3", Plan: domain.PlanEnterprise,
	})
	require.NoError(t, err)

	user, _ := store.GetUserByExternalID(context.Background(), "ext-3")
	require.NotNil(t, user)
	assert.Equal(t, domain.PlanEnterprise, user.Plan)

	sub, _ := store.GetActiveSubscription(context.Background(), user.ID)
	require.NotNil(t, sub)
	assert.Equal(t, int64(100000), sub.MonthlyQuota)
	assert.Equal(t, 600, sub.RateLimitPerMinute)
}

func TestHandleCancelledAndRenewed(t *testing.T) {
	store := newFakeStore()
	gate := newTestGate(t, store)

	_, err := gate.HandleSubscribed(context.Background(), SubscribedEvent{
		ExternalUserID: "ext-4", Email: "d@b.co", Plan: domain.PlanStarter,
	})
	require.NoError(t, err)

	user, _ := store.GetUserByExternalID(context.Background(), "ext-4")
	require.NotNil(t, user)
	sub, _ := store.GetActiveSubscription(context.Background(), user.ID)
	require.NotNil(t, sub)

	// Spend some quota, then cancel.
	require.NoError(t, store.IncrementUsage(context.Background(), sub.ID, 42))
	require.NoError(t, gate.HandleCancelled(context.Background(), CancelledEvent{ExternalUserID: "ext-4"}))

	user, _ = store.GetUserByExternalID(context.Background(), "ext-4")
	assert.Equal(t, domain.UserCancelled, user.Status)
	cancelled := store.subscriptions[sub.ID]
	assert.Equal(t, domain.SubscriptionCancelled, cancelled.Status)

	// Renewed: reactivate the cancelled row, reset usage, advance the
	// billing window.
	prevEnd := cancelled.BillingPeriodEnd

	require.NoError(t, gate.HandleRenewed(context.Background(), RenewedEvent{ExternalUserID: "ext-4"}))

	renewed := store.subscriptions[sub.ID]
	assert.Equal(t, domain.SubscriptionActive, renewed.Status)
	assert.Equal(t, int64(0), renewed.CurrentUsage)
	assert.Equal(t, prevEnd, renewed.BillingPeriodStart)
	assert.Equal(t, prevEnd.AddDate(0, 1, 0), renewed.BillingPeriodEnd)

	user, _ = store.GetUserByExternalID(context.Background(), "ext-4")
	assert.Equal(t, domain.UserActive, user.Status)
}

func TestHandleRenewedUnknownExternalID(t *testing.T) {
	gate := newTestGate(t, newFakeStore())
	err := gate.HandleRenewed(context.Background(), RenewedEvent{ExternalUserID: "ghost"})
	assert.Error(t, err)
}

func TestSubscriptionBillingWindowIsOneMonth(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	sub := newSubscription("u", domain.PlanCatalog[domain.PlanStarter], now)
	assert.Equal(t, now, sub.BillingPeriodStart)
	assert.Equal(t, now.AddDate(0, 1, 0), sub.BillingPeriodEnd)
	assert.Equal(t, int64(0), sub.CurrentUsage)
}
