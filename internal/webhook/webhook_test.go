package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/tenant"
)

const testSecret = "whsec_0123456789abcdef0123456789abcdef"

type fakeStore struct {
	events    map[string]domain.WebhookEvent
	processed map[string]string // id -> errMsg ("" = success)
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]domain.WebhookEvent{}, processed: map[string]string{}}
}

func (s *fakeStore) InsertWebhookEvent(_ context.Context, e domain.WebhookEvent) (string, error) {
	s.nextID++
	id := fmt.Sprintf("evt-%d", s.nextID)
	e.ID = id
	s.events[id] = e
	return id, nil
}

func (s *fakeStore) MarkWebhookProcessed(_ context.Context, id string, errMsg string) error {
	s.processed[id] = errMsg
	e := s.events[id]
	e.Processed = errMsg == ""
	e.ErrorMessage = errMsg
	s.events[id] = e
	return nil
}

func (s *fakeStore) FindWebhookEvent(_ context.Context, source, externalEventID string) (*domain.WebhookEvent, error) {
	for _, e := range s.events {
		if e.Source == source && e.ExternalID == externalEventID {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

type fakeLifecycle struct {
	subscribed  []tenant.SubscribedEvent
	planChanged []tenant.PlanChangedEvent
	cancelled   []tenant.CancelledEvent
	renewed     []tenant.RenewedEvent
	failWith    error
}

func (f *fakeLifecycle) HandleSubscribed(_ context.Context, ev tenant.SubscribedEvent) (*tenant.SubscribedResult, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.subscribed = append(f.subscribed, ev)
	return &tenant.SubscribedResult{UserID: "u-1", SubscriptionPlan: ev.Plan, ApiKeyPrefix: "tfa_live_0abc123"}, nil
}

func (f *fakeLifecycle) HandlePlanChanged(_ context.Context, ev tenant.PlanChangedEvent) error {
	f.planChanged = append(f.planChanged, ev)
	return nil
}

func (f *fakeLifecycle) HandleCancelled(_ context.Context, ev tenant.CancelledEvent) error {
	f.cancelled = append(f.cancelled, ev)
	return nil
}

func (f *fakeLifecycle) HandleRenewed(_ context.Context, ev tenant.RenewedEvent) error {
	f.renewed = append(f.renewed, ev)
	return nil
}

func signedBody(t *testing.T, payload map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body, Sign(testSecret, body)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"user.renewed"}`)
	sig := Sign(testSecret, body)

	assert.True(t, Verify(testSecret, body, sig))
	assert.False(t, Verify(testSecret, body, Sign("other-secret-other-secret-other", body)))
	assert.False(t, Verify(testSecret, []byte(`{"event":"tampered"}`), sig))
	assert.False(t, Verify(testSecret, body, "not-hex"))
}

func TestAcceptRejectsBadSignature(t *testing.T) {
	h := New(newFakeStore(), &fakeLifecycle{}, testSecret)

	_, err := h.Accept(context.Background(), []byte(`{}`), "deadbeef")
	var apiErr *apierr.Error
	require.True(t, apierr.As(err, &apiErr))
	assert.Equal(t, apierr.KindUnauthenticated, apiErr.Kind)
}

func TestAcceptRejectsStalePayload(t *testing.T) {
	h := New(newFakeStore(), &fakeLifecycle{}, testSecret)

	body, sig := signedBody(t, map[string]any{
		"event":     "user.renewed",
		"timestamp": time.Now().Add(-10 * time.Minute).Unix(),
		"data":      map[string]any{"externalUserId": "ext-1"},
	})
	_, err := h.Accept(context.Background(), body, sig)
	var apiErr *apierr.Error
	require.True(t, apierr.As(err, &apiErr))
	assert.Equal(t, apierr.KindInvalidRequest, apiErr.Kind)
}

func TestAcceptUnknownEventLogsAndFails(t *testing.T) {
	store := newFakeStore()
	h := New(store, &fakeLifecycle{}, testSecret)

	body, sig := signedBody(t, map[string]any{
		"event": "user.vaporized",
		"data":  map[string]any{},
	})
	_, err := h.Accept(context.Background(), body, sig)
	var apiErr *apierr.Error
	require.True(t, apierr.As(err, &apiErr))
	assert.Equal(t, apierr.KindInvalidRequest, apiErr.Kind)

	// The event was still audited, with processed=false and the error.
	require.Len(t, store.events, 1)
	for _, e := range store.events {
		assert.False(t, e.Processed)
		assert.NotEmpty(t, e.ErrorMessage)
	}
}

func TestAcceptSubscribedHappyPath(t *testing.T) {
	store := newFakeStore()
	lc := &fakeLifecycle{}
	h := New(store, lc, testSecret)

	body, sig := signedBody(t, map[string]any{
		"event":     "user.subscribed",
		"timestamp": time.Now().Unix(),
		"data": map[string]any{
			"externalUserId": "ext-1",
			"email":          "a@b.co",
			"plan":           "pro",
		},
	})
	result, err := h.Accept(context.Background(), body, sig)
	require.NoError(t, err)

	sub, ok := result.(*tenant.SubscribedResult)
	require.True(t, ok)
	assert.Equal(t, "tfa_live_0abc123", sub.ApiKeyPrefix)

	require.Len(t, lc.subscribed, 1)
	assert.Equal(t, "ext-1", lc.subscribed[0].ExternalUserID)
	assert.Equal(t, domain.PlanPro, lc.subscribed[0].Plan)

	// Logged before handling, flipped to processed after.
	require.Len(t, store.events, 1)
	for id, e := range store.events {
		assert.True(t, e.Processed)
		assert.Equal(t, "", store.processed[id])
	}
}

func TestAcceptFieldNameNormalization(t *testing.T) {
	lc := &fakeLifecycle{}
	h := New(newFakeStore(), lc, testSecret)

	// snake_case variant resolves through the canonical lookup order.
	body, sig := signedBody(t, map[string]any{
		"event": "user.plan_changed",
		"data": map[string]any{
			"external_user_id": "ext-9",
			"plan":             "enterprise",
		},
	})
	_, err := h.Accept(context.Background(), body, sig)
	require.NoError(t, err)

	require.Len(t, lc.planChanged, 1)
	assert.Equal(t, "ext-9", lc.planChanged[0].ExternalUserID)
	assert.Equal(t, domain.PlanEnterprise, lc.planChanged[0].Plan)
}

func TestAcceptIdempotentOnExternalEventID(t *testing.T) {
	store := newFakeStore()
	lc := &fakeLifecycle{}
	h := New(store, lc, testSecret)

	payload := map[string]any{
		"event":   "user.cancelled",
		"eventId": "delivery-42",
		"data":    map[string]any{"externalUserId": "ext-5"},
	}
	body, sig := signedBody(t, payload)

	_, err := h.Accept(context.Background(), body, sig)
	require.NoError(t, err)
	require.Len(t, lc.cancelled, 1)

	// Redelivery of the same eventId short-circuits without re-dispatch.
	result, err := h.Accept(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "already_processed"}, result)
	assert.Len(t, lc.cancelled, 1)
}
