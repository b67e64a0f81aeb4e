// Package webhook implements inbound webhook verification for the
// marketplace source: HMAC authenticity, replay protection, append-only
// audit logging, and idempotent dispatch into the Tenant Gate's lifecycle
// mutators.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/tenant"
)

const (
	// Source is the audit-log "source" discriminant for every event this
	// handler accepts.
	Source = "apix"

	replayWindow = 5 * time.Minute
)

// Sign computes hex(HMAC-SHA256(secret, body)), the signing half of the
// webhook authenticity contract.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHeader is the valid hex HMAC-SHA256 of
// body under secret, compared in constant time.
func Verify(secret string, body []byte, signatureHeader string) bool {
	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Store is the Persistence Adapter surface the handler logs every event to.
type Store interface {
	InsertWebhookEvent(ctx context.Context, e domain.WebhookEvent) (string, error)
	MarkWebhookProcessed(ctx context.Context, id string, errMsg string) error
	FindWebhookEvent(ctx context.Context, source, externalEventID string) (*domain.WebhookEvent, error)
}

// Lifecycle is the subset of the Tenant Gate the handler dispatches to.
type Lifecycle interface {
	HandleSubscribed(ctx context.Context, ev tenant.SubscribedEvent) (*tenant.SubscribedResult, error)
	HandlePlanChanged(ctx context.Context, ev tenant.PlanChangedEvent) error
	HandleCancelled(ctx context.Context, ev tenant.CancelledEvent) error
	HandleRenewed(ctx context.Context, ev tenant.RenewedEvent) error
}

// Handler verifies, logs, and dispatches inbound webhook deliveries.
type Handler struct {
	store     Store
	lifecycle Lifecycle
	secret    string
}

func New(store Store, lifecycle Lifecycle, secret string) *Handler {
	return &Handler{store: store, lifecycle: lifecycle, secret: secret}
}

type rawPayload struct {
	Event      string         `json:"event"`
	Timestamp  int64          `json:"timestamp"`
	ExternalID string         `json:"eventId,omitempty"`
	Data       map[string]any `json:"data"`
}

// Accept implements POST /webhooks/apix end to end: signature + replay
// checks, idempotency, audit logging, and lifecycle dispatch. Returns the
// caller-facing JSON-able result on success.
func (h *Handler) Accept(ctx context.Context, body []byte, signatureHeader string) (any, error) {
	if !Verify(h.secret, body, signatureHeader) {
		return nil, apierr.New(apierr.KindUnauthenticated, "invalid webhook signature")
	}

	var payload rawPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidRequest, "malformed webhook payload", err)
	}
	if payload.Timestamp > 0 {
		age := time.Since(time.Unix(payload.Timestamp, 0))
		if age > replayWindow {
			return nil, apierr.New(apierr.KindInvalidRequest, "webhook payload too old")
		}
	}

	if payload.ExternalID != "" {
		existing, err := h.store.FindWebhookEvent(ctx, Source, payload.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("webhook: idempotency check: %w", err)
		}
		// Only a successfully processed delivery short-circuits; a failed
		// one must be retryable so redelivery converges.
		if existing != nil && existing.Processed {
			return map[string]any{"status": "already_processed"}, nil
		}
	}

	eventID, err := h.store.InsertWebhookEvent(ctx, domain.WebhookEvent{
		Source: Source, EventType: payload.Event, ExternalID: payload.ExternalID,
		Payload: body, ReceivedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook: log event before handling: %w", err)
	}

	result, dispatchErr := h.dispatch(ctx, payload)
	if dispatchErr != nil {
		_ = h.store.MarkWebhookProcessed(ctx, eventID, dispatchErr.Error())
		return nil, dispatchErr
	}
	if err := h.store.MarkWebhookProcessed(ctx, eventID, ""); err != nil {
		return nil, fmt.Errorf("webhook: mark processed: %w", err)
	}
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, payload rawPayload) (any, error) {
	switch payload.Event {
	case "user.subscribed":
		ev := tenant.SubscribedEvent{
			ExternalUserID: field(payload.Data, externalUserIDKeys),
			Email:          field(payload.Data, emailKeys),
			FullName:       field(payload.Data, fullNameKeys),
			CompanyName:    field(payload.Data, companyNameKeys),
			Plan:           domain.Plan(field(payload.Data, planKeys)),
		}
		return h.lifecycle.HandleSubscribed(ctx, ev)

	case "user.plan_changed":
		ev := tenant.PlanChangedEvent{
			ExternalUserID: field(payload.Data, externalUserIDKeys),
			Plan:           domain.Plan(field(payload.Data, planKeys)),
		}
		return nil, h.lifecycle.HandlePlanChanged(ctx, ev)

	case "user.cancelled":
		ev := tenant.CancelledEvent{ExternalUserID: field(payload.Data, externalUserIDKeys)}
		return nil, h.lifecycle.HandleCancelled(ctx, ev)

	case "user.renewed":
		ev := tenant.RenewedEvent{ExternalUserID: field(payload.Data, externalUserIDKeys)}
		return nil, h.lifecycle.HandleRenewed(ctx, ev)

	default:
		return nil, apierr.New(apierr.KindInvalidRequest, "unknown event type")
	}
}

// Field-name variant lists, tried in canonical order:
// camelCase → snake_case → Title Case.
var (
	externalUserIDKeys = []string{"externalUserId", "external_user_id", "External User Id"}
	emailKeys          = []string{"email", "email", "Email"}
	planKeys           = []string{"plan", "plan", "Plan"}
	fullNameKeys       = []string{"fullName", "full_name", "Full Name"}
	companyNameKeys    = []string{"companyName", "company_name", "Company Name"}
)

func field(data map[string]any, names []string) string {
	for _, name := range names {
		if v, ok := data[name]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
