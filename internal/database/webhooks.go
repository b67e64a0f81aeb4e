package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lewashby/tokenflow/internal/domain"
)

// InsertWebhookEvent logs the event before it is handled. Returns the
// generated id.
func (c *Client) InsertWebhookEvent(ctx context.Context, e domain.WebhookEvent) (string, error) {
	var result []webhookEventRow
	_, err := c.sb.From("webhook_events").Insert(webhookEventToRow(e), false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return "", fmt.Errorf("database: insert webhook event: %w", err)
	}
	if len(result) == 0 {
		return "", fmt.Errorf("database: insert webhook event: no row returned")
	}
	return result[0].ID, nil
}

// MarkWebhookProcessed flips processed=true or records the failure;
// failures stay processed=false with errorMessage so the marketplace's
// retry converges on re-delivery.
func (c *Client) MarkWebhookProcessed(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	update := map[string]any{"processed": errMsg == "", "processed_at": now}
	if errMsg != "" {
		update["error_message"] = errMsg
	}
	var result []webhookEventRow
	_, err := c.sb.From("webhook_events").Update(update, "", "").Eq("id", id).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: mark webhook %s processed: %w", id, err)
	}
	return nil
}

// FindWebhookEvent implements the (source, externalEventId) idempotency
// check.
func (c *Client) FindWebhookEvent(ctx context.Context, source, externalEventID string) (*domain.WebhookEvent, error) {
	if externalEventID == "" {
		return nil, nil
	}
	var rows []webhookEventRow
	_, err := c.sb.From("webhook_events").Select("*", "", false).
		Eq("source", source).Eq("external_event_id", externalEventID).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: find webhook event: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].toDomain()
	return &e, nil
}
