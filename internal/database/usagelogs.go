package database

import (
	"context"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

func (c *Client) InsertApiUsageLog(ctx context.Context, l domain.ApiUsageLog) error {
	var result []apiUsageLogRow
	_, err := c.sb.From("api_usage_logs").Insert(apiUsageLogToRow(l), false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: insert api usage log: %w", err)
	}
	return nil
}

// ListApiUsageLogs returns the most recent rows for userID, backing the
// usage-history surface of GET /api/v1/users/usage.
func (c *Client) ListApiUsageLogs(ctx context.Context, userID string, limit int) ([]domain.ApiUsageLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var rows []apiUsageLogRow
	_, err := c.sb.From("api_usage_logs").Select("*", "", false).
		Eq("user_id", userID).Order("timestamp", nil).Limit(limit, "").ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list api usage logs for %s: %w", userID, err)
	}
	out := make([]domain.ApiUsageLog, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
