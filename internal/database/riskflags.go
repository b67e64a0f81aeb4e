package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lewashby/tokenflow/internal/domain"
)

// InsertRiskFlags appends a history row per flag produced by an assessment.
func (c *Client) InsertRiskFlags(ctx context.Context, address string, flags []domain.RiskFlag) error {
	if len(flags) == 0 {
		return nil
	}
	rows := make([]riskFlagRow, len(flags))
	now := time.Now()
	for i, f := range flags {
		rows[i] = riskFlagRow{
			Address: address, Type: string(f.Type), Severity: string(f.Severity),
			Detail: f.Detail, CreatedAt: now,
		}
	}
	var result []riskFlagRow
	_, err := c.sb.From("risk_flags").Insert(rows, false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: insert risk flags for %s: %w", address, err)
	}
	return nil
}

func (c *Client) ListRiskFlags(ctx context.Context, address string) ([]domain.RiskFlag, error) {
	var rows []riskFlagRow
	_, err := c.sb.From("risk_flags").Select("*", "", false).
		Eq("address", address).Order("created_at", nil).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list risk flags for %s: %w", address, err)
	}
	out := make([]domain.RiskFlag, len(rows))
	for i, r := range rows {
		out[i] = domain.RiskFlag{Type: domain.RiskFlagType(r.Type), Severity: domain.RiskFlagSeverity(r.Severity), Detail: r.Detail}
	}
	return out, nil
}
