package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

// UpsertFlowPath persists fp, upserting by pathId.
func (c *Client) UpsertFlowPath(ctx context.Context, fp domain.FlowPath) error {
	row, err := flowPathToRow(fp)
	if err != nil {
		return fmt.Errorf("database: marshal flow path %s: %w", fp.PathID, err)
	}
	var result []flowPathRow
	_, err = c.sb.From("flow_paths").Upsert(row, "path_id", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: upsert flow path %s: %w", fp.PathID, err)
	}
	return nil
}

func (c *Client) GetFlowPath(ctx context.Context, pathID string) (*domain.FlowPath, error) {
	var rows []flowPathRow
	_, err := c.sb.From("flow_paths").Select("*", "", false).Eq("path_id", pathID).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get flow path %s: %w", pathID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	fp, err := rows[0].toDomain()
	if err != nil {
		return nil, fmt.Errorf("database: unmarshal flow path %s: %w", pathID, err)
	}
	return &fp, nil
}

func flowPathToRow(fp domain.FlowPath) (flowPathRow, error) {
	hopsJSON, err := json.Marshal(fp.Hops)
	if err != nil {
		return flowPathRow{}, err
	}
	row := flowPathRow{
		PathID: fp.PathID, StartAddress: fp.StartAddress, EndAddress: fp.EndAddress,
		TokenMint: fp.TokenMint, HopsJSON: hopsJSON, TotalAmount: fp.TotalAmount,
		HopCount: fp.HopCount, ConfidenceScore: fp.ConfidenceScore,
		Intent: fp.Intent, RiskScore: fp.RiskScore,
	}
	if fp.RiskLevel != nil {
		s := string(*fp.RiskLevel)
		row.RiskLevel = &s
	}
	return row, nil
}

func (r flowPathRow) toDomain() (domain.FlowPath, error) {
	var hops []domain.PathNode
	if len(r.HopsJSON) > 0 {
		if err := json.Unmarshal(r.HopsJSON, &hops); err != nil {
			return domain.FlowPath{}, err
		}
	}
	fp := domain.FlowPath{
		PathID: r.PathID, StartAddress: r.StartAddress, EndAddress: r.EndAddress,
		TokenMint: r.TokenMint, Hops: hops, TotalAmount: r.TotalAmount,
		HopCount: r.HopCount, ConfidenceScore: r.ConfidenceScore,
		Intent: r.Intent, RiskScore: r.RiskScore,
	}
	if r.RiskLevel != nil {
		lvl := domain.RiskLevel(*r.RiskLevel)
		fp.RiskLevel = &lvl
	}
	return fp, nil
}
