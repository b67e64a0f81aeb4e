package database

import (
	"context"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

// InsertTransfers bulk-inserts parsed transfers, upserting on the natural
// key (signature, instruction_index) so re-ingesting the same transaction
// converges rather than duplicating rows.
func (c *Client) InsertTransfers(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	rows := make([]transferRow, len(transfers))
	for i, t := range transfers {
		rows[i] = transferToRow(t)
	}
	var result []transferRow
	_, err := c.sb.From("transfers").
		Upsert(rows, "signature,instruction_index", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: insert transfers: %w", err)
	}
	return nil
}

func (c *Client) ListTransfersFrom(ctx context.Context, address, tokenMint string, limit int) ([]domain.Transfer, error) {
	var rows []transferRow
	_, err := c.sb.From("transfers").Select("*", "", false).
		Eq("from_address", address).Eq("token_mint", tokenMint).
		Order("block_time", nil).Limit(limit, "").ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list transfers from %s: %w", address, err)
	}
	return rowsToTransfers(rows), nil
}

func (c *Client) ListTransfersTo(ctx context.Context, address, tokenMint string, limit int) ([]domain.Transfer, error) {
	var rows []transferRow
	_, err := c.sb.From("transfers").Select("*", "", false).
		Eq("to_address", address).Eq("token_mint", tokenMint).
		Order("block_time", nil).Limit(limit, "").ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list transfers to %s: %w", address, err)
	}
	return rowsToTransfers(rows), nil
}

func rowsToTransfers(rows []transferRow) []domain.Transfer {
	out := make([]domain.Transfer, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}
