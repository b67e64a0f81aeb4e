package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

type transactionRow struct {
	Signature string `json:"signature"`
	BlockTime int64  `json:"block_time"`
	Slot      uint64 `json:"slot"`
	Fee       uint64 `json:"fee"`
	Success   bool   `json:"success"`
	RawJSON   []byte `json:"raw"`
}

// InsertTransaction persists the raw parsed transaction, primarily as an
// audit trail alongside the Cache's
// short-TTL copy; ingestion failures here must not block the response, so
// callers treat this as best-effort.
func (c *Client) InsertTransaction(ctx context.Context, tx domain.ParsedTransaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("database: marshal transaction %s: %w", tx.Signature, err)
	}
	row := transactionRow{
		Signature: tx.Signature, BlockTime: tx.BlockTime, Slot: tx.Slot,
		Fee: tx.Fee, Success: tx.Success, RawJSON: raw,
	}
	var result []transactionRow
	_, err = c.sb.From("transactions").Upsert(row, "signature", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: insert transaction %s: %w", tx.Signature, err)
	}
	return nil
}

func (c *Client) GetTransaction(ctx context.Context, signature string) (*domain.ParsedTransaction, error) {
	var rows []transactionRow
	_, err := c.sb.From("transactions").Select("*", "", false).Eq("signature", signature).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get transaction %s: %w", signature, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var tx domain.ParsedTransaction
	if err := json.Unmarshal(rows[0].RawJSON, &tx); err != nil {
		return nil, fmt.Errorf("database: unmarshal transaction %s: %w", signature, err)
	}
	return &tx, nil
}
