package database

import (
	"context"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

// ListEntities returns every row of the entities table, used by
// entities.Registry.Reload to populate its process-wide read-through cache
// at startup.
func (c *Client) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	var rows []entityRow
	_, err := c.sb.From("entities").Select("*", "", false).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: list entities: %w", err)
	}
	out := make([]domain.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (c *Client) UpsertEntity(ctx context.Context, e domain.Entity) error {
	var result []entityRow
	_, err := c.sb.From("entities").Upsert(entityToRow(e), "address", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: upsert entity %s: %w", e.Address, err)
	}
	return nil
}
