package database

import (
	"context"
	"fmt"

	"github.com/lewashby/tokenflow/internal/domain"
)

func (c *Client) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var rows []userRow
	_, err := c.sb.From("users").Select("*", "", false).Eq("id", id).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get user %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rows[0].toDomain()
	return &u, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var rows []userRow
	_, err := c.sb.From("users").Select("*", "", false).Eq("email", email).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get user by email: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rows[0].toDomain()
	return &u, nil
}

func (c *Client) GetUserByExternalID(ctx context.Context, externalUserID string) (*domain.User, error) {
	var rows []userRow
	_, err := c.sb.From("users").Select("*", "", false).Eq("external_user_id", externalUserID).ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("database: get user by external id: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := rows[0].toDomain()
	return &u, nil
}

func (c *Client) CreateUser(ctx context.Context, u domain.User) error {
	var result []userRow
	_, err := c.sb.From("users").Insert(userToRow(u), false, "", "", "").ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: create user: %w", err)
	}
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, u domain.User) error {
	var result []userRow
	_, err := c.sb.From("users").Update(userToRow(u), "", "").Eq("id", u.ID).ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("database: update user %s: %w", u.ID, err)
	}
	return nil
}
