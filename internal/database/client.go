// Package database is the Persistence Adapter: a DAO surface over
// supabase-go (a PostgREST-style client) holding Users, Subscriptions,
// ApiKeys, Transactions, Transfers, FlowPaths, Entities, RiskFlags,
// WebhookEvents, and ApiUsageLogs.
package database

import (
	"fmt"

	supabase "github.com/supabase-community/supabase-go"
)

// Client wraps the Supabase Go client with the full set of DAO operations
// the Tenant Gate and the engines need.
type Client struct {
	sb *supabase.Client
}

// New creates a Client against url using the service-role key.
func New(url, serviceKey string) (*Client, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("database: SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("database: create client: %w", err)
	}
	return &Client{sb: client}, nil
}
