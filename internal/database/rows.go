package database

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/lewashby/tokenflow/internal/domain"
)

// Row types mirror the Postgres/PostgREST column naming (snake_case);
// converters translate to and from the shared domain types every engine
// operates on. Amounts are stored as decimal strings (Postgres numeric has
// no native uint128, and this keeps the database layer free of overflow
// concerns) and converted to uint256.Int only inside the process.

type userRow struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	FullName       string     `json:"full_name,omitempty"`
	CompanyName    string     `json:"company_name,omitempty"`
	Plan           string     `json:"plan"`
	Status         string     `json:"status"`
	ExternalUserID string     `json:"external_user_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID: r.ID, Email: r.Email, FullName: r.FullName, CompanyName: r.CompanyName,
		Plan: domain.Plan(r.Plan), Status: domain.UserStatus(r.Status),
		ExternalUserID: r.ExternalUserID, CreatedAt: r.CreatedAt, LastLoginAt: r.LastLoginAt,
	}
}

func userToRow(u domain.User) userRow {
	return userRow{
		ID: u.ID, Email: u.Email, FullName: u.FullName, CompanyName: u.CompanyName,
		Plan: string(u.Plan), Status: string(u.Status),
		ExternalUserID: u.ExternalUserID, CreatedAt: u.CreatedAt, LastLoginAt: u.LastLoginAt,
	}
}

type subscriptionRow struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Plan               string    `json:"plan"`
	MonthlyQuota       int64     `json:"monthly_quota"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	CurrentUsage       int64     `json:"current_usage"`
	BillingPeriodStart time.Time `json:"billing_period_start"`
	BillingPeriodEnd   time.Time `json:"billing_period_end"`
	Status             string    `json:"status"`
	PriceCents         int64     `json:"price_cents"`
}

func (r subscriptionRow) toDomain() domain.Subscription {
	return domain.Subscription{
		ID: r.ID, UserID: r.UserID, Plan: domain.Plan(r.Plan), MonthlyQuota: r.MonthlyQuota,
		RateLimitPerMinute: r.RateLimitPerMinute, CurrentUsage: r.CurrentUsage,
		BillingPeriodStart: r.BillingPeriodStart, BillingPeriodEnd: r.BillingPeriodEnd,
		Status: domain.SubscriptionStatus(r.Status), PriceCents: r.PriceCents,
	}
}

func subscriptionToRow(s domain.Subscription) subscriptionRow {
	return subscriptionRow{
		ID: s.ID, UserID: s.UserID, Plan: string(s.Plan), MonthlyQuota: s.MonthlyQuota,
		RateLimitPerMinute: s.RateLimitPerMinute, CurrentUsage: s.CurrentUsage,
		BillingPeriodStart: s.BillingPeriodStart, BillingPeriodEnd: s.BillingPeriodEnd,
		Status: string(s.Status), PriceCents: s.PriceCents,
	}
}

type apiKeyRow struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyHash    string     `json:"key_hash"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name,omitempty"`
	Active     bool       `json:"active"`
	TotalCalls int64      `json:"total_calls"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (r apiKeyRow) toDomain() domain.ApiKey {
	return domain.ApiKey{
		ID: r.ID, UserID: r.UserID, KeyHash: r.KeyHash, KeyPrefix: r.KeyPrefix, Name: r.Name,
		Active: r.Active, TotalCalls: r.TotalCalls, CreatedAt: r.CreatedAt,
		RevokedAt: r.RevokedAt, ExpiresAt: r.ExpiresAt,
	}
}

func apiKeyToRow(k domain.ApiKey) apiKeyRow {
	return apiKeyRow{
		ID: k.ID, UserID: k.UserID, KeyHash: k.KeyHash, KeyPrefix: k.KeyPrefix, Name: k.Name,
		Active: k.Active, TotalCalls: k.TotalCalls, CreatedAt: k.CreatedAt,
		RevokedAt: k.RevokedAt, ExpiresAt: k.ExpiresAt,
	}
}

type transferRow struct {
	Signature        string  `json:"signature"`
	FromAddress      string  `json:"from_address"`
	ToAddress        string  `json:"to_address"`
	TokenMint        string  `json:"token_mint"`
	Amount           string  `json:"amount"`
	Decimals         int     `json:"decimals"`
	InstructionIndex int     `json:"instruction_index"`
	BlockTime        int64   `json:"block_time"`
	TxType           string  `json:"tx_type"`
	SwapDirection    *string `json:"swap_direction,omitempty"`
}

func (r transferRow) toDomain() domain.Transfer {
	amt, err := uint256.FromDecimal(r.Amount)
	if err != nil {
		amt = uint256.NewInt(0)
	}
	t := domain.Transfer{
		Signature: r.Signature, FromAddress: r.FromAddress, ToAddress: r.ToAddress,
		TokenMint: r.TokenMint, Amount: amt, Decimals: r.Decimals,
		InstructionIndex: r.InstructionIndex, BlockTime: r.BlockTime, TxType: domain.TxType(r.TxType),
	}
	if r.SwapDirection != nil {
		d := domain.SwapDirection(*r.SwapDirection)
		t.SwapDirection = &d
	}
	return t
}

func transferToRow(t domain.Transfer) transferRow {
	r := transferRow{
		Signature: t.Signature, FromAddress: t.FromAddress, ToAddress: t.ToAddress,
		TokenMint: t.TokenMint, Amount: t.AmountString(), Decimals: t.Decimals,
		InstructionIndex: t.InstructionIndex, BlockTime: t.BlockTime, TxType: string(t.TxType),
	}
	if t.SwapDirection != nil {
		s := string(*t.SwapDirection)
		r.SwapDirection = &s
	}
	return r
}

type flowPathRow struct {
	PathID          string  `json:"path_id"`
	StartAddress    string  `json:"start_address"`
	EndAddress      string  `json:"end_address"`
	TokenMint       string  `json:"token_mint"`
	HopsJSON        []byte  `json:"hops"`
	TotalAmount     string  `json:"total_amount"`
	HopCount        int     `json:"hop_count"`
	ConfidenceScore float64 `json:"confidence_score"`
	Intent          *string `json:"intent,omitempty"`
	RiskScore       *int    `json:"risk_score,omitempty"`
	RiskLevel       *string `json:"risk_level,omitempty"`
}

type entityRow struct {
	Address    string         `json:"address"`
	EntityKind string         `json:"entity_kind"`
	Name       string         `json:"name,omitempty"`
	RiskLevel  string         `json:"risk_level"`
	RiskScore  int            `json:"risk_score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (r entityRow) toDomain() domain.Entity {
	return domain.Entity{
		Address: r.Address, EntityKind: domain.EntityKind(r.EntityKind), Name: r.Name,
		RiskLevel: domain.RiskLevel(r.RiskLevel), RiskScore: r.RiskScore, Metadata: r.Metadata,
	}
}

func entityToRow(e domain.Entity) entityRow {
	return entityRow{
		Address: e.Address, EntityKind: string(e.EntityKind), Name: e.Name,
		RiskLevel: string(e.RiskLevel), RiskScore: e.RiskScore, Metadata: e.Metadata,
	}
}

type riskFlagRow struct {
	ID        string         `json:"id,omitempty"`
	Address   string         `json:"address"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type webhookEventRow struct {
	ID           string     `json:"id,omitempty"`
	Source       string     `json:"source"`
	EventType    string     `json:"event_type"`
	ExternalID   string     `json:"external_event_id,omitempty"`
	Payload      []byte     `json:"payload"`
	ReceivedAt   time.Time  `json:"received_at"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (r webhookEventRow) toDomain() domain.WebhookEvent {
	return domain.WebhookEvent{
		ID: r.ID, Source: r.Source, EventType: r.EventType, ExternalID: r.ExternalID,
		Payload: r.Payload, ReceivedAt: r.ReceivedAt, Processed: r.Processed,
		ProcessedAt: r.ProcessedAt, ErrorMessage: r.ErrorMessage,
	}
}

func webhookEventToRow(e domain.WebhookEvent) webhookEventRow {
	return webhookEventRow{
		ID: e.ID, Source: e.Source, EventType: e.EventType, ExternalID: e.ExternalID,
		Payload: e.Payload, ReceivedAt: e.ReceivedAt, Processed: e.Processed,
		ProcessedAt: e.ProcessedAt, ErrorMessage: e.ErrorMessage,
	}
}

type apiUsageLogRow struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	ApiKeyID       string    `json:"api_key_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func (r apiUsageLogRow) toDomain() domain.ApiUsageLog {
	return domain.ApiUsageLog{
		ID: r.ID, UserID: r.UserID, ApiKeyID: r.ApiKeyID, Endpoint: r.Endpoint, Method: r.Method,
		StatusCode: r.StatusCode, ResponseTimeMs: r.ResponseTimeMs, UserAgent: r.UserAgent,
		IPAddress: r.IPAddress, RequestID: r.RequestID, Timestamp: r.Timestamp,
	}
}

func apiUsageLogToRow(l domain.ApiUsageLog) apiUsageLogRow {
	return apiUsageLogRow{
		ID: l.ID, UserID: l.UserID, ApiKeyID: l.ApiKeyID, Endpoint: l.Endpoint, Method: l.Method,
		StatusCode: l.StatusCode, ResponseTimeMs: l.ResponseTimeMs, UserAgent: l.UserAgent,
		IPAddress: l.IPAddress, RequestID: l.RequestID, Timestamp: l.Timestamp,
	}
}
