// Package domain holds the data model shared by every engine: the
// immutable on-chain records (Transfer, ParsedTransaction), the derived
// analytics records (PathNode, FlowPath, CircularFlow, Entity,
// RiskAssessment), and the tenant model (User, Subscription, ApiKey,
// WebhookEvent). Amounts are represented as exact unsigned 128-bit
// integers via uint256.Int, never as floating point.
package domain

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// TxType classifies a transaction relative to a target token mint.
type TxType string

const (
	TxTypeTransfer TxType = "transfer"
	TxTypeSwap     TxType = "swap"
	TxTypeUnknown  TxType = "unknown"
)

// SwapDirection is the direction of a swap relative to the fee-payer.
type SwapDirection string

const (
	SwapDirectionBuy  SwapDirection = "buy"
	SwapDirectionSell SwapDirection = "sell"
)

// SwapInfo carries the swap metadata extracted by the Activity Classifier.
type SwapInfo struct {
	DEXName   string `json:"dexName,omitempty"`
	TokenIn   string `json:"tokenIn,omitempty"`
	TokenOut  string `json:"tokenOut,omitempty"`
	AmountIn  string `json:"amountIn,omitempty"`
	AmountOut string `json:"amountOut,omitempty"`
}

// Transfer is an immutable, once-parsed token movement. fromAddress ==
// toAddress is legal (self-transfers are not excluded).
type Transfer struct {
	Signature        string         `json:"signature"`
	FromAddress      string         `json:"fromAddress"`
	ToAddress        string         `json:"toAddress"`
	TokenMint        string         `json:"tokenMint"`
	Amount           *uint256.Int   `json:"-"`
	Decimals         int            `json:"decimals"`
	InstructionIndex int            `json:"instructionIndex"`
	BlockTime        int64          `json:"blockTime"`
	TxType           TxType         `json:"txType"`
	SwapDirection    *SwapDirection `json:"swapDirection,omitempty"`
	SwapInfo         *SwapInfo      `json:"swapInfo,omitempty"`
}

// AmountString renders Amount as a base-10 decimal string, defaulting to
// "0" when Amount is nil.
func (t Transfer) AmountString() string {
	if t.Amount == nil {
		return "0"
	}
	return t.Amount.Dec()
}

// MarshalJSON renders Amount as a decimal string so Transfers survive the
// JSON cache round-trip and API responses carry the exact integer value.
func (t Transfer) MarshalJSON() ([]byte, error) {
	type alias Transfer
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(t), t.AmountString()})
}

func (t *Transfer) UnmarshalJSON(b []byte) error {
	type alias Transfer
	aux := struct {
		*alias
		Amount string `json:"amount"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Amount != "" {
		amt, err := uint256.FromDecimal(aux.Amount)
		if err != nil {
			return err
		}
		t.Amount = amt
	}
	return nil
}

// Account is a single ordered account reference in a ParsedTransaction.
type Account struct {
	Address  string `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// ParsedTransaction is the upstream's enhanced-transaction shape, reduced to
// the fields the engines need.
type ParsedTransaction struct {
	Signature    string        `json:"signature"`
	BlockTime    int64         `json:"blockTime"`
	Slot         uint64        `json:"slot"`
	Fee          uint64        `json:"fee"`
	Success      bool          `json:"success"`
	Accounts     []Account     `json:"accounts"`
	Instructions []Instruction `json:"instructions"`

	// Raw upstream fields consumed by the Activity Classifier.
	UpstreamType    string           `json:"type,omitempty"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers,omitempty"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers,omitempty"`
	Events          TxEvents         `json:"events,omitempty"`
}

// Instruction is an opaque structured instruction entry.
type Instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []string      `json:"accounts"`
	Data      string        `json:"data,omitempty"`
	Inner     []Instruction `json:"innerInstructions,omitempty"`
}

// TokenTransfer is one upstream-reported SPL token movement within a tx.
type TokenTransfer struct {
	Mint        string  `json:"mint"`
	FromAddress string  `json:"fromUserAccount"`
	ToAddress   string  `json:"toUserAccount"`
	TokenAmount float64 `json:"tokenAmount"`
	Decimals    int     `json:"decimals"`
}

// NativeTransfer is a native SOL movement reported by the upstream.
type NativeTransfer struct {
	FromAddress string `json:"fromUserAccount"`
	ToAddress   string `json:"toUserAccount"`
	Amount      uint64 `json:"amount"`
}

// TxEvents carries the optional upstream "swap" event discriminant.
type TxEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// SwapEvent is the upstream's decoded swap, when present.
type SwapEvent struct {
	TokenInputs  []SwapLeg `json:"tokenInputs,omitempty"`
	TokenOutputs []SwapLeg `json:"tokenOutputs,omitempty"`
}

// SwapLeg is one side (in or out) of a decoded swap event.
type SwapLeg struct {
	Mint        string  `json:"mint"`
	Amount      float64 `json:"tokenAmount"`
	UserAccount string  `json:"userAccount"`
}

// PathNode is one hop of a reconstructed FlowPath. AmountIn/AmountOut are
// decimal strings of a 128-bit integer.
type PathNode struct {
	Address    string `json:"address"`
	EntityKind string `json:"entityKind,omitempty"`
	EntityName string `json:"entityName,omitempty"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
	Timestamp  *int64 `json:"timestamp,omitempty"`
}

// RiskLevel is the derived severity band for a RiskAssessment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DeriveRiskLevel maps a clamped [0,100] score to its band.
func DeriveRiskLevel(score int) RiskLevel {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// FlowPath is a reconstructed token-flow path.
type FlowPath struct {
	PathID           string     `json:"pathId"`
	StartAddress     string     `json:"startAddress"`
	EndAddress       string     `json:"endAddress"`
	TokenMint        string     `json:"tokenMint"`
	Hops             []PathNode `json:"hops"`
	TotalAmount      string     `json:"totalAmount"`
	HopCount         int        `json:"hopCount"`
	ConfidenceScore  float64    `json:"confidenceScore"`
	Intent           *string    `json:"intent,omitempty"`
	IntentConfidence *float64   `json:"intentConfidence,omitempty"`
	RiskScore        *int       `json:"riskScore,omitempty"`
	RiskLevel        *RiskLevel `json:"riskLevel,omitempty"`
}

// CircularFlow is a detected cycle in the directed transfer graph.
// Invariant: addresses[0] == addresses[len-1] and len(addresses) > 2.
type CircularFlow struct {
	Addresses   []string `json:"addresses"`
	TotalAmount string   `json:"totalAmount"`
	CycleCount  int      `json:"cycleCount"`
}

// EntityKind is the semantic role of an address.
type EntityKind string

const (
	EntityDEX        EntityKind = "dex"
	EntityBridge     EntityKind = "bridge"
	EntityLending    EntityKind = "lending"
	EntityMixer      EntityKind = "mixer"
	EntitySanctioned EntityKind = "sanctioned"
	EntityWallet     EntityKind = "wallet"
	EntityPool       EntityKind = "pool"
)

// Entity is a known or observed address with a semantic role.
type Entity struct {
	Address    string         `json:"address"`
	EntityKind EntityKind     `json:"entityKind"`
	Name       string         `json:"name,omitempty"`
	RiskLevel  RiskLevel      `json:"riskLevel"`
	RiskScore  int            `json:"riskScore"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RiskFlagType enumerates the kinds of findings a RiskAssessment can carry.
type RiskFlagType string

const (
	FlagSanctionedDirect RiskFlagType = "sanctioned_direct"
	FlagSanctionedNear   RiskFlagType = "sanctioned_proximity"
	FlagMixerNear        RiskFlagType = "mixer_proximity"
	FlagPeelChain        RiskFlagType = "peel_chain"
	FlagCircularFlow     RiskFlagType = "circular_flow"
	FlagVelocity         RiskFlagType = "velocity"
)

// RiskFlagSeverity is critical for hard findings, warning for soft ones.
type RiskFlagSeverity string

const (
	SeverityCritical RiskFlagSeverity = "critical"
	SeverityWarning  RiskFlagSeverity = "warning"
)

// RiskFlag is one finding contributing to a RiskAssessment.
type RiskFlag struct {
	Type     RiskFlagType     `json:"type"`
	Severity RiskFlagSeverity `json:"severity"`
	Detail   map[string]any   `json:"detail,omitempty"`
}

// RiskAssessment is the outcome of the Risk Scoring Engine for one address.
type RiskAssessment struct {
	Address      string     `json:"address"`
	RiskScore    int        `json:"riskScore"`
	RiskLevel    RiskLevel  `json:"riskLevel"`
	Flags        []RiskFlag `json:"flags"`
	LastAssessed time.Time  `json:"lastAssessed"`
}

// Plan is the subscription tier.
type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// UserStatus is the lifecycle state of a User.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserCancelled UserStatus = "cancelled"
	UserExpired   UserStatus = "expired"
)

// User is a tenant account.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	FullName       string     `json:"fullName,omitempty"`
	CompanyName    string     `json:"companyName,omitempty"`
	Plan           Plan       `json:"plan"`
	Status         UserStatus `json:"status"`
	ExternalUserID string     `json:"externalUserId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
}

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription is the billing/quota record for a User. At most one
// status=active row may exist per user.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	Plan               Plan               `json:"plan"`
	MonthlyQuota       int64              `json:"monthlyQuota"`
	RateLimitPerMinute int                `json:"rateLimitPerMinute"`
	CurrentUsage       int64              `json:"currentUsage"`
	BillingPeriodStart time.Time          `json:"billingPeriodStart"`
	BillingPeriodEnd   time.Time          `json:"billingPeriodEnd"`
	Status             SubscriptionStatus `json:"status"`
	PriceCents         int64              `json:"priceCents"`
}

// ApiKey is a tenant's hashed credential. The raw key is never persisted.
type ApiKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"keyPrefix"`
	Name       string     `json:"name,omitempty"`
	Active     bool       `json:"active"`
	TotalCalls int64      `json:"totalCalls"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// WebhookEvent is an append-only audit log row for an inbound webhook.
type WebhookEvent struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	EventType    string     `json:"eventType"`
	ExternalID   string     `json:"externalEventId,omitempty"`
	Payload      []byte     `json:"-"`
	ReceivedAt   time.Time  `json:"receivedAt"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ApiUsageLog is one request's accounting record.
type ApiUsageLog struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ApiKeyID       string    `json:"apiKeyId"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	UserAgent      string    `json:"userAgent,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	RequestID      string    `json:"requestId"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlanCatalogEntry is one row of the authoritative plan catalog.
type PlanCatalogEntry struct {
	Plan               Plan
	MonthlyQuota       int64
	RateLimitPerMinute int
	PriceCents         int64
}

// PlanCatalog is the seed catalog; new plans are deployment configuration,
// not code, but the three named tiers are contractual.
var PlanCatalog = map[Plan]PlanCatalogEntry{
	PlanStarter:    {Plan: PlanStarter, MonthlyQuota: 1000, RateLimitPerMinute: 10, PriceCents: 1000},
	PlanPro:        {Plan: PlanPro, MonthlyQuota: 10000, RateLimitPerMinute: 60, PriceCents: 5000},
	PlanEnterprise: {Plan: PlanEnterprise, MonthlyQuota: 100000, RateLimitPerMinute: 600, PriceCents: 20000},
}
