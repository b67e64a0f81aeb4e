package entities

import "github.com/lewashby/tokenflow/internal/domain"

// KnownPrograms is the default seed table of well-known Solana program IDs.
// It is deliberately small and illustrative: in a real
// deployment this table is operational configuration appended to by ops,
// not a compiled constant, which is why SeedKnownPrograms accepts an
// arbitrary slice rather than always using this one.
var KnownPrograms = []domain.Entity{
	{Address: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", EntityKind: domain.EntityDEX, Name: "Raydium AMM", RiskLevel: domain.RiskLow},
	{Address: "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc", EntityKind: domain.EntityDEX, Name: "Orca Whirlpool", RiskLevel: domain.RiskLow},
	{Address: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", EntityKind: domain.EntityDEX, Name: "Jupiter Aggregator", RiskLevel: domain.RiskLow},
	{Address: "wormDTUJ6AWPNvk4WGND9TqpBAqGGnY4GGgzHrVxy9", EntityKind: domain.EntityBridge, Name: "Wormhole", RiskLevel: domain.RiskLow},
	{Address: "4MangoMjqJ2firMokCjjGgoK8d4MXcrgL7XJaL3w6fVe", EntityKind: domain.EntityLending, Name: "Mango Markets", RiskLevel: domain.RiskLow},
	{Address: "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo", EntityKind: domain.EntityLending, Name: "Solend", RiskLevel: domain.RiskLow},
}
