// Package classifier implements the Activity Classifier: deterministic,
// side-effect-free heuristics that label a transaction as transfer or swap,
// infer swap direction, extract swap metadata, and flag likely
// liquidity-pool hub addresses from a batch of transfers.
package classifier

import (
	"strconv"
	"strings"

	"github.com/lewashby/tokenflow/internal/domain"
)

// wrappedSOLMint is the canonical wrapped-SOL mint excluded from
// significant-mint counting below its dust threshold.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

const dustWrappedSOLAmount = 0.1

// knownDEXPrograms seeds the program-ID set used for swap-metadata DEX
// attribution.
var knownDEXPrograms = map[string]string{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": "Raydium",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  "Orca",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  "Jupiter",
}

// RegisterDEXProgram allows the composition root to extend the known-DEX
// set from the Entity Registry's seed table at startup, keeping the
// classifier's attribution in sync with ops-maintained configuration.
func RegisterDEXProgram(programID, name string) {
	knownDEXPrograms[programID] = name
}

// ClassifyTxType labels tx as transfer, swap, or unknown relative to
// target mint T.
func ClassifyTxType(tx domain.ParsedTransaction, targetMint string) domain.TxType {
	significant := significantMints(tx)

	if strings.EqualFold(tx.UpstreamType, "TRANSFER") {
		return domain.TxTypeTransfer
	}
	if len(significant) < 2 {
		// Even an upstream-tagged SWAP is a transfer for T when only one
		// mint actually moved.
		return domain.TxTypeTransfer
	}
	if tx.Events.Swap != nil || strings.Contains(strings.ToUpper(tx.UpstreamType), "SWAP") || len(significant) >= 2 {
		return domain.TxTypeSwap
	}
	return domain.TxTypeUnknown
}

// significantMints returns the distinct mints moved in tx, excluding
// dust wrapped-SOL transfers (<= 0.1).
func significantMints(tx domain.ParsedTransaction) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tt := range tx.TokenTransfers {
		if tt.Mint == wrappedSOLMint && tt.TokenAmount <= dustWrappedSOLAmount {
			continue
		}
		set[tt.Mint] = struct{}{}
	}
	return set
}

// feePayer returns the first writable signer account, the upstream's
// convention for identifying the fee-payer.
func feePayer(tx domain.ParsedTransaction) string {
	for _, a := range tx.Accounts {
		if a.Signer && a.Writable {
			return a.Address
		}
	}
	for _, a := range tx.Accounts {
		if a.Signer {
			return a.Address
		}
	}
	return ""
}

// SwapDirection infers buy/sell relative to targetMint from the fee-payer's
// side of the matching transfer.
// Returns nil when direction cannot be determined.
func SwapDirection(tx domain.ParsedTransaction, targetMint string) *domain.SwapDirection {
	payer := feePayer(tx)
	if payer == "" {
		return nil
	}

	for _, tt := range tx.TokenTransfers {
		if tt.Mint != targetMint {
			continue
		}
		if tt.ToAddress == payer {
			d := domain.SwapDirectionBuy
			return &d
		}
		if tt.FromAddress == payer {
			d := domain.SwapDirectionSell
			return &d
		}
	}

	if tx.Events.Swap != nil {
		for _, leg := range tx.Events.Swap.TokenOutputs {
			if leg.Mint == targetMint && leg.UserAccount == payer {
				d := domain.SwapDirectionBuy
				return &d
			}
		}
		for _, leg := range tx.Events.Swap.TokenInputs {
			if leg.Mint == targetMint && leg.UserAccount == payer {
				d := domain.SwapDirectionSell
				return &d
			}
		}
	}

	if len(tx.NativeTransfers) > 0 {
		first := tx.NativeTransfers[0]
		if first.FromAddress == payer {
			d := domain.SwapDirectionSell
			return &d
		}
		if first.ToAddress == payer {
			d := domain.SwapDirectionBuy
			return &d
		}
	}

	return nil
}

// ExtractSwapInfo builds the SwapInfo for a swap transaction: DEX name from
// the known program set (falling back to account-key matching), and
// tokenIn/tokenOut/amountIn/amountOut from the swap event when present.
func ExtractSwapInfo(tx domain.ParsedTransaction) *domain.SwapInfo {
	info := &domain.SwapInfo{}

	info.DEXName = findDEXByProgramID(tx.Instructions)
	if info.DEXName == "" {
		info.DEXName = findDEXByAccounts(tx.Accounts)
	}

	if tx.Events.Swap != nil {
		if len(tx.Events.Swap.TokenInputs) > 0 {
			leg := tx.Events.Swap.TokenInputs[0]
			info.TokenIn = leg.Mint
			info.AmountIn = formatFloat(leg.Amount)
		}
		if len(tx.Events.Swap.TokenOutputs) > 0 {
			leg := tx.Events.Swap.TokenOutputs[0]
			info.TokenOut = leg.Mint
			info.AmountOut = formatFloat(leg.Amount)
		}
	}

	if info.DEXName == "" && info.TokenIn == "" && info.TokenOut == "" {
		return nil
	}
	return info
}

func findDEXByProgramID(instructions []domain.Instruction) string {
	for _, ix := range instructions {
		if name, ok := knownDEXPrograms[ix.ProgramID]; ok {
			return name
		}
		if name := findDEXByProgramID(ix.Inner); name != "" {
			return name
		}
	}
	return ""
}

func findDEXByAccounts(accounts []domain.Account) string {
	for _, a := range accounts {
		if name, ok := knownDEXPrograms[a.Address]; ok {
			return name
		}
	}
	return ""
}

// formatFloat renders a swap-event amount as display metadata. This is not
// the exact Transfer.Amount arithmetic path (that conversion happens once
// at the Upstream Adapter boundary using uint256).
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
