package upstream

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
)

// decimalToAmount converts a decimal token amount reported by the upstream
// into an exact unsigned integer: amount = floor(tokenAmount * 10^decimals).
// This is the single point in the whole codebase where a floating-point
// token amount is turned into the exact integer type every other component
// operates on.
func decimalToAmount(tokenAmount float64, decimals int) *uint256.Int {
	if tokenAmount < 0 {
		tokenAmount = 0
	}

	// The shortest decimal form of tokenAmount is scaled exactly, so 0.000001
	// at 6 decimals gives 1 rather than the floor of its binary value.
	scaled, ok := new(big.Rat).SetString(strconv.FormatFloat(tokenAmount, 'f', -1, 64))
	if !ok {
		return uint256.NewInt(0)
	}
	scaled.Mul(scaled, new(big.Rat).SetInt(pow10(decimals)))

	floored := new(big.Int).Quo(scaled.Num(), scaled.Denom()) // truncation == floor for non-negatives
	amount, overflow := uint256.FromBig(floored)
	if overflow {
		return uint256.NewInt(0).SetAllOne()
	}
	return amount
}

func pow10(n int) *big.Int {
	if n < 0 {
		n = 0
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
