// Package soladdr validates the base58 address, mint, and signature grammar
// the HTTP Surface enforces before any handler logic runs. Decimal token
// amount conversion is not part of this package.
package soladdr

import (
	"errors"

	"github.com/mr-tron/base58"
)

// ErrInvalidGrammar is returned when a value does not match the expected
// base58 alphabet and length bounds.
var ErrInvalidGrammar = errors.New("soladdr: invalid base58 grammar")

const bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IsAddress reports whether s is a syntactically valid address or mint:
// base58, 32-44 characters from the Bitcoin alphabet.
func IsAddress(s string) bool {
	return validBase58(s, 32, 44)
}

// IsSignature reports whether s is a syntactically valid transaction
// signature: base58, 87-88 characters.
func IsSignature(s string) bool {
	return validBase58(s, 87, 88)
}

// ValidateAddress returns ErrInvalidGrammar if s is not a valid address/mint.
func ValidateAddress(s string) error {
	if !IsAddress(s) {
		return ErrInvalidGrammar
	}
	return nil
}

// ValidateSignature returns ErrInvalidGrammar if s is not a valid signature.
func ValidateSignature(s string) error {
	if !IsSignature(s) {
		return ErrInvalidGrammar
	}
	return nil
}

func validBase58(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if !isBitcoinAlphabetRune(r) {
			return false
		}
	}
	// base58.Decode validates checksum-free alphabet membership and also
	// catches any runes the manual scan above missed due to multi-byte UTF-8.
	_, err := base58.Decode(s)
	return err == nil
}

func isBitcoinAlphabetRune(r rune) bool {
	for _, a := range bitcoinAlphabet {
		if a == r {
			return true
		}
	}
	return false
}
