package soladdr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAddress(t *testing.T) {
	valid := strings.Repeat("1", 32)
	assert.True(t, IsAddress(valid))
	assert.False(t, IsAddress(strings.Repeat("1", 31)))
	assert.False(t, IsAddress(strings.Repeat("1", 45)))
	assert.False(t, IsAddress("not-base58-!!!"))
}

func TestIsSignature(t *testing.T) {
	assert.True(t, IsSignature(strings.Repeat("2", 87)))
	assert.True(t, IsSignature(strings.Repeat("2", 88)))
	assert.False(t, IsSignature(strings.Repeat("2", 86)))
	assert.False(t, IsSignature(strings.Repeat("2", 89)))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(strings.Repeat("9", 32)))
	assert.ErrorIs(t, ValidateAddress("0"), ErrInvalidGrammar)
}
