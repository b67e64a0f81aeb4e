package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewashby/tokenflow/internal/domain"
)

const targetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func TestClassifyTxType(t *testing.T) {
	cases := []struct {
		name string
		tx   domain.ParsedTransaction
		want domain.TxType
	}{
		{
			name: "upstream tagged transfer wins outright",
			tx: domain.ParsedTransaction{
				UpstreamType: "TRANSFER",
				TokenTransfers: []domain.TokenTransfer{
					{Mint: targetMint, TokenAmount: 5}, {Mint: "USDC", TokenAmount: 5},
				},
			},
			want: domain.TxTypeTransfer,
		},
		{
			name: "single significant mint is a transfer even if tagged SWAP",
			tx: domain.ParsedTransaction{
				UpstreamType:   "SWAP",
				TokenTransfers: []domain.TokenTransfer{{Mint: targetMint, TokenAmount: 100}},
			},
			want: domain.TxTypeTransfer,
		},
		{
			name: "dust wrapped-SOL leg does not count toward significant mints",
			tx: domain.ParsedTransaction{
				UpstreamType: "SWAP",
				TokenTransfers: []domain.TokenTransfer{
					{Mint: targetMint, TokenAmount: 100},
					{Mint: wrappedSOLMint, TokenAmount: 0.05},
				},
			},
			want: domain.TxTypeTransfer,
		},
		{
			name: "two significant mints with swap event is a swap",
			tx: domain.ParsedTransaction{
				TokenTransfers: []domain.TokenTransfer{
					{Mint: targetMint, TokenAmount: 100}, {Mint: "USDC", TokenAmount: 5},
				},
				Events: domain.TxEvents{Swap: &domain.SwapEvent{}},
			},
			want: domain.TxTypeSwap,
		},
		{
			name: "two significant mints without swap markers still classifies as swap",
			tx: domain.ParsedTransaction{
				TokenTransfers: []domain.TokenTransfer{
					{Mint: targetMint, TokenAmount: 100}, {Mint: "USDC", TokenAmount: 5},
				},
			},
			want: domain.TxTypeSwap,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyTxType(tc.tx, targetMint)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSwapDirection(t *testing.T) {
	tx := domain.ParsedTransaction{
		Accounts: []domain.Account{{Address: "user", Signer: true, Writable: true}},
		TokenTransfers: []domain.TokenTransfer{
			{Mint: targetMint, FromAddress: "pool", ToAddress: "user", TokenAmount: 100},
			{Mint: "USDC", FromAddress: "user", ToAddress: "pool", TokenAmount: 5},
		},
	}

	dir := SwapDirection(tx, targetMint)
	require.NotNil(t, dir)
	assert.Equal(t, domain.SwapDirectionBuy, *dir)
}

func TestDetectLiquidityPools(t *testing.T) {
	transfers := make([]domain.Transfer, 0, 20)
	for i := 0; i < 10; i++ {
		transfers = append(transfers, domain.Transfer{
			FromAddress: "pool",
			ToAddress:   "user" + string(rune('a'+i)),
			TxType:      domain.TxTypeSwap,
		})
	}
	// All 10 transfers above are swaps with distinct counterparties; add one
	// non-swap transfer to an eleventh counterparty too.
	transfers = append(transfers, domain.Transfer{FromAddress: "pool", ToAddress: "userz", TxType: domain.TxTypeTransfer})

	pools := DetectLiquidityPools(transfers)
	assert.True(t, pools["pool"])
	assert.False(t, pools["usera"])
}
