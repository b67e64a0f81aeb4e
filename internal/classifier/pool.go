package classifier

import "github.com/lewashby/tokenflow/internal/domain"

const (
	poolMinCounterparties    = 10
	poolMinSwapParticipation = 5
)

type addressStats struct {
	counterparties map[string]struct{}
	swapCount      int
}

// DetectLiquidityPools scans a batch of transfers for the given token and
// returns the set of addresses that look like liquidity-pool hubs: at
// least 10 unique counterparties and at least 5 swap participations.
// Pure: it does not mutate the Entity Registry.
func DetectLiquidityPools(transfers []domain.Transfer) map[string]bool {
	stats := make(map[string]*addressStats)

	ensure := func(addr string) *addressStats {
		s, ok := stats[addr]
		if !ok {
			s = &addressStats{counterparties: make(map[string]struct{})}
			stats[addr] = s
		}
		return s
	}

	for _, t := range transfers {
		from := ensure(t.FromAddress)
		from.counterparties[t.ToAddress] = struct{}{}
		to := ensure(t.ToAddress)
		to.counterparties[t.FromAddress] = struct{}{}

		if t.TxType == domain.TxTypeSwap {
			from.swapCount++
			to.swapCount++
		}
	}

	pools := make(map[string]bool, len(stats))
	for addr, s := range stats {
		if len(s.counterparties) >= poolMinCounterparties && s.swapCount >= poolMinSwapParticipation {
			pools[addr] = true
		}
	}
	return pools
}
