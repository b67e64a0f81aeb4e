package flowgraph

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/lewashby/tokenflow/internal/domain"
)

type graphEdge struct {
	To     string
	Amount *uint256.Int
}

// DetectCircularFlows builds a bounded adjacency map from address's
// outgoing transfers and those of everything it reaches, then runs DFS
// looking for any path that returns to address with length > 2.
func (e *Engine) DetectCircularFlows(ctx context.Context, address, tokenMint string) ([]domain.CircularFlow, error) {
	adj, err := e.buildAdjacency(ctx, address, tokenMint)
	if err != nil {
		return nil, err
	}
	return findCycles(adj, address), nil
}

func (e *Engine) buildAdjacency(ctx context.Context, origin, tokenMint string) (map[string][]graphEdge, error) {
	adj := make(map[string][]graphEdge)
	visited := map[string]bool{origin: true}
	queue := []struct {
		address string
		depth   int
	}{{origin, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		transfers, err := e.upstream.GetTokenTransfers(ctx, cur.address, tokenMint, perNodeFetchLimit)
		if err != nil {
			return nil, fmt.Errorf("flowgraph: build adjacency at %s: %w", cur.address, err)
		}

		hops := aggregateHops(transfers, cur.address, forward, TimeRange{})
		for _, hop := range hops {
			adj[cur.address] = append(adj[cur.address], graphEdge{To: hop.Address, Amount: hop.Amount})
			if cur.depth+1 >= hardMaxDepth || len(visited) > maxVisitedPerQuery {
				continue
			}
			if !visited[hop.Address] {
				visited[hop.Address] = true
				queue = append(queue, struct {
					address string
					depth   int
				}{hop.Address, cur.depth + 1})
			}
		}
	}
	return adj, nil
}

// findCycles runs DFS from origin over adj, recording every distinct walk
// back to origin of length > 2 as a CircularFlow. The in-progress path and
// its visited set are recursion-local (pushed on entry, popped on exit).
func findCycles(adj map[string][]graphEdge, origin string) []domain.CircularFlow {
	var cycles []domain.CircularFlow
	visited := map[string]bool{origin: true}
	path := []string{origin}
	var amounts []*uint256.Int

	var dfs func(current string, depth int)
	dfs = func(current string, depth int) {
		if depth >= hardMaxDepth {
			return
		}
		for _, edge := range adj[current] {
			if edge.To == origin {
				if len(path) > 2 {
					cycles = append(cycles, buildCircularFlow(path, amounts, edge.Amount))
				}
				continue
			}
			if visited[edge.To] {
				continue
			}
			visited[edge.To] = true
			path = append(path, edge.To)
			amounts = append(amounts, edge.Amount)

			dfs(edge.To, depth+1)

			amounts = amounts[:len(amounts)-1]
			path = path[:len(path)-1]
			visited[edge.To] = false
		}
	}
	dfs(origin, 0)
	return cycles
}

func buildCircularFlow(path []string, edgeAmounts []*uint256.Int, closingAmount *uint256.Int) domain.CircularFlow {
	addresses := make([]string, len(path)+1)
	copy(addresses, path)
	addresses[len(path)] = path[0]

	total := new(uint256.Int)
	for _, a := range edgeAmounts {
		total.Add(total, a)
	}
	total.Add(total, closingAmount)

	return domain.CircularFlow{
		Addresses:   addresses,
		TotalAmount: total.Dec(),
		CycleCount:  len(addresses) - 1,
	}
}
