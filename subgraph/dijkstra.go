package subgraph

import (
	"container/heap"
	"math/big"

	"github.com/defistate/defistate-pricing-go/bitset"
)

type queueItem struct {
	node uint16
	cost *big.Rat
	// insertion order; equal costs pop first-found first
	seq uint64
}

type priorityQueue []queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if c := pq[i].cost.Cmp(pq[j].cost); c != 0 {
		return c < 0
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(queueItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// nodePrices runs the liquidity-weighted search from the start node. The
// result holds, per node, how many units of that token one unit of the start
// token buys, or nil for nodes the search could not price. The search stops
// once target is settled; pass -1 to settle every reachable node.
//
// A hop's cost is the reciprocal of the liquidity it offers, valued in start
// tokens: tvlIn at the price of its input node plus tvlOut at the price of its
// output node. Path cost is the sum of hop costs, so deep paths are cheap.
func (g *PairSubGraph) nodePrices(state StateReader, target int) []*big.Rat {
	n := len(g.tokens)
	prices := make([]*big.Rat, n)
	costs := make([]*big.Rat, n)
	settled := bitset.NewBitSet(uint64(n))

	prices[g.startNode] = big.NewRat(1, 1)
	costs[g.startNode] = new(big.Rat)

	pq := &priorityQueue{{node: g.startNode, cost: costs[g.startNode]}}
	var seq uint64 = 1

	for pq.Len() > 0 {
		item := heap.Pop(pq).(queueItem)
		u := item.node
		if settled.TestAndSet(uint64(u)) {
			continue
		}
		if int(u) == target {
			break
		}

		for _, h := range g.adjacency[u] {
			v := h.target
			if settled.IsSet(uint64(v)) {
				continue
			}
			quote, ok := quoteHop(h.edges, state, g.tokens[u])
			if !ok {
				continue
			}

			price := new(big.Rat).Mul(prices[u], quote.price)
			liquidity := new(big.Rat).Quo(quote.tvlIn, prices[u])
			liquidity.Add(liquidity, new(big.Rat).Quo(quote.tvlOut, price))
			if liquidity.Sign() <= 0 {
				continue
			}

			cost := liquidity.Inv(liquidity)
			cost.Add(cost, costs[u])
			if costs[v] != nil && cost.Cmp(costs[v]) >= 0 {
				continue
			}
			costs[v] = cost
			prices[v] = price
			heap.Push(pq, queueItem{node: v, cost: cost, seq: seq})
			seq++
		}
	}
	return prices
}

// FetchPrice returns how many end tokens one start token is worth at the given
// state. ok is false when no start->end path has usable pool state.
func (g *PairSubGraph) FetchPrice(state StateReader) (*big.Rat, bool) {
	price := g.nodePrices(state, int(g.endNode))[g.endNode]
	if price == nil {
		return nil, false
	}
	return new(big.Rat).Set(price), true
}
