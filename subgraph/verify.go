package subgraph

import (
	"math/big"

	"github.com/defistate/defistate-pricing-go/engine"
)

// edgeLiquidity values both sides of a pool in end-token units. Nodes the
// search could not price contribute nothing.
func edgeLiquidity(e engine.SubGraphEdge, state StateReader, valueIn, valueOut *big.Rat) (*big.Rat, bool) {
	st, ok := state.Get(e.PoolAddr())
	if !ok {
		return nil, false
	}

	tvlIn, tvlOut := st.TVL(e.TokenIn())
	liquidity := new(big.Rat)
	if valueIn != nil {
		liquidity.Add(liquidity, new(big.Rat).Mul(tvlIn, valueIn))
	}
	if valueOut != nil {
		liquidity.Add(liquidity, new(big.Rat).Mul(tvlOut, valueOut))
	}
	return liquidity, true
}

// VerifySubgraph prunes pools whose liquidity is below cfg.MinLiquidity.
// startPrice is the value of one start token in end tokens, normally the
// result of FetchPrice. A pool is never pruned when either of its tokens hangs
// off the global graph by a single edge, when it is in cfg.Keep, or when it
// has no state yet. Every surviving edge gets its Liquidity filled in.
//
// It returns whether the graph became disjoint and the pruned pools per
// directed hop.
func (g *PairSubGraph) VerifySubgraph(startPrice *big.Rat, state StateReader, global GlobalGraph, cfg PruneConfig) (bool, map[engine.Pair][]BadEdge) {
	prices := g.nodePrices(state, unreached)
	value := func(node uint16) *big.Rat {
		p := prices[node]
		if p == nil || startPrice == nil {
			return nil
		}
		return new(big.Rat).Quo(startPrice, p)
	}

	removals := make(map[engine.Pair][]BadEdge)
	for from := range g.adjacency {
		valueIn := value(uint16(from))

		for hi := range g.adjacency[from] {
			h := &g.adjacency[from][hi]
			valueOut := value(h.target)

			kept := make([]engine.SubGraphEdge, 0, len(h.edges))
			var pruned []engine.SubGraphEdge
			for _, e := range h.edges {
				liquidity, ok := edgeLiquidity(e, state, valueIn, valueOut)
				if !ok {
					kept = append(kept, e)
					continue
				}
				e.Liquidity = liquidity

				if cfg.MinLiquidity == nil ||
					liquidity.Cmp(cfg.MinLiquidity) >= 0 ||
					(cfg.Keep != nil && cfg.Keep.Contains(e.PoolAddr())) ||
					global.IsOnlyEdge(e.TokenIn()) ||
					global.IsOnlyEdge(e.TokenOut()) {
					kept = append(kept, e)
					continue
				}
				pruned = append(pruned, e)
			}

			if len(kept) == 0 && len(pruned) > 0 && cfg.BestEffort {
				best := 0
				for i := range pruned {
					if pruned[i].Liquidity.Cmp(pruned[best].Liquidity) > 0 {
						best = i
					}
				}
				kept = append(kept, pruned[best])
				pruned = append(pruned[:best], pruned[best+1:]...)
			}

			h.edges = kept
			for _, e := range pruned {
				liquidity, _ := e.Liquidity.Float64()
				hopPair := e.Hop()
				removals[hopPair] = append(removals[hopPair], BadEdge{
					Pair:        hopPair,
					PoolAddress: e.PoolAddr(),
					Liquidity:   liquidity,
				})
			}
		}
	}

	g.dropEmptyHops()
	return g.IsDisjoint(), removals
}
