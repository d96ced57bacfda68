package verifier

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
)

// hopPool identifies a bad edge: one pool on one directed hop.
type hopPool struct {
	hop  engine.Pair
	pool common.Address
}

// SubgraphVerificationState remembers, per key, which pools were pruned for
// low liquidity and which pools later passes must keep.
type SubgraphVerificationState struct {
	badEdges   map[hopPool]subgraph.BadEdge
	doNotPrune mapset.Set[common.Address]
}

func NewSubgraphVerificationState() *SubgraphVerificationState {
	return &SubgraphVerificationState{
		badEdges:   make(map[hopPool]subgraph.BadEdge),
		doNotPrune: mapset.NewThreadUnsafeSet[common.Address](),
	}
}

// AddRemovals records a pass's pruned pools. A pool pruned from the same hop
// again keeps the lowest liquidity observed.
func (s *SubgraphVerificationState) AddRemovals(removals map[engine.Pair][]subgraph.BadEdge) {
	for _, edges := range removals {
		for _, bad := range edges {
			key := hopPool{hop: bad.Pair, pool: bad.PoolAddress}
			if seen, ok := s.badEdges[key]; ok && seen.Liquidity <= bad.Liquidity {
				continue
			}
			s.badEdges[key] = bad
		}
	}
}

// BadEdges returns every recorded bad edge, least liquid first.
func (s *SubgraphVerificationState) BadEdges() []subgraph.BadEdge {
	edges := make([]subgraph.BadEdge, 0, len(s.badEdges))
	for _, bad := range s.badEdges {
		edges = append(edges, bad)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Liquidity != edges[j].Liquidity {
			return edges[i].Liquidity < edges[j].Liquidity
		}
		if c := edges[i].PoolAddress.Cmp(edges[j].PoolAddress); c != 0 {
			return c < 0
		}
		return edges[i].Pair.String() < edges[j].Pair.String()
	})
	return edges
}

// IgnoreState returns the ordered node pairs of every bad edge.
func (s *SubgraphVerificationState) IgnoreState() mapset.Set[engine.Pair] {
	ignore := mapset.NewSet[engine.Pair]()
	for key := range s.badEdges {
		ignore.Add(key.hop.Ordered())
	}
	return ignore
}

// KeepPools marks pools that must survive later pruning passes.
func (s *SubgraphVerificationState) KeepPools(pools ...common.Address) {
	s.doNotPrune.Append(pools...)
}

// DoNotPrune returns a copy of the pools later passes must keep.
func (s *SubgraphVerificationState) DoNotPrune() mapset.Set[common.Address] {
	return s.doNotPrune.Clone()
}

// Len returns the number of recorded bad edges.
func (s *SubgraphVerificationState) Len() int {
	return len(s.badEdges)
}
