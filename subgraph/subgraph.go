// Package subgraph holds the per-pair pool graph used to price one token in
// another, and the liquidity checks that keep it usable block to block.
package subgraph

import (
	"fmt"
	"math"
	"sort"

	"github.com/defistate/defistate-pricing-go/bitset"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

const unreached = -1

// hop is the multi-edge between two nodes: every pool that trades
// tokens[from] into tokens[target].
type hop struct {
	target uint16
	edges  []engine.SubGraphEdge
}

// PairSubGraph is a directed multigraph over the tokens between a pair's start
// (Token0) and end (Token1). It must stay a single component connecting the
// two; a disjoint PairSubGraph cannot price and has to be rebuilt.
//
// A PairSubGraph is not safe for concurrent use.
type PairSubGraph struct {
	pair       engine.Pair
	startNode  uint16
	endNode    uint16
	tokens     []common.Address
	tokenIndex map[common.Address]uint16
	adjacency  [][]hop
}

// NewPairSubGraph groups edges into per-hop multi-edges. The edges must
// connect pair.Token0 to pair.Token1; anything else is a caller bug and panics.
func NewPairSubGraph(pair engine.Pair, edges []engine.SubGraphEdge) *PairSubGraph {
	if len(edges) == 0 {
		panic(fmt.Sprintf("subgraph %s: no edges", pair))
	}

	g := &PairSubGraph{
		pair:       pair,
		tokenIndex: make(map[common.Address]uint16),
	}
	g.startNode = g.node(pair.Token0)
	g.endNode = g.node(pair.Token1)
	for _, e := range edges {
		g.insert(e)
	}

	if g.IsDisjoint() {
		panic(fmt.Sprintf("subgraph %s: edges do not connect start to end", pair))
	}
	g.recomputeDistances()
	return g
}

func (g *PairSubGraph) node(token common.Address) uint16 {
	if index, ok := g.tokenIndex[token]; ok {
		return index
	}
	if len(g.tokens) > math.MaxUint16 {
		panic(fmt.Sprintf("subgraph %s: node limit reached", g.pair))
	}
	index := uint16(len(g.tokens))
	g.tokens = append(g.tokens, token)
	g.tokenIndex[token] = index
	g.adjacency = append(g.adjacency, nil)
	return index
}

func (g *PairSubGraph) findHop(from, to uint16) *hop {
	for i := range g.adjacency[from] {
		if g.adjacency[from][i].target == to {
			return &g.adjacency[from][i]
		}
	}
	return nil
}

// insert adds the edge to its hop. It returns false when the pool already
// serves that hop.
func (g *PairSubGraph) insert(e engine.SubGraphEdge) bool {
	from := g.node(e.TokenIn())
	to := g.node(e.TokenOut())
	if from == to {
		return false
	}

	h := g.findHop(from, to)
	if h == nil {
		g.adjacency[from] = append(g.adjacency[from], hop{target: to})
		h = &g.adjacency[from][len(g.adjacency[from])-1]
	}
	for _, existing := range h.edges {
		if existing.PoolAddr() == e.PoolAddr() {
			return false
		}
	}
	h.edges = append(h.edges, e)
	return true
}

// dropEmptyHops removes hops left without pools.
func (g *PairSubGraph) dropEmptyHops() {
	for from, hops := range g.adjacency {
		kept := hops[:0]
		for _, h := range hops {
			if len(h.edges) > 0 {
				kept = append(kept, h)
			}
		}
		g.adjacency[from] = kept
	}
}

// hopDistances returns BFS hop counts from source, following edges forwards,
// or backwards when reverse is set.
func (g *PairSubGraph) hopDistances(source uint16, reverse bool) []int {
	neighbours := g.adjacency
	if reverse {
		neighbours = make([][]hop, len(g.adjacency))
		for from, hops := range g.adjacency {
			for _, h := range hops {
				neighbours[h.target] = append(neighbours[h.target], hop{target: uint16(from), edges: h.edges})
			}
		}
	}

	dist := make([]int, len(g.tokens))
	for i := range dist {
		dist[i] = unreached
	}
	seen := bitset.NewBitSet(uint64(len(g.tokens)))
	seen.Set(uint64(source))
	dist[source] = 0

	queue := []uint16{source}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, h := range neighbours[current] {
			if len(h.edges) == 0 || seen.TestAndSet(uint64(h.target)) {
				continue
			}
			dist[h.target] = dist[current] + 1
			queue = append(queue, h.target)
		}
	}
	return dist
}

func clampDistance(d int) uint8 {
	if d == unreached || d > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(d)
}

func (g *PairSubGraph) recomputeDistances() {
	toStart := g.hopDistances(g.startNode, false)
	toEnd := g.hopDistances(g.endNode, true)
	for from, hops := range g.adjacency {
		for _, h := range hops {
			for i := range h.edges {
				h.edges[i].DistanceToStart = clampDistance(toStart[from])
				h.edges[i].DistanceToEnd = clampDistance(toEnd[h.target])
			}
		}
	}
}

// IsDisjoint reports whether the end token can no longer be reached from the
// start token.
func (g *PairSubGraph) IsDisjoint() bool {
	return g.hopDistances(g.startNode, false)[g.endNode] == unreached
}

// AddNewEdge admits a newly created pool when both of its tokens are already
// nodes and it sits next to the start or end token. The pool is oriented from
// the token closer to the start.
func (g *PairSubGraph) AddNewEdge(info engine.PoolPairInfo) bool {
	index0, ok0 := g.tokenIndex[info.Token0]
	index1, ok1 := g.tokenIndex[info.Token1]
	if !ok0 || !ok1 || index0 == index1 {
		return false
	}

	toStart := g.hopDistances(g.startNode, false)
	toEnd := g.hopDistances(g.endNode, true)

	in, out := index0, index1
	if closer(toStart[index1], toStart[index0]) {
		in, out = index1, index0
	}
	if in == g.endNode {
		return false
	}
	if !within(toStart[in], 1) && !within(toEnd[out], 1) {
		return false
	}

	direction, _ := engine.NewPoolPairInfoDirection(info, g.tokens[in])
	return g.insert(engine.NewSubGraphEdge(direction, clampDistance(toStart[in]), clampDistance(toEnd[out])))
}

// closer reports whether distance a is strictly shorter than b, with
// unreached being the longest.
func closer(a, b int) bool {
	if a == unreached {
		return false
	}
	return b == unreached || a < b
}

func within(d, limit int) bool {
	return d != unreached && d <= limit
}

// RemoveBadNode deletes one pool from the directed hop. It returns true when
// the hop has no pools left, in which case the graph may be disjoint.
func (g *PairSubGraph) RemoveBadNode(hopPair engine.Pair, pool common.Address) bool {
	from, okFrom := g.tokenIndex[hopPair.Token0]
	to, okTo := g.tokenIndex[hopPair.Token1]
	if !okFrom || !okTo {
		return false
	}
	h := g.findHop(from, to)
	if h == nil {
		return false
	}

	removed := false
	kept := h.edges[:0]
	for _, e := range h.edges {
		if e.PoolAddr() == pool {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	h.edges = kept
	if !removed || len(kept) > 0 {
		return false
	}
	g.dropEmptyHops()
	return true
}

// RemovePool deletes the pool from every hop it serves. It returns the
// removed edges per directed hop, empty when the graph did not hold the pool.
func (g *PairSubGraph) RemovePool(pool common.Address) map[engine.Pair][]BadEdge {
	removals := make(map[engine.Pair][]BadEdge)
	for _, e := range g.Edges() {
		if e.PoolAddr() != pool {
			continue
		}
		hopPair := e.Hop()
		removals[hopPair] = append(removals[hopPair], BadEdge{Pair: hopPair, PoolAddress: pool})
		g.RemoveBadNode(hopPair, pool)
	}
	return removals
}

// RemoveUnpriceable drops every hop the price search cannot cross: a hop
// from a priced token into a token left without a price. It returns the
// dropped pools per directed hop, recorded with zero liquidity.
func (g *PairSubGraph) RemoveUnpriceable(state StateReader) map[engine.Pair][]BadEdge {
	prices := g.nodePrices(state, unreached)
	removals := make(map[engine.Pair][]BadEdge)
	for from := range g.adjacency {
		if prices[from] == nil {
			continue
		}
		for hi := range g.adjacency[from] {
			h := &g.adjacency[from][hi]
			if prices[h.target] != nil {
				continue
			}
			for _, e := range h.edges {
				hopPair := e.Hop()
				removals[hopPair] = append(removals[hopPair], BadEdge{Pair: hopPair, PoolAddress: e.PoolAddr()})
			}
			h.edges = nil
		}
	}
	g.dropEmptyHops()
	return removals
}

// Extend merges additional edges, typically a frayed-end extension, into the
// graph and returns how many were new.
func (g *PairSubGraph) Extend(edges []engine.SubGraphEdge) int {
	added := 0
	for _, e := range edges {
		if g.insert(e) {
			added++
		}
	}
	if added > 0 {
		g.recomputeDistances()
	}
	return added
}

// FrayedEnds returns the tokens, still reachable from the start, that lost a
// pool in removals. Searches resume from them.
func (g *PairSubGraph) FrayedEnds(removals map[engine.Pair][]BadEdge) []common.Address {
	if len(removals) == 0 {
		return nil
	}
	toStart := g.hopDistances(g.startNode, false)

	frayed := bitset.NewBitSet(uint64(len(g.tokens)))
	for hopPair := range removals {
		index, ok := g.tokenIndex[hopPair.Token0]
		if !ok || index == g.endNode || toStart[index] == unreached {
			continue
		}
		frayed.Set(uint64(index))
	}

	tokens := make([]common.Address, 0, frayed.Count())
	for index := range g.tokens {
		if frayed.IsSet(uint64(index)) {
			tokens = append(tokens, g.tokens[index])
		}
	}
	return tokens
}

func (g *PairSubGraph) Pair() engine.Pair {
	return g.pair
}

// NodeCount returns the number of tokens in the graph.
func (g *PairSubGraph) NodeCount() int {
	return len(g.tokens)
}

// Edges returns a copy of every edge, grouped by hop in insertion order.
func (g *PairSubGraph) Edges() []engine.SubGraphEdge {
	var edges []engine.SubGraphEdge
	for _, hops := range g.adjacency {
		for _, h := range hops {
			edges = append(edges, h.edges...)
		}
	}
	return edges
}

// Pools returns the distinct pool addresses in the graph, sorted.
func (g *PairSubGraph) Pools() []common.Address {
	seen := make(map[common.Address]struct{})
	var pools []common.Address
	for _, e := range g.Edges() {
		if _, ok := seen[e.PoolAddr()]; ok {
			continue
		}
		seen[e.PoolAddr()] = struct{}{}
		pools = append(pools, e.PoolAddr())
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Cmp(pools[j]) < 0
	})
	return pools
}

// HopPoolCount returns the number of pools on the directed hop.
func (g *PairSubGraph) HopPoolCount(hopPair engine.Pair) int {
	from, okFrom := g.tokenIndex[hopPair.Token0]
	to, okTo := g.tokenIndex[hopPair.Token1]
	if !okFrom || !okTo {
		return 0
	}
	if h := g.findHop(from, to); h != nil {
		return len(h.edges)
	}
	return 0
}
