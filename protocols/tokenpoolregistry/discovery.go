package tokenpoolregistry

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

const unreached = -1

// hopDistances runs a breadth-first search from the source over live edges and
// returns the hop count to every token, or unreached. Edges whose ordered token
// pair is in ignore are not traversed.
func (r *TokenPoolRegistry) hopDistances(sourceIndex int, ignore mapset.Set[engine.Pair], maxHops int) []int {
	dist := make([]int, len(r.tokens))
	for i := range dist {
		dist[i] = unreached
	}
	dist[sourceIndex] = 0

	queue := []int{sourceIndex}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if maxHops > 0 && dist[current] >= maxHops {
			continue
		}
		for _, edgeIndex := range r.adjacency[current] {
			if len(r.edgePools[edgeIndex]) == 0 {
				continue
			}
			next := r.edgeTargets[edgeIndex]
			if dist[next] != unreached || r.ignored(current, next, ignore) {
				continue
			}
			dist[next] = dist[current] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

func (r *TokenPoolRegistry) ignored(fromIndex, toIndex int, ignore mapset.Set[engine.Pair]) bool {
	if ignore == nil || ignore.Cardinality() == 0 {
		return false
	}
	return ignore.Contains(engine.NewPair(r.tokens[fromIndex], r.tokens[toIndex]).Ordered())
}

// findPathEdges returns every directed pool edge that lies on a shortest path
// from -> to within maxHops, skipping ignored node pairs. The result is empty
// when to is unreachable.
func (r *TokenPoolRegistry) findPathEdges(from, to common.Address, ignore mapset.Set[engine.Pair], maxHops int) []engine.SubGraphEdge {
	fromIndex, okFrom := r.tokenToIndex[from]
	toIndex, okTo := r.tokenToIndex[to]
	if !okFrom || !okTo || fromIndex == toIndex {
		return nil
	}

	distStart := r.hopDistances(fromIndex, ignore, maxHops)
	shortest := distStart[toIndex]
	if shortest == unreached {
		return nil
	}
	distEnd := r.hopDistances(toIndex, ignore, maxHops)

	var edges []engine.SubGraphEdge
	for current, dStart := range distStart {
		if dStart == unreached || dStart >= shortest {
			continue
		}
		for _, edgeIndex := range r.adjacency[current] {
			next := r.edgeTargets[edgeIndex]
			dEnd := distEnd[next]
			if dEnd == unreached || dStart+1+dEnd != shortest || r.ignored(current, next, ignore) {
				continue
			}
			for _, poolIndex := range r.edgePools[edgeIndex] {
				direction, ok := engine.NewPoolPairInfoDirection(r.pools[poolIndex], r.tokens[current])
				if !ok {
					continue
				}
				edges = append(edges, engine.NewSubGraphEdge(direction, uint8(dStart), uint8(dEnd)))
			}
		}
	}
	return edges
}
