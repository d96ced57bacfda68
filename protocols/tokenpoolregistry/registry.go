package tokenpoolregistry

import (
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// TokenPoolRegistry is a non-thread-safe multigraph of tokens (nodes) and
// pools. Every directed token->token edge carries the list of pools that trade
// that pair, so parallel pools collapse into one edge.
type TokenPoolRegistry struct {
	tokenToIndex map[common.Address]int
	poolToIndex  map[common.Address]int

	tokens              []common.Address
	pools               []engine.PoolPairInfo
	adjacency           [][]int // token index -> edge indices
	edgeTargets         []int   // edge index -> target token index
	edgePools           [][]int // edge index -> pool indices
	danglingEdgeCount   int
	compactionThreshold int
}

// NewTokenPoolRegistry creates an empty registry.
func NewTokenPoolRegistry(compactionThreshold int) *TokenPoolRegistry {
	if compactionThreshold <= 0 {
		compactionThreshold = 1000
	}
	return &TokenPoolRegistry{
		tokenToIndex:        make(map[common.Address]int),
		poolToIndex:         make(map[common.Address]int),
		compactionThreshold: compactionThreshold,
	}
}

func (r *TokenPoolRegistry) tokenIndex(token common.Address) int {
	index, exists := r.tokenToIndex[token]
	if !exists {
		index = len(r.tokens)
		r.tokens = append(r.tokens, token)
		r.tokenToIndex[token] = index
		r.adjacency = append(r.adjacency, nil)
	}
	return index
}

// findEdge returns the edge index from -> to, or -1.
func (r *TokenPoolRegistry) findEdge(fromIndex, toIndex int) int {
	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] == toIndex {
			return edgeIndex
		}
	}
	return -1
}

func (r *TokenPoolRegistry) addEdge(fromIndex, toIndex, poolIndex int) {
	if edgeIndex := r.findEdge(fromIndex, toIndex); edgeIndex != -1 {
		for _, existing := range r.edgePools[edgeIndex] {
			if existing == poolIndex {
				return
			}
		}
		if len(r.edgePools[edgeIndex]) == 0 {
			// reviving a dangling edge
			r.danglingEdgeCount--
		}
		r.edgePools[edgeIndex] = append(r.edgePools[edgeIndex], poolIndex)
		return
	}

	newEdgeIndex := len(r.edgeTargets)
	r.edgeTargets = append(r.edgeTargets, toIndex)
	r.edgePools = append(r.edgePools, []int{poolIndex})
	r.adjacency[fromIndex] = append(r.adjacency[fromIndex], newEdgeIndex)
}

// add registers a pool and links its two tokens in both directions.
func (r *TokenPoolRegistry) add(info engine.PoolPairInfo) {
	if info.Token0 == info.Token1 {
		return
	}
	poolIndex, exists := r.poolToIndex[info.PoolAddr]
	if !exists {
		poolIndex = len(r.pools)
		r.pools = append(r.pools, info)
		r.poolToIndex[info.PoolAddr] = poolIndex
	}

	index0 := r.tokenIndex(info.Token0)
	index1 := r.tokenIndex(info.Token1)
	r.addEdge(index0, index1, poolIndex)
	r.addEdge(index1, index0, poolIndex)
}

// removePool logically deletes a pool from every edge it serves. Edges left
// without pools are dangling until the next compaction.
func (r *TokenPoolRegistry) removePool(pool common.Address) {
	poolIndex, exists := r.poolToIndex[pool]
	if !exists {
		return
	}

	for edgeIndex, poolList := range r.edgePools {
		if len(poolList) == 0 {
			continue
		}
		kept := poolList[:0]
		removed := false
		for _, p := range poolList {
			if p == poolIndex {
				removed = true
				continue
			}
			kept = append(kept, p)
		}
		if removed {
			r.edgePools[edgeIndex] = kept
			if len(kept) == 0 {
				r.danglingEdgeCount++
			}
		}
	}

	if r.danglingEdgeCount > r.compactionThreshold {
		r.compact()
	}
}

// compact rebuilds the graph from its live edges only, dropping tokens and
// pools nothing references any more.
func (r *TokenPoolRegistry) compact() {
	if r.danglingEdgeCount == 0 {
		return
	}

	fresh := NewTokenPoolRegistry(r.compactionThreshold)
	for fromIndex, edges := range r.adjacency {
		for _, edgeIndex := range edges {
			for _, poolIndex := range r.edgePools[edgeIndex] {
				fromToken := r.tokens[fromIndex]
				toToken := r.tokens[r.edgeTargets[edgeIndex]]
				info := r.pools[poolIndex]

				freshPool, exists := fresh.poolToIndex[info.PoolAddr]
				if !exists {
					freshPool = len(fresh.pools)
					fresh.pools = append(fresh.pools, info)
					fresh.poolToIndex[info.PoolAddr] = freshPool
				}
				fresh.addEdge(fresh.tokenIndex(fromToken), fresh.tokenIndex(toToken), freshPool)
			}
		}
	}

	*r = *fresh
}

// liveNeighbors counts the distinct tokens the token has a live edge to.
func (r *TokenPoolRegistry) liveNeighbors(tokenIndex int) int {
	count := 0
	for _, edgeIndex := range r.adjacency[tokenIndex] {
		if len(r.edgePools[edgeIndex]) > 0 {
			count++
		}
	}
	return count
}

// edgeCount returns the number of pools trading tokenA -> tokenB.
func (r *TokenPoolRegistry) edgeCount(tokenA, tokenB common.Address) int {
	indexA, okA := r.tokenToIndex[tokenA]
	indexB, okB := r.tokenToIndex[tokenB]
	if !okA || !okB {
		return 0
	}
	edgeIndex := r.findEdge(indexA, indexB)
	if edgeIndex == -1 {
		return 0
	}
	return len(r.edgePools[edgeIndex])
}

// isOnlyEdge reports whether the token is connected to exactly one other token.
func (r *TokenPoolRegistry) isOnlyEdge(token common.Address) bool {
	tokenIndex, exists := r.tokenToIndex[token]
	if !exists {
		return false
	}
	return r.liveNeighbors(tokenIndex) == 1
}
