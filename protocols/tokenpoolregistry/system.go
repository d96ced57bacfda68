package tokenpoolregistry

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// TokenPoolSystem provides a concurrency-safe layer over the TokenPoolRegistry.
type TokenPoolSystem struct {
	mu       sync.RWMutex
	registry *TokenPoolRegistry
	maxHops  int
}

// NewTokenPoolSystem creates an empty system. maxHops bounds path discovery;
// zero means unbounded.
func NewTokenPoolSystem(compactionThreshold, maxHops int) *TokenPoolSystem {
	return &TokenPoolSystem{
		registry: NewTokenPoolRegistry(compactionThreshold),
		maxHops:  maxHops,
	}
}

// AddPool adds a single pool. For multiple additions, use AddPools.
func (s *TokenPoolSystem) AddPool(info engine.PoolPairInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.add(info)
}

// AddPools adds multiple pools under one lock.
func (s *TokenPoolSystem) AddPools(infos []engine.PoolPairInfo) {
	if len(infos) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range infos {
		s.registry.add(info)
	}
}

// RemovePools removes multiple pools under one lock.
func (s *TokenPoolSystem) RemovePools(pools []common.Address) {
	if len(pools) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pool := range pools {
		s.registry.removePool(pool)
	}
}

// EdgeCount returns the number of pools directly trading tokenA against tokenB.
func (s *TokenPoolSystem) EdgeCount(tokenA, tokenB common.Address) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.edgeCount(tokenA, tokenB)
}

// IsOnlyEdge reports whether the token is connected to the rest of the graph
// through a single neighbouring token.
func (s *TokenPoolSystem) IsOnlyEdge(token common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.isOnlyEdge(token)
}

// FindSubgraphEdges returns every pool edge on a shortest path from
// pair.Token0 to pair.Token1 that avoids the ignored node pairs. The returned
// edges always connect the two tokens, or the result is empty.
func (s *TokenPoolSystem) FindSubgraphEdges(pair engine.Pair, ignore mapset.Set[engine.Pair]) []engine.SubGraphEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.findPathEdges(pair.Token0, pair.Token1, ignore, s.maxHops)
}

// FindFrayedEdges searches from a frayed node towards the pair's end token.
// Distances to start are relative to from.
func (s *TokenPoolSystem) FindFrayedEdges(from common.Address, pair engine.Pair, ignore mapset.Set[engine.Pair]) []engine.SubGraphEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.findPathEdges(from, pair.Token1, ignore, s.maxHops)
}
