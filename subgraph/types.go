package subgraph

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultMinLiquidity is the liquidity, in units of the pair's end token, a
// pool needs to survive pruning.
var DefaultMinLiquidity = big.NewRat(25_000, 1)

// StateReader resolves pool state at one block. poolstate.Snapshot implements it.
type StateReader interface {
	Get(pool common.Address) (poolstate.State, bool)
}

// GlobalGraph is the part of the global pool graph that pruning consults.
type GlobalGraph interface {
	IsOnlyEdge(token common.Address) bool
}

// BadEdge is a pool cut from a hop, for low liquidity or because the hop
// could not be priced. Pair is the directed (tokenIn, tokenOut) hop.
type BadEdge struct {
	Pair        engine.Pair    `json:"pair"`
	PoolAddress common.Address `json:"poolAddress"`
	Liquidity   float64        `json:"liquidity"`
}

// PruneConfig controls one liquidity pruning pass.
type PruneConfig struct {
	// MinLiquidity is valued in end-token units. nil disables pruning.
	MinLiquidity *big.Rat
	// Keep holds pools that may not be pruned again.
	Keep mapset.Set[common.Address]
	// BestEffort never empties a hop: the most liquid pool of a hop that
	// would lose every pool stays.
	BestEffort bool
}

// VerificationOutcome is the result of one verification pass over a subgraph.
type VerificationOutcome struct {
	Removals      map[engine.Pair][]BadEdge
	ShouldAbandon bool
	ShouldRequery bool
	FrayedEnds    []common.Address
}

// Passed reports whether the pass neither pruned nor asked for a retry.
func (o VerificationOutcome) Passed() bool {
	return !o.ShouldAbandon && !o.ShouldRequery
}
