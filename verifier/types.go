package verifier

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateTracker supplies pool state per block.
type StateTracker interface {
	// MissingState returns the pools among edges whose state at block is not loaded.
	MissingState(block uint64, edges []engine.SubGraphEdge) []engine.PoolPairInfoDirection
	// MarkStateAsFinalized pins a pool's state at block so it survives block GC.
	MarkStateAsFinalized(block uint64, pool common.Address)
	// StateForVerification returns a read-only view of the pool states at block.
	StateForVerification(block uint64) subgraph.StateReader
}

// GlobalGraph is the part of the global pool graph the verifier consults.
type GlobalGraph interface {
	EdgeCount(tokenA, tokenB common.Address) int
	IsOnlyEdge(token common.Address) bool
}

// VerificationResults is the outcome of verifying one key: Passed, Failed or Abort.
type VerificationResults interface {
	Key() engine.PairWithFirstPoolHop
	isVerificationResults()
}

// Passed hands a verified subgraph to the caller.
type Passed struct {
	Pair       engine.PairWithFirstPoolHop
	Block      uint64
	Subgraph   *subgraph.PairSubGraph
	PruneState *SubgraphVerificationState
}

// Failed asks the caller to discover more edges and verify again.
type Failed struct {
	Pair engine.PairWithFirstPoolHop
	// Extends lists frayed-end extensions already attached for the next pass.
	Extends    []uint64
	Block      uint64
	PruneState *SubgraphVerificationState
	// IgnoreState holds the ordered node pairs the next discovery must avoid.
	IgnoreState mapset.Set[engine.Pair]
	FrayedEnds  []common.Address
}

// Abort means there is no price for the key at this block.
type Abort struct {
	Pair  engine.PairWithFirstPoolHop
	Block uint64
}

func (p Passed) Key() engine.PairWithFirstPoolHop { return p.Pair }
func (f Failed) Key() engine.PairWithFirstPoolHop { return f.Pair }
func (a Abort) Key() engine.PairWithFirstPoolHop  { return a.Pair }

func (Passed) isVerificationResults() {}
func (Failed) isVerificationResults() {}
func (Abort) isVerificationResults()  {}
