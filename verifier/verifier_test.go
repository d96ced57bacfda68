package verifier

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
	uniswapv2 "github.com/defistate/defistate-pricing-go/protocols/uniswapv2"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	t1  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	t2  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	usd = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

const block = uint64(100)

func poolAddr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(0x1000 + n))
}

func v2(n int64, token0, token1 common.Address, reserve0, reserve1 int64) poolstate.State {
	return poolstate.FromUniswapV2(uniswapv2.Pool{
		Address:  poolAddr(n),
		Token0:   token0,
		Token1:   token1,
		Reserve0: big.NewInt(reserve0),
		Reserve1: big.NewInt(reserve1),
	})
}

func edge(t *testing.T, st poolstate.State, tokenIn common.Address) engine.SubGraphEdge {
	t.Helper()
	info, err := st.Info()
	require.NoError(t, err)
	direction, ok := engine.NewPoolPairInfoDirection(info, tokenIn)
	require.True(t, ok)
	return engine.NewSubGraphEdge(direction, 0, 0)
}

// fakeTracker serves one snapshot per block.
type fakeTracker struct {
	states    map[uint64]poolstate.Snapshot
	finalized map[uint64][]common.Address
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		states:    make(map[uint64]poolstate.Snapshot),
		finalized: make(map[uint64][]common.Address),
	}
}

func (f *fakeTracker) load(block uint64, states ...poolstate.State) {
	snap, ok := f.states[block]
	if !ok {
		snap = make(poolstate.Snapshot)
		f.states[block] = snap
	}
	for _, st := range states {
		snap[st.Address()] = st
	}
}

func (f *fakeTracker) MissingState(block uint64, edges []engine.SubGraphEdge) []engine.PoolPairInfoDirection {
	var missing []engine.PoolPairInfoDirection
	for _, e := range edges {
		if _, ok := f.states[block][e.PoolAddr()]; !ok {
			missing = append(missing, e.PoolPairInfoDirection)
		}
	}
	return missing
}

func (f *fakeTracker) MarkStateAsFinalized(block uint64, pool common.Address) {
	f.finalized[block] = append(f.finalized[block], pool)
}

func (f *fakeTracker) StateForVerification(block uint64) subgraph.StateReader {
	return f.states[block]
}

type fakeGraph struct {
	edgeCounts map[engine.Pair]int
	onlyEdge   map[common.Address]bool
}

func (f fakeGraph) EdgeCount(tokenA, tokenB common.Address) int {
	return f.edgeCounts[engine.NewPair(tokenA, tokenB).Ordered()]
}

func (f fakeGraph) IsOnlyEdge(token common.Address) bool {
	return f.onlyEdge[token]
}

func newTestVerifier(t *testing.T, tracker *fakeTracker, graph fakeGraph, maxIters int) *SubgraphVerifier {
	t.Helper()
	v, err := NewSubgraphVerifier(&SubgraphVerifierConfig{
		StateTracker: tracker,
		Graph:        graph,
		Logger:       slog.New(slog.DiscardHandler),
		Registry:     prometheus.NewRegistry(),
		Workers:      2,
		MaxIters:     maxIters,
	})
	require.NoError(t, err)
	return v
}

func verifyRound(t *testing.T, v *SubgraphVerifier, block uint64, keys ...engine.PairWithFirstPoolHop) []VerificationResults {
	t.Helper()
	results, err := v.StartVerifySubgraph(keys, block).Run(context.Background())
	require.NoError(t, err)
	return v.VerifySubgraphFinish(results)
}

func TestNewSubgraphVerifierValidation(t *testing.T) {
	tracker := newFakeTracker()
	_, err := NewSubgraphVerifier(&SubgraphVerifierConfig{
		StateTracker: tracker,
		Graph:        fakeGraph{},
		Logger:       slog.New(slog.DiscardHandler),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Registry cannot be nil")

	_, err = NewSubgraphVerifier(&SubgraphVerifierConfig{
		StateTracker: tracker,
		Graph:        fakeGraph{},
		Logger:       slog.New(slog.DiscardHandler),
		Registry:     prometheus.NewRegistry(),
		MinLiquidity: big.NewRat(-1, 1),
	})
	require.Error(t, err)
}

func TestCreateNewSubgraph(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	other := v2(2, t0, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, deep)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))

	missing := v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0), edge(t, other, t0)})
	require.Len(t, missing, 1)
	assert.Equal(t, poolAddr(2), missing[0].Info.PoolAddr)
	assert.True(t, v.HasGoThrough(key))
	assert.Equal(t, []engine.PairWithFirstPoolHop{key}, v.PendingForBlock(block))

	t.Run("DuplicateIsIgnored", func(t *testing.T) {
		again := v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, other, t0)})
		assert.Nil(t, again)
		assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.duplicates))
		assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.created))
		assert.Equal(t, []common.Address{poolAddr(1), poolAddr(2)}, v.pending[key].subgraph.Pools())
	})

	t.Run("MissingStateForPendingKey", func(t *testing.T) {
		tracker.load(block, other)
		assert.Empty(t, v.MissingStateFor(key))
		assert.Nil(t, v.MissingStateFor(engine.PairWithFirstPoolHopFromPair(engine.NewPair(t1, usd))))
	})
}

func TestVerifyPassed(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, deep)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})

	results := verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	passed, ok := results[0].(Passed)
	require.True(t, ok, "got %T", results[0])
	assert.Equal(t, key, passed.Key())
	assert.Equal(t, block, passed.Block)
	price, ok := passed.Subgraph.FetchPrice(tracker.states[block])
	require.True(t, ok)
	assert.Equal(t, "2", price.RatString())

	assert.Equal(t, []common.Address{poolAddr(1)}, tracker.finalized[block])
	assert.False(t, v.HasGoThrough(key))
	assert.True(t, v.IsDoneBlock(block))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.outcomes.WithLabelValues(outcomePassed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(v.metrics.pending))
	assert.Equal(t, 0.0, testutil.ToFloat64(v.metrics.processing))
}

func TestVerifyRequeryAfterPruning(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	shallowA := v2(2, t0, usd, 10, 21)
	shallowB := v2(3, t0, usd, 5, 10)
	tracker := newFakeTracker()
	tracker.load(block, deep, shallowA, shallowB)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	pair := engine.NewPair(t0, usd)
	key := engine.PairWithFirstPoolHopFromPair(pair)
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{
		edge(t, deep, t0), edge(t, shallowA, t0), edge(t, shallowB, t0),
	})

	results := verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	failed, ok := results[0].(Failed)
	require.True(t, ok, "got %T", results[0])
	assert.Equal(t, 2, failed.PruneState.Len())
	assert.True(t, failed.IgnoreState.Contains(pair.Ordered()))
	assert.Equal(t, []common.Address{t0}, failed.FrayedEnds)
	assert.Empty(t, failed.Extends)
	assert.True(t, v.HasGoThrough(key))
	assert.Equal(t, 1, v.pending[key].iters)

	bad := failed.PruneState.BadEdges()
	require.Len(t, bad, 2)
	assert.Equal(t, poolAddr(3), bad[0].PoolAddress, "least liquid first")

	t.Run("SecondPassSucceeds", func(t *testing.T) {
		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		passed, ok := results[0].(Passed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(1)}, passed.Subgraph.Pools())
		assert.Equal(t, 2, passed.PruneState.Len())
	})
}

func TestVerifyMissingStateRequeries(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	v := newTestVerifier(t, tracker, fakeGraph{}, 2)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})

	results := verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	failed, ok := results[0].(Failed)
	require.True(t, ok, "got %T", results[0])
	assert.Equal(t, 0, failed.PruneState.Len())
	assert.Equal(t, 0, failed.IgnoreState.Cardinality())

	t.Run("MaxItersAbandons", func(t *testing.T) {
		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		_, ok := results[0].(Abort)
		require.True(t, ok, "got %T", results[0])
		assert.False(t, v.HasGoThrough(key))
	})
}

func TestVerifyAbandon(t *testing.T) {
	empty := v2(1, t0, usd, 0, 0)
	tracker := newFakeTracker()
	tracker.load(block, empty)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	isolated := fakeGraph{onlyEdge: map[common.Address]bool{t0: true}}

	t.Run("NoPrice", func(t *testing.T) {
		v := newTestVerifier(t, tracker, isolated, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, empty, t0)})
		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		abort, ok := results[0].(Abort)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, block, abort.Block)
		assert.False(t, v.HasGoThrough(key))
		assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.outcomes.WithLabelValues(outcomeAbandon)))
	})

	t.Run("PendingExtensionTurnsAbandonIntoRequery", func(t *testing.T) {
		deep := v2(2, t0, usd, 1_000_000, 2_000_000)
		tracker.load(block, deep)
		v := newTestVerifier(t, tracker, isolated, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, empty, t0)})

		batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
		id, missing, ok := v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})
		require.True(t, ok)
		assert.Empty(t, missing)

		raw, err := batch.Run(context.Background())
		require.NoError(t, err)
		results := v.VerifySubgraphFinish(raw)
		require.Len(t, results, 1)
		failed, ok := results[0].(Failed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []uint64{id}, failed.Extends)
		assert.Empty(t, v.pending[key].subgraph.Edges(), "the empty pool was cut")

		// the merged pool prices the pair
		results = verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		passed, ok := results[0].(Passed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(2)}, passed.Subgraph.Pools())
	})
}

func TestVerifyDisjointWithFrayedEnd(t *testing.T) {
	first := v2(1, t0, t1, 1_000_000, 1_000_000)
	shallow := v2(2, t1, usd, 10, 20)
	replacement := v2(3, t1, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, first, shallow, replacement)
	graph := fakeGraph{edgeCounts: map[engine.Pair]int{engine.NewPair(t1, usd).Ordered(): 2}}
	v := newTestVerifier(t, tracker, graph, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, first, t0), edge(t, shallow, t1)})

	results := verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	failed, ok := results[0].(Failed)
	require.True(t, ok, "got %T", results[0])
	assert.Equal(t, []common.Address{t1}, failed.FrayedEnds)
	assert.True(t, v.pending[key].subgraph.IsDisjoint())

	_, _, ok = v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, replacement, t1)})
	require.True(t, ok)

	results = verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	passed, ok := results[0].(Passed)
	require.True(t, ok, "got %T", results[0])
	assert.Equal(t, []common.Address{poolAddr(1), poolAddr(3)}, passed.Subgraph.Pools())
}

func TestVerifyUnpriceableHop(t *testing.T) {
	first := v2(1, t0, t1, 1_000_000, 1_000_000)
	drained := v2(2, t1, usd, 0, 0)
	replacement := v2(3, t1, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, first, drained, replacement)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	edges := func() []engine.SubGraphEdge {
		return []engine.SubGraphEdge{edge(t, first, t0), edge(t, drained, t1)}
	}

	t.Run("RequeriesFromFrayedEnd", func(t *testing.T) {
		graph := fakeGraph{edgeCounts: map[engine.Pair]int{engine.NewPair(t1, usd).Ordered(): 2}}
		v := newTestVerifier(t, tracker, graph, 0)
		v.CreateNewSubgraph(key, block, edges())

		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		failed, ok := results[0].(Failed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{t1}, failed.FrayedEnds)
		assert.True(t, failed.IgnoreState.Contains(engine.NewPair(t1, usd).Ordered()))
		assert.True(t, v.HasGoThrough(key))

		_, _, ok = v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, replacement, t1)})
		require.True(t, ok)
		results = verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		passed, ok := results[0].(Passed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(1), poolAddr(3)}, passed.Subgraph.Pools())
	})

	t.Run("AbandonsWithoutCandidates", func(t *testing.T) {
		graph := fakeGraph{
			edgeCounts: map[engine.Pair]int{engine.NewPair(t1, usd).Ordered(): 1},
			onlyEdge:   map[common.Address]bool{t1: true},
		}
		v := newTestVerifier(t, tracker, graph, 0)
		v.CreateNewSubgraph(key, block, edges())

		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		_, ok := results[0].(Abort)
		require.True(t, ok, "got %T", results[0])
		assert.False(t, v.HasGoThrough(key))
	})
}

func TestRundown(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	shallow := v2(2, t0, usd, 10, 21)
	tracker := newFakeTracker()
	tracker.load(block, deep, shallow)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0), edge(t, shallow, t0)})

	assert.Empty(t, v.VerifySubgraphOnNewPathFailure(key))
	assert.True(t, v.pending[key].inRundown)
	assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.rundowns))

	results := verifyRound(t, v, block, key)
	require.Len(t, results, 1)
	passed, ok := results[0].(Passed)
	require.True(t, ok, "removals are allowed in rundown, got %T", results[0])
	assert.Equal(t, 1, passed.PruneState.Len())
	assert.Equal(t, []common.Address{poolAddr(1)}, passed.Subgraph.Pools())

	assert.Nil(t, v.VerifySubgraphOnNewPathFailure(key), "unknown key")
}

func TestRundownKeepsPreviouslyPrunedPools(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	shallow := v2(2, t0, usd, 10, 21)
	tracker := newFakeTracker()
	tracker.load(block, deep, shallow)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0), edge(t, shallow, t0)})

	_, ok := verifyRound(t, v, block, key)[0].(Failed)
	require.True(t, ok)

	bad := v.VerifySubgraphOnNewPathFailure(key)
	require.Len(t, bad, 1)
	assert.Equal(t, poolAddr(2), bad[0].PoolAddress)
	assert.True(t, v.verificationState[key].DoNotPrune().Contains(poolAddr(2)))

	// rediscovery brings the pruned pool back; it now survives
	_, _, ok = v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, shallow, t0)})
	require.True(t, ok)
	passed, ok := verifyRound(t, v, block, key)[0].(Passed)
	require.True(t, ok)
	assert.Equal(t, []common.Address{poolAddr(1), poolAddr(2)}, passed.Subgraph.Pools())
}

func TestPoolDepFailure(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	deep2 := v2(2, t0, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, deep, deep2)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))

	t.Run("PendingDisjointPurges", func(t *testing.T) {
		v := newTestVerifier(t, tracker, fakeGraph{}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0), edge(t, deep2, t0)})
		assert.False(t, v.PoolDepFailure(key, poolAddr(2)))
		assert.True(t, v.HasGoThrough(key))
		assert.True(t, v.PoolDepFailure(key, poolAddr(1)))
		assert.False(t, v.HasGoThrough(key))
		assert.False(t, v.PoolDepFailure(key, poolAddr(1)), "unknown key")
	})

	t.Run("DeferredWhileProcessingDowngradesPass", func(t *testing.T) {
		v := newTestVerifier(t, tracker, fakeGraph{}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0), edge(t, deep2, t0)})
		batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
		assert.False(t, v.PoolDepFailure(key, poolAddr(2)))

		raw, err := batch.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, raw[0].Outcome.Passed())

		results := v.VerifySubgraphFinish(raw)
		require.Len(t, results, 1)
		_, ok := results[0].(Failed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(1)}, v.pending[key].subgraph.Pools())
		assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.poolDepFailures.WithLabelValues("deferred")))
	})

	t.Run("DeferredDisjointAborts", func(t *testing.T) {
		v := newTestVerifier(t, tracker, fakeGraph{onlyEdge: map[common.Address]bool{t0: true}}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})
		batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
		v.PoolDepFailure(key, poolAddr(1))

		raw, err := batch.Run(context.Background())
		require.NoError(t, err)
		results := v.VerifySubgraphFinish(raw)
		require.Len(t, results, 1)
		_, ok := results[0].(Abort)
		require.True(t, ok, "got %T", results[0])
		assert.False(t, v.HasGoThrough(key))
	})

	t.Run("DeferredDisjointWithCandidatesRequeries", func(t *testing.T) {
		v := newTestVerifier(t, tracker, fakeGraph{}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})
		batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
		v.PoolDepFailure(key, poolAddr(1))

		raw, err := batch.Run(context.Background())
		require.NoError(t, err)
		results := v.VerifySubgraphFinish(raw)
		require.Len(t, results, 1)
		failed, ok := results[0].(Failed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{t0}, failed.FrayedEnds)
		assert.True(t, v.HasGoThrough(key))
	})

	t.Run("DeferredStripsExtension", func(t *testing.T) {
		stateless := v2(9, t0, usd, 1_000_000, 2_000_000)
		v := newTestVerifier(t, tracker, fakeGraph{}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})
		batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
		_, _, ok := v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, stateless, t0)})
		require.True(t, ok)
		assert.False(t, v.PoolDepFailure(key, poolAddr(9)))

		raw, err := batch.Run(context.Background())
		require.NoError(t, err)
		results := v.VerifySubgraphFinish(raw)
		require.Len(t, results, 1)
		passed, ok := results[0].(Passed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(1)}, passed.Subgraph.Pools())
		assert.Empty(t, v.KeysWithPool(poolAddr(9)))
	})
}

func TestPoolDepFailureOnExtensions(t *testing.T) {
	first := v2(1, t0, t1, 1_000_000, 1_000_000)
	second := v2(2, t1, usd, 1_000_000, 2_000_000)
	stateless := v2(3, t1, usd, 1_000_000, 2_000_000)
	parallel := v2(4, t1, usd, 1_000_000, 2_000_000)
	shallow := v2(5, t1, usd, 10, 20)
	tracker := newFakeTracker()
	tracker.load(block, first, second, parallel, shallow)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))

	t.Run("StripsThePoolFromEveryExtension", func(t *testing.T) {
		v := newTestVerifier(t, tracker, fakeGraph{}, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, first, t0), edge(t, second, t1)})
		_, missing, ok := v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, stateless, t1)})
		require.True(t, ok)
		require.Len(t, missing, 1)
		mixed, _, ok := v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, stateless, t1), edge(t, parallel, t1)})
		require.True(t, ok)
		assert.Equal(t, []engine.PairWithFirstPoolHop{key}, v.KeysWithPool(poolAddr(3)))

		assert.False(t, v.PoolDepFailure(key, poolAddr(3)))
		assert.True(t, v.HasGoThrough(key))
		assert.Empty(t, v.KeysWithPool(poolAddr(3)))
		assert.Equal(t, []uint64{mixed}, v.pending[key].extensionIDs(), "an emptied extension is dropped")

		results := verifyRound(t, v, block, key)
		require.Len(t, results, 1)
		passed, ok := results[0].(Passed)
		require.True(t, ok, "got %T", results[0])
		assert.Equal(t, []common.Address{poolAddr(1), poolAddr(2), poolAddr(4)}, passed.Subgraph.Pools())
	})

	t.Run("DisjointKeyIgnoresUnusedPool", func(t *testing.T) {
		graph := fakeGraph{edgeCounts: map[engine.Pair]int{engine.NewPair(t1, usd).Ordered(): 2}}
		v := newTestVerifier(t, tracker, graph, 0)
		v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, first, t0), edge(t, shallow, t1)})
		_, ok := verifyRound(t, v, block, key)[0].(Failed)
		require.True(t, ok)
		require.True(t, v.pending[key].subgraph.IsDisjoint())

		assert.False(t, v.PoolDepFailure(key, poolAddr(9)))
		assert.True(t, v.HasGoThrough(key))

		_, _, ok = v.AddFrayedEndExtension(key, block, []engine.SubGraphEdge{edge(t, second, t1)})
		require.True(t, ok)
		passed, ok := verifyRound(t, v, block, key)[0].(Passed)
		require.True(t, ok)
		assert.Equal(t, []common.Address{poolAddr(1), poolAddr(2)}, passed.Subgraph.Pools())
	})
}

func TestSubgraphVerificationState(t *testing.T) {
	hopPair := engine.NewPair(t0, usd)
	bad := func(hopPair engine.Pair, n int64, liquidity float64) subgraph.BadEdge {
		return subgraph.BadEdge{Pair: hopPair, PoolAddress: poolAddr(n), Liquidity: liquidity}
	}

	s := NewSubgraphVerificationState()
	s.AddRemovals(map[engine.Pair][]subgraph.BadEdge{hopPair: {bad(hopPair, 1, 900), bad(hopPair, 2, 500)}})

	t.Run("RepeatedPruneKeepsLowestLiquidity", func(t *testing.T) {
		s.AddRemovals(map[engine.Pair][]subgraph.BadEdge{hopPair: {bad(hopPair, 1, 100)}})
		s.AddRemovals(map[engine.Pair][]subgraph.BadEdge{hopPair: {bad(hopPair, 2, 700)}})

		assert.Equal(t, 2, s.Len())
		assert.Equal(t, []subgraph.BadEdge{bad(hopPair, 1, 100), bad(hopPair, 2, 500)}, s.BadEdges())
	})

	t.Run("ReverseHopIsAnotherEdge", func(t *testing.T) {
		s.AddRemovals(map[engine.Pair][]subgraph.BadEdge{hopPair.Flip(): {bad(hopPair.Flip(), 1, 50)}})

		assert.Equal(t, 3, s.Len())
		assert.Equal(t, bad(hopPair.Flip(), 1, 50), s.BadEdges()[0])
		assert.Equal(t, 1, s.IgnoreState().Cardinality())
		assert.True(t, s.IgnoreState().Contains(hopPair.Ordered()))
	})

	t.Run("KeepPools", func(t *testing.T) {
		s.KeepPools(poolAddr(1))
		keep := s.DoNotPrune()
		keep.Add(poolAddr(9))
		assert.True(t, s.DoNotPrune().Contains(poolAddr(1)))
		assert.False(t, s.DoNotPrune().Contains(poolAddr(9)), "DoNotPrune returns a copy")
	})
}

func TestBlockBookkeeping(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	hop := v2(2, t1, t0, 1_000_000, 1_000_000)
	tracker := newFakeTracker()
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)

	keyA := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	keyB := engine.NewPairWithFirstPoolHop(engine.NewPair(t1, usd), poolAddr(2), t0)
	keyC := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t1, usd))
	v.CreateNewSubgraph(keyA, 5, []engine.SubGraphEdge{edge(t, deep, t0)})
	v.CreateNewSubgraph(keyB, 5, []engine.SubGraphEdge{edge(t, hop, t1), edge(t, deep, t0)})
	v.CreateNewSubgraph(keyC, 6, []engine.SubGraphEdge{edge(t, hop, t1), edge(t, deep, t0)})

	v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{keyA}, 5)
	assert.Len(t, v.GetRemForBlock(5), 2)
	assert.Equal(t, []engine.PairWithFirstPoolHop{keyB}, v.PendingForBlock(5))
	assert.False(t, v.IsDoneBlock(5))
	assert.ElementsMatch(t, []engine.PairWithFirstPoolHop{keyA, keyB, keyC}, v.KeysWithPool(poolAddr(1)))
	assert.ElementsMatch(t, []engine.PairWithFirstPoolHop{keyB, keyC}, v.KeysWithPool(poolAddr(2)))

	assert.Equal(t, 2, v.ClearBlock(5))
	assert.True(t, v.IsDoneBlock(5))
	assert.Equal(t, []engine.PairWithFirstPoolHop{keyC}, v.GetRemForBlock(6))
	assert.Equal(t, 0, v.ClearBlock(5))

	t.Run("FinishIgnoresClearedKeys", func(t *testing.T) {
		results := v.VerifySubgraphFinish([]VerificationResult{{Key: keyA, Block: 5}})
		assert.Empty(t, results)
	})
}

func TestAddNewPool(t *testing.T) {
	first := v2(1, t0, t1, 1_000_000, 1_000_000)
	second := v2(2, t1, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, first, t0), edge(t, second, t1)})

	direct, err := v2(3, usd, t0, 2, 1).Info()
	require.NoError(t, err)
	assert.Equal(t, []engine.PairWithFirstPoolHop{key}, v.AddNewPool(direct))
	assert.Equal(t, 1, v.pending[key].subgraph.HopPoolCount(engine.NewPair(t0, usd)))

	unrelated, err := v2(4, t2, usd, 1, 1).Info()
	require.NoError(t, err)
	assert.Empty(t, v.AddNewPool(unrelated))
}

func TestRunCancelled(t *testing.T) {
	deep := v2(1, t0, usd, 1_000_000, 2_000_000)
	tracker := newFakeTracker()
	tracker.load(block, deep)
	v := newTestVerifier(t, tracker, fakeGraph{}, 0)
	key := engine.PairWithFirstPoolHopFromPair(engine.NewPair(t0, usd))
	v.CreateNewSubgraph(key, block, []engine.SubGraphEdge{edge(t, deep, t0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := v.StartVerifySubgraph([]engine.PairWithFirstPoolHop{key}, block)
	assert.Equal(t, 1, batch.Len())
	_, err := batch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
