// Package verifier drives pair subgraphs through create, verify and
// pass/requery/abandon, many pairs per block.
//
// A SubgraphVerifier is owned by a single driver goroutine. Only the work
// inside VerificationBatch.Run is parallel; every method that touches the
// pending/processing maps must be called from the owner.
package verifier

import (
	"errors"
	"math/big"
	"runtime"
	"sort"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/defistate/defistate-pricing-go/verifier"

type SubgraphVerifierConfig struct {
	StateTracker StateTracker
	Graph        GlobalGraph
	Logger       Logger
	Registry     prometheus.Registerer
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
	// MinLiquidity defaults to subgraph.DefaultMinLiquidity.
	MinLiquidity *big.Rat
	// Workers bounds the parallel verification; defaults to GOMAXPROCS.
	Workers int
	// MaxIters abandons a key after this many failed passes; 0 never does.
	MaxIters int
}

func (c *SubgraphVerifierConfig) validate() error {
	if c.StateTracker == nil {
		return errors.New("config: StateTracker cannot be nil")
	}
	if c.Graph == nil {
		return errors.New("config: Graph cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.MinLiquidity != nil && c.MinLiquidity.Sign() < 0 {
		return errors.New("config: MinLiquidity cannot be negative")
	}
	if c.Workers < 0 || c.MaxIters < 0 {
		return errors.New("config: Workers and MaxIters cannot be negative")
	}
	return nil
}

type SubgraphVerifier struct {
	pending           map[engine.PairWithFirstPoolHop]*Subgraph
	processing        map[engine.PairWithFirstPoolHop]*Subgraph
	verificationState map[engine.PairWithFirstPoolHop]*SubgraphVerificationState
	// pool failures reported while the key was processing
	deferredFailures map[engine.PairWithFirstPoolHop][]common.Address

	tracker      StateTracker
	graph        GlobalGraph
	logger       Logger
	metrics      *Metrics
	tracer       trace.Tracer
	minLiquidity *big.Rat
	workers      int
	maxIters     int
}

func NewSubgraphVerifier(cfg *SubgraphVerifierConfig) (*SubgraphVerifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	minLiquidity := cfg.MinLiquidity
	if minLiquidity == nil {
		minLiquidity = subgraph.DefaultMinLiquidity
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &SubgraphVerifier{
		pending:           make(map[engine.PairWithFirstPoolHop]*Subgraph),
		processing:        make(map[engine.PairWithFirstPoolHop]*Subgraph),
		verificationState: make(map[engine.PairWithFirstPoolHop]*SubgraphVerificationState),
		deferredFailures:  make(map[engine.PairWithFirstPoolHop][]common.Address),
		tracker:           cfg.StateTracker,
		graph:             cfg.Graph,
		logger:            cfg.Logger,
		metrics:           NewMetrics(cfg.Registry),
		tracer:            tracer,
		minLiquidity:      new(big.Rat).Set(minLiquidity),
		workers:           workers,
		maxIters:          cfg.MaxIters,
	}, nil
}

func (v *SubgraphVerifier) updateGauges() {
	v.metrics.pending.Set(float64(len(v.pending)))
	v.metrics.processing.Set(float64(len(v.processing)))
}

// CreateNewSubgraph registers a subgraph for key built from edges, which must
// connect the pair. It returns the pools whose state the caller has to load
// before verification. A key that is already pending or processing is left
// untouched and nil is returned.
func (v *SubgraphVerifier) CreateNewSubgraph(key engine.PairWithFirstPoolHop, block uint64, edges []engine.SubGraphEdge) []engine.PoolPairInfoDirection {
	if v.HasGoThrough(key) {
		v.logger.Debug("subgraph already in flight", "key", key.String(), "block", block)
		v.metrics.duplicates.Inc()
		return nil
	}

	v.pending[key] = newSubgraph(subgraph.NewPairSubGraph(key.Pair, edges), block)
	v.metrics.created.Inc()
	v.updateGauges()

	return v.tracker.MissingState(block, edges)
}

// AddFrayedEndExtension attaches a partial path to a pending or processing
// subgraph. It is merged at the start of the next verification pass. ok is
// false when the key is not in flight.
func (v *SubgraphVerifier) AddFrayedEndExtension(key engine.PairWithFirstPoolHop, block uint64, edges []engine.SubGraphEdge) (id uint64, missing []engine.PoolPairInfoDirection, ok bool) {
	if len(edges) == 0 {
		return 0, nil, false
	}
	sg := v.inFlight(key)
	if sg == nil {
		return 0, nil, false
	}
	id = sg.addExtension(edges)
	return id, v.tracker.MissingState(block, edges), true
}

// MissingStateFor returns the pools of a pending key, extensions included,
// whose state is not loaded at the key's block.
func (v *SubgraphVerifier) MissingStateFor(key engine.PairWithFirstPoolHop) []engine.PoolPairInfoDirection {
	sg, ok := v.pending[key]
	if !ok {
		return nil
	}
	return v.tracker.MissingState(sg.block, sg.edges())
}

// StartVerifySubgraph moves the pending keys to processing at block and
// returns the batch that verifies them. Keys that are not pending are skipped.
func (v *SubgraphVerifier) StartVerifySubgraph(keys []engine.PairWithFirstPoolHop, block uint64) *VerificationBatch {
	batch := &VerificationBatch{
		block:        block,
		state:        v.tracker.StateForVerification(block),
		graph:        v.graph,
		metrics:      v.metrics,
		tracer:       v.tracer,
		minLiquidity: v.minLiquidity,
		workers:      v.workers,
	}

	for _, key := range keys {
		sg, ok := v.pending[key]
		if !ok {
			continue
		}
		delete(v.pending, key)
		sg.block = block
		v.processing[key] = sg

		item := verificationItem{
			key:        key,
			subgraph:   sg.subgraph,
			extensions: sg.takeExtensions(),
			inRundown:  sg.inRundown,
		}
		if state, ok := v.verificationState[key]; ok {
			item.keep = state.DoNotPrune()
		}
		batch.items = append(batch.items, item)
	}

	v.updateGauges()
	return batch
}

// VerifySubgraphFinish applies a batch's outcomes and reports one result per
// key still processing.
func (v *SubgraphVerifier) VerifySubgraphFinish(results []VerificationResult) []VerificationResults {
	out := make([]VerificationResults, 0, len(results))
	for _, res := range results {
		sg, ok := v.processing[res.Key]
		if !ok {
			// cleared while the batch ran
			continue
		}
		delete(v.processing, res.Key)
		outcome := res.Outcome

		if pools, ok := v.deferredFailures[res.Key]; ok {
			delete(v.deferredFailures, res.Key)
			outcome = v.applyDeferredFailures(sg, pools, outcome)
		}

		if outcome.ShouldAbandon && len(sg.frayedEndExtensions) > 0 {
			outcome.ShouldAbandon = false
			outcome.ShouldRequery = true
		}

		state, ok := v.verificationState[res.Key]
		if !ok {
			state = NewSubgraphVerificationState()
			v.verificationState[res.Key] = state
		}
		state.AddRemovals(outcome.Removals)

		if outcome.ShouldRequery {
			sg.iters++
			if v.maxIters > 0 && sg.iters >= v.maxIters {
				v.logger.Debug("subgraph out of retries", "key", res.Key.String(), "iters", sg.iters, "rundown", sg.inRundown)
				outcome.ShouldRequery = false
				outcome.ShouldAbandon = true
			}
		}

		switch {
		case outcome.ShouldAbandon:
			v.purge(res.Key)
			v.metrics.outcomes.WithLabelValues(outcomeAbandon).Inc()
			v.logger.Info("subgraph abandoned, no price for block", "key", res.Key.String(), "block", res.Block)
			out = append(out, Abort{Pair: res.Key, Block: res.Block})

		case outcome.ShouldRequery:
			v.pending[res.Key] = sg
			v.metrics.outcomes.WithLabelValues(outcomeRequery).Inc()
			v.logger.Debug("subgraph requeried",
				"key", res.Key.String(),
				"block", res.Block,
				"removals", len(outcome.Removals),
				"frayedEnds", len(outcome.FrayedEnds),
				"iters", sg.iters,
			)
			out = append(out, Failed{
				Pair:        res.Key,
				Extends:     sg.extensionIDs(),
				Block:       res.Block,
				PruneState:  state,
				IgnoreState: state.IgnoreState(),
				FrayedEnds:  outcome.FrayedEnds,
			})

		default:
			for _, pool := range sg.subgraph.Pools() {
				v.tracker.MarkStateAsFinalized(res.Block, pool)
			}
			v.purge(res.Key)
			v.metrics.outcomes.WithLabelValues(outcomePassed).Inc()
			out = append(out, Passed{
				Pair:       res.Key,
				Block:      res.Block,
				Subgraph:   sg.subgraph,
				PruneState: state,
			})
		}
	}

	v.updateGauges()
	return out
}

// VerifySubgraphOnNewPathFailure switches a key to rundown after discovery
// has repeatedly failed to find a better path. It returns the pools pruned so
// far, least liquid first; they will not be pruned again.
func (v *SubgraphVerifier) VerifySubgraphOnNewPathFailure(key engine.PairWithFirstPoolHop) []subgraph.BadEdge {
	sg := v.inFlight(key)
	if sg == nil {
		return nil
	}
	if !sg.inRundown {
		sg.inRundown = true
		v.metrics.rundowns.Inc()
		v.logger.Info("subgraph entering rundown", "key", key.String(), "iters", sg.iters)
	}

	state, ok := v.verificationState[key]
	if !ok {
		return nil
	}
	bad := state.BadEdges()
	for _, edge := range bad {
		state.KeepPools(edge.PoolAddress)
	}
	return bad
}

// PoolDepFailure removes a permanently unusable pool from the key's subgraph
// and from its attached extensions. It returns true when that disconnects the
// subgraph, with no extension left to reconnect it, and the key was purged.
// A failure reported while the key is processing is applied when the batch
// finishes.
func (v *SubgraphVerifier) PoolDepFailure(key engine.PairWithFirstPoolHop, pool common.Address) bool {
	if _, ok := v.processing[key]; ok {
		v.deferredFailures[key] = append(v.deferredFailures[key], pool)
		v.metrics.poolDepFailures.WithLabelValues("deferred").Inc()
		v.logger.Warn("pool failure deferred until verification finishes", "key", key.String(), "pool", pool.Hex())
		return false
	}

	sg, ok := v.pending[key]
	if !ok {
		return false
	}
	v.metrics.poolDepFailures.WithLabelValues("applied").Inc()
	// an attached extension may still reconnect the graph
	removed := sg.dropPool(pool)
	if len(removed) == 0 || !sg.subgraph.IsDisjoint() || len(sg.frayedEndExtensions) > 0 {
		return false
	}

	v.logger.Warn("pool failure disconnected subgraph", "key", key.String(), "pool", pool.Hex())
	v.purge(key)
	v.metrics.outcomes.WithLabelValues(outcomeAbandon).Inc()
	v.updateGauges()
	return true
}

// applyDeferredFailures removes the pools that failed while the key was
// processing and adjusts the pass's outcome. A graph the failures disconnect
// is requeried from its frayed ends when the global graph still offers a way
// around the lost hops, and abandoned otherwise.
func (v *SubgraphVerifier) applyDeferredFailures(sg *Subgraph, pools []common.Address, outcome subgraph.VerificationOutcome) subgraph.VerificationOutcome {
	lost := make(map[engine.Pair][]subgraph.BadEdge)
	for _, pool := range pools {
		for hopPair, edges := range sg.dropPool(pool) {
			lost[hopPair] = append(lost[hopPair], edges...)
		}
	}
	if len(lost) == 0 {
		return outcome
	}

	if !sg.subgraph.IsDisjoint() {
		if outcome.Passed() {
			// the verified graph no longer exists
			outcome.ShouldRequery = true
		}
		return outcome
	}

	for hopPair, edges := range outcome.Removals {
		lost[hopPair] = append(lost[hopPair], edges...)
	}
	outcome.FrayedEnds = sg.subgraph.FrayedEnds(lost)
	candidates := hasCandidates(v.graph, sg.subgraph, lost, outcome.FrayedEnds)
	outcome.ShouldRequery = candidates
	outcome.ShouldAbandon = !candidates
	return outcome
}

// AddNewPool offers a newly created pool to every pending subgraph and
// returns the keys that took it.
func (v *SubgraphVerifier) AddNewPool(info engine.PoolPairInfo) []engine.PairWithFirstPoolHop {
	var updated []engine.PairWithFirstPoolHop
	for _, key := range sortedKeys(v.pending, nil) {
		if v.pending[key].subgraph.AddNewEdge(info) {
			updated = append(updated, key)
		}
	}
	return updated
}

// KeysWithPool returns the keys in flight whose subgraph uses pool.
func (v *SubgraphVerifier) KeysWithPool(pool common.Address) []engine.PairWithFirstPoolHop {
	uses := func(sg *Subgraph) bool {
		for _, e := range sg.edges() {
			if e.PoolAddr() == pool {
				return true
			}
		}
		return false
	}
	return append(sortedKeys(v.pending, uses), sortedKeys(v.processing, uses)...)
}

// HasGoThrough reports whether the key is pending or processing.
func (v *SubgraphVerifier) HasGoThrough(key engine.PairWithFirstPoolHop) bool {
	return v.inFlight(key) != nil
}

// IsDoneBlock reports whether no key for block is pending or processing.
func (v *SubgraphVerifier) IsDoneBlock(block uint64) bool {
	return len(v.GetRemForBlock(block)) == 0
}

// GetRemForBlock returns the keys for block still pending or processing.
func (v *SubgraphVerifier) GetRemForBlock(block uint64) []engine.PairWithFirstPoolHop {
	atBlock := func(sg *Subgraph) bool { return sg.block == block }
	return append(sortedKeys(v.pending, atBlock), sortedKeys(v.processing, atBlock)...)
}

// PendingForBlock returns the keys for block waiting for verification.
func (v *SubgraphVerifier) PendingForBlock(block uint64) []engine.PairWithFirstPoolHop {
	return sortedKeys(v.pending, func(sg *Subgraph) bool { return sg.block == block })
}

// ClearBlock drops every key left for block and returns how many there were.
func (v *SubgraphVerifier) ClearBlock(block uint64) int {
	keys := v.GetRemForBlock(block)
	for _, key := range keys {
		v.purge(key)
	}
	if len(keys) > 0 {
		v.logger.Debug("cleared unfinished subgraphs", "block", block, "count", len(keys))
	}
	v.updateGauges()
	return len(keys)
}

func (v *SubgraphVerifier) inFlight(key engine.PairWithFirstPoolHop) *Subgraph {
	if sg, ok := v.pending[key]; ok {
		return sg
	}
	if sg, ok := v.processing[key]; ok {
		return sg
	}
	return nil
}

func (v *SubgraphVerifier) purge(key engine.PairWithFirstPoolHop) {
	delete(v.pending, key)
	delete(v.processing, key)
	delete(v.verificationState, key)
	delete(v.deferredFailures, key)
}

func sortedKeys(m map[engine.PairWithFirstPoolHop]*Subgraph, keep func(*Subgraph) bool) []engine.PairWithFirstPoolHop {
	keys := make([]engine.PairWithFirstPoolHop, 0, len(m))
	for key, sg := range m {
		if keep == nil || keep(sg) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
