// Package pricer prices token pairs block by block. It discovers a subgraph
// per pair in the global pool graph, drives the verifier until every subgraph
// has passed or been abandoned, and turns the passed subgraphs into prices.
package pricer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/defistate/defistate-pricing-go/verifier"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxRounds    = 32
	defaultRundownAfter = 2
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Graph is the global pool graph as the pricer uses it.
type Graph interface {
	verifier.GlobalGraph
	AddPool(info engine.PoolPairInfo)
	RemovePools(pools []common.Address)
	FindSubgraphEdges(pair engine.Pair, ignore mapset.Set[engine.Pair]) []engine.SubGraphEdge
	FindFrayedEdges(from common.Address, pair engine.Pair, ignore mapset.Set[engine.Pair]) []engine.SubGraphEdge
}

// StateStore holds the per-block pool state the verifier reads.
type StateStore interface {
	StateForVerification(block uint64) subgraph.StateReader
	ApplyDiff(block, parent uint64, diff poolstate.SnapshotDiff) error
	FinalizeBlock(block uint64) (poolstate.Snapshot, error)
}

// StateLoader fetches pool state into the StateStore. It returns the pools
// whose state cannot be had at all; those are treated as unusable.
type StateLoader interface {
	Load(ctx context.Context, block uint64, pools []engine.PoolPairInfoDirection) ([]common.Address, error)
}

type PricerConfig struct {
	Graph    Graph
	State    StateStore
	Loader   StateLoader
	Verifier *verifier.SubgraphVerifier
	Logger   Logger
	Registry prometheus.Registerer
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
	// MaxRounds bounds the verification rounds per block.
	MaxRounds int
	// RundownAfter is the number of failed passes after which a subgraph
	// switches to rundown.
	RundownAfter int
	// SplitFirstHop verifies the paths leaving the start token through each
	// first pool independently and blends their prices.
	SplitFirstHop bool
}

func (c *PricerConfig) validate() error {
	if c.Graph == nil {
		return errors.New("config: Graph cannot be nil")
	}
	if c.State == nil {
		return errors.New("config: State cannot be nil")
	}
	if c.Loader == nil {
		return errors.New("config: Loader cannot be nil")
	}
	if c.Verifier == nil {
		return errors.New("config: Verifier cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.MaxRounds < 0 || c.RundownAfter < 0 {
		return errors.New("config: MaxRounds and RundownAfter cannot be negative")
	}
	return nil
}

// Pricer is the per-block driver of a SubgraphVerifier. It is not safe for
// concurrent use; one goroutine prices one block at a time.
type Pricer struct {
	graph    Graph
	state    StateStore
	loader   StateLoader
	verifier *verifier.SubgraphVerifier
	logger   Logger
	metrics  *metrics
	tracer   trace.Tracer

	maxRounds     int
	rundownAfter  int
	splitFirstHop bool
}

func NewPricer(cfg *PricerConfig) (*Pricer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pricer{
		graph:         cfg.Graph,
		state:         cfg.State,
		loader:        cfg.Loader,
		verifier:      cfg.Verifier,
		logger:        cfg.Logger,
		metrics:       newMetrics(cfg.Registry),
		tracer:        cfg.Tracer,
		maxRounds:     cfg.MaxRounds,
		rundownAfter:  cfg.RundownAfter,
		splitFirstHop: cfg.SplitFirstHop,
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/defistate/defistate-pricing-go/pricer")
	}
	if p.maxRounds == 0 {
		p.maxRounds = defaultMaxRounds
	}
	if p.rundownAfter == 0 {
		p.rundownAfter = defaultRundownAfter
	}
	return p, nil
}

// quote is one verified price for a pair and the first-hop liquidity behind it.
type quote struct {
	price  *big.Rat
	weight *big.Rat
}

type blockRun struct {
	block    uint64
	failures map[engine.PairWithFirstPoolHop]int
	quotes   map[engine.Pair][]quote
}

// PriceBlock prices pairs at block and returns the pairs that got a price.
// A pair without a usable subgraph is logged and left out. Every subgraph
// still in flight when PriceBlock returns is dropped. The block's state stays
// in the StateStore until FinalizeBlock.
func (p *Pricer) PriceBlock(ctx context.Context, block uint64, pairs []engine.Pair) (prices map[engine.Pair]*big.Rat, err error) {
	ctx, span := p.tracer.Start(ctx, "pricer.PriceBlock", trace.WithAttributes(
		attribute.Int64("block", int64(block)),
		attribute.Int("pairs", len(pairs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pricing failed")
		}
		span.End()
	}()

	timer := prometheus.NewTimer(p.metrics.blockDuration)
	defer timer.ObserveDuration()

	run := &blockRun{
		block:    block,
		failures: make(map[engine.PairWithFirstPoolHop]int),
		quotes:   make(map[engine.Pair][]quote),
	}
	defer p.clear(block)

	for _, pair := range pairs {
		p.discover(run, pair)
	}

	for round := 0; round < p.maxRounds && !p.verifier.IsDoneBlock(block); round++ {
		if err := p.loadMissing(ctx, block); err != nil {
			return nil, err
		}
		keys := p.verifier.PendingForBlock(block)
		if len(keys) == 0 {
			break
		}

		results, err := p.verifier.StartVerifySubgraph(keys, block).Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("block %d round %d: %w", block, round, err)
		}
		for _, res := range p.verifier.VerifySubgraphFinish(results) {
			p.handle(run, res)
		}
	}

	prices = make(map[engine.Pair]*big.Rat, len(pairs))
	for _, pair := range pairs {
		if price, ok := blend(run.quotes[pair]); ok {
			prices[pair] = price
			p.metrics.pairs.WithLabelValues("priced").Inc()
			continue
		}
		p.metrics.pairs.WithLabelValues("unpriced").Inc()
		p.logger.Info("no price for pair", "pair", pair.String(), "block", block)
	}
	span.SetAttributes(attribute.Int("priced", len(prices)))
	return prices, nil
}

func (p *Pricer) clear(block uint64) {
	if n := p.verifier.ClearBlock(block); n > 0 {
		p.logger.Warn("subgraphs unfinished at end of block", "block", block, "count", n)
	}
}

// FinalizeBlock releases block's state, keeping only the pool states that
// backed a verified price. Call it once no later block will be derived from
// this one.
func (p *Pricer) FinalizeBlock(block uint64) (poolstate.Snapshot, error) {
	kept, err := p.state.FinalizeBlock(block)
	if err != nil {
		return nil, fmt.Errorf("finalizing block %d: %w", block, err)
	}
	return kept, nil
}

func (p *Pricer) discover(run *blockRun, pair engine.Pair) {
	if pair.IsZero() || pair.Token0 == pair.Token1 {
		p.logger.Warn("skipping malformed pair", "pair", pair.String())
		return
	}
	edges := p.graph.FindSubgraphEdges(pair, nil)
	if len(edges) == 0 {
		p.logger.Info("no path between pair tokens", "pair", pair.String(), "block", run.block)
		return
	}

	keys := map[engine.PairWithFirstPoolHop][]engine.SubGraphEdge{
		engine.PairWithFirstPoolHopFromPair(pair): edges,
	}
	if p.splitFirstHop {
		keys = splitByFirstHop(pair, edges)
	}
	for _, key := range sortedKeys(keys) {
		p.verifier.CreateNewSubgraph(key, run.block, keys[key])
	}
}

// loadMissing fetches the state the pending subgraphs still lack. Pools the
// loader cannot serve are failed on every subgraph that uses them.
func (p *Pricer) loadMissing(ctx context.Context, block uint64) error {
	users := make(map[common.Address][]engine.PairWithFirstPoolHop)
	var missing []engine.PoolPairInfoDirection
	for _, key := range p.verifier.PendingForBlock(block) {
		for _, pool := range p.verifier.MissingStateFor(key) {
			addr := pool.Info.PoolAddr
			if _, ok := users[addr]; !ok {
				missing = append(missing, pool)
			}
			users[addr] = append(users[addr], key)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	unavailable, err := p.loader.Load(ctx, block, missing)
	if err != nil {
		return fmt.Errorf("block %d: loading pool state: %w", block, err)
	}
	for _, pool := range unavailable {
		for _, key := range users[pool] {
			if p.verifier.PoolDepFailure(key, pool) {
				p.logger.Info("subgraph lost its last path", "key", key.String(), "pool", pool.Hex())
			}
		}
	}
	return nil
}

func (p *Pricer) handle(run *blockRun, res verifier.VerificationResults) {
	switch r := res.(type) {
	case verifier.Passed:
		state := p.state.StateForVerification(run.block)
		price, ok := r.Subgraph.FetchPrice(state)
		if !ok {
			p.logger.Warn("passed subgraph has no price", "key", r.Pair.String(), "block", run.block)
			return
		}
		pair := r.Pair.Pair
		run.quotes[pair] = append(run.quotes[pair], quote{
			price:  price,
			weight: firstHopLiquidity(r.Subgraph, pair.Token0),
		})

	case verifier.Failed:
		p.retry(run, r)

	case verifier.Abort:
		p.logger.Debug("subgraph abandoned", "key", r.Pair.String(), "block", r.Block)
	}
}

// retry rediscovers paths from the frayed ends of a failed subgraph, avoiding
// the pruned node pairs. From the RundownAfter-th failure on, the subgraph is
// in rundown and every further failure re-admits one more pruned pair, most
// liquid first.
func (p *Pricer) retry(run *blockRun, r verifier.Failed) {
	run.failures[r.Pair]++
	failures := run.failures[r.Pair]

	ignore := r.IgnoreState
	if failures >= p.rundownAfter {
		bad := p.verifier.VerifySubgraphOnNewPathFailure(r.Pair)
		ignore = readmit(bad, failures-p.rundownAfter+1)
	}

	for _, from := range r.FrayedEnds {
		edges := p.graph.FindFrayedEdges(from, r.Pair.Pair, ignore)
		if len(edges) == 0 {
			continue
		}
		if _, _, ok := p.verifier.AddFrayedEndExtension(r.Pair, run.block, edges); ok {
			p.logger.Debug("attached frayed end extension",
				"key", r.Pair.String(),
				"from", from.Hex(),
				"edges", len(edges),
			)
		}
	}
}

// AddPool registers a newly created pool with the global graph and offers it
// to every pending subgraph.
func (p *Pricer) AddPool(info engine.PoolPairInfo) {
	p.graph.AddPool(info)
	if keys := p.verifier.AddNewPool(info); len(keys) > 0 {
		p.logger.Debug("new pool joined pending subgraphs", "pool", info.PoolAddr.Hex(), "subgraphs", len(keys))
	}
}

// ApplyDiff derives block's state from parent's and brings the global graph
// and the subgraphs in flight up to date with the pools that appeared or
// disappeared.
func (p *Pricer) ApplyDiff(block, parent uint64, diff poolstate.SnapshotDiff) error {
	if err := p.state.ApplyDiff(block, parent, diff); err != nil {
		return err
	}
	for _, st := range diff.Added() {
		info, err := st.Info()
		if err != nil {
			return err
		}
		p.AddPool(info)
	}
	deleted := diff.Deleted()
	p.graph.RemovePools(deleted)
	for _, pool := range deleted {
		for _, key := range p.verifier.KeysWithPool(pool) {
			p.verifier.PoolDepFailure(key, pool)
		}
	}
	return nil
}

// readmit returns the node pairs of bad, least liquid first, minus the n most
// liquid ones.
func readmit(bad []subgraph.BadEdge, n int) mapset.Set[engine.Pair] {
	var pairs []engine.Pair
	seen := make(map[engine.Pair]struct{})
	for _, edge := range bad {
		pair := edge.Pair.Ordered()
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		pairs = append(pairs, pair)
	}

	ignore := mapset.NewSet[engine.Pair]()
	for i := 0; i < len(pairs)-n; i++ {
		ignore.Add(pairs[i])
	}
	return ignore
}

// splitByFirstHop builds one edge set per pool leaving the start token. Each
// set is that pool plus every discovered edge reachable from its output.
func splitByFirstHop(pair engine.Pair, edges []engine.SubGraphEdge) map[engine.PairWithFirstPoolHop][]engine.SubGraphEdge {
	ordered := append([]engine.SubGraphEdge(nil), edges...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DistanceToStart < ordered[j].DistanceToStart
	})

	keys := make(map[engine.PairWithFirstPoolHop][]engine.SubGraphEdge)
	for _, first := range ordered {
		if first.TokenIn() != pair.Token0 {
			continue
		}
		intermediary := first.TokenOut()
		set := []engine.SubGraphEdge{first}
		reached := map[common.Address]bool{intermediary: true}
		for _, e := range ordered {
			if e.TokenIn() == pair.Token0 || !reached[e.TokenIn()] || e.TokenIn() == pair.Token1 {
				continue
			}
			set = append(set, e)
			reached[e.TokenOut()] = true
		}
		if !reached[pair.Token1] {
			continue
		}
		keys[engine.NewPairWithFirstPoolHop(pair, first.PoolAddr(), intermediary)] = set
	}
	return keys
}

// firstHopLiquidity sums the verified liquidity of the pools leaving start.
func firstHopLiquidity(sg *subgraph.PairSubGraph, start common.Address) *big.Rat {
	total := new(big.Rat)
	for _, e := range sg.Edges() {
		if e.TokenIn() == start && e.Liquidity != nil {
			total.Add(total, e.Liquidity)
		}
	}
	return total
}

// blend averages quotes by first-hop liquidity, or plainly when no quote
// carries any.
func blend(quotes []quote) (*big.Rat, bool) {
	switch len(quotes) {
	case 0:
		return nil, false
	case 1:
		return quotes[0].price, true
	}

	num, den := new(big.Rat), new(big.Rat)
	for _, q := range quotes {
		num.Add(num, new(big.Rat).Mul(q.price, q.weight))
		den.Add(den, q.weight)
	}
	if den.Sign() > 0 {
		return num.Quo(num, den), true
	}

	mean := new(big.Rat)
	for _, q := range quotes {
		mean.Add(mean, q.price)
	}
	return mean.Quo(mean, big.NewRat(int64(len(quotes)), 1)), true
}

func sortedKeys(m map[engine.PairWithFirstPoolHop][]engine.SubGraphEdge) []engine.PairWithFirstPoolHop {
	keys := make([]engine.PairWithFirstPoolHop, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
