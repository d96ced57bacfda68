package verifier

import (
	"context"
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// VerificationResult is the raw outcome of verifying one key inside a batch.
// Pass it back to VerifySubgraphFinish.
type VerificationResult struct {
	Key        engine.PairWithFirstPoolHop
	Block      uint64
	Extensions []uint64
	Outcome    subgraph.VerificationOutcome
}

type verificationItem struct {
	key        engine.PairWithFirstPoolHop
	subgraph   *subgraph.PairSubGraph
	extensions map[uint64][]engine.SubGraphEdge
	keep       mapset.Set[common.Address]
	inRundown  bool
}

// VerificationBatch is the parallel part of a verification round. Each item
// owns its subgraph for the duration of Run, so items share nothing but the
// read-only state snapshot and global graph.
type VerificationBatch struct {
	block        uint64
	items        []verificationItem
	state        subgraph.StateReader
	graph        GlobalGraph
	metrics      *Metrics
	tracer       trace.Tracer
	minLiquidity *big.Rat
	workers      int
}

// Len returns the number of keys in the batch.
func (b *VerificationBatch) Len() int {
	return len(b.items)
}

// Run verifies every item of the batch in parallel. Results are in batch
// order. An error is only returned when ctx is done.
func (b *VerificationBatch) Run(ctx context.Context) ([]VerificationResult, error) {
	ctx, span := b.tracer.Start(ctx, "verifier.VerificationBatch.Run", trace.WithAttributes(
		attribute.Int64("block", int64(b.block)),
		attribute.Int("subgraphs", len(b.items)),
	))
	defer span.End()

	timer := prometheus.NewTimer(b.metrics.batchDuration)
	defer timer.ObserveDuration()

	results := make([]VerificationResult, len(b.items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for i := range b.items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("verifying %s: %w", b.items[i].key, err)
			}
			results[i] = b.verify(b.items[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification batch cancelled")
		return nil, err
	}

	abandoned, requeried := 0, 0
	for _, res := range results {
		switch {
		case res.Outcome.ShouldAbandon:
			abandoned++
		case res.Outcome.ShouldRequery:
			requeried++
		}
	}
	span.SetAttributes(
		attribute.Int("abandoned", abandoned),
		attribute.Int("requeried", requeried),
	)
	return results, nil
}

func (b *VerificationBatch) verify(item verificationItem) VerificationResult {
	sg := item.subgraph
	ids := sortedIDs(item.extensions)
	for _, id := range ids {
		sg.Extend(item.extensions[id])
	}

	res := VerificationResult{
		Key:        item.key,
		Block:      b.block,
		Extensions: ids,
	}

	for _, pool := range sg.Pools() {
		if _, ok := b.state.Get(pool); !ok {
			// the loader has not caught up yet
			res.Outcome.ShouldRequery = true
			return res
		}
	}

	price, ok := sg.FetchPrice(b.state)
	if !ok {
		// hops that cannot be priced are cut like pruned ones
		removals := sg.RemoveUnpriceable(b.state)
		res.Outcome.Removals = removals
		res.Outcome.FrayedEnds = sg.FrayedEnds(removals)
		if hasCandidates(b.graph, sg, removals, res.Outcome.FrayedEnds) {
			res.Outcome.ShouldRequery = true
		} else {
			res.Outcome.ShouldAbandon = true
		}
		return res
	}

	disjoint, removals := sg.VerifySubgraph(price, b.state, b.graph, subgraph.PruneConfig{
		MinLiquidity: b.minLiquidity,
		Keep:         item.keep,
		BestEffort:   item.inRundown,
	})
	res.Outcome.Removals = removals

	switch {
	case disjoint:
		res.Outcome.FrayedEnds = sg.FrayedEnds(removals)
		if hasCandidates(b.graph, sg, removals, res.Outcome.FrayedEnds) {
			res.Outcome.ShouldRequery = true
		} else {
			res.Outcome.ShouldAbandon = true
		}
	case len(removals) > 0 && !item.inRundown:
		res.Outcome.FrayedEnds = sg.FrayedEnds(removals)
		res.Outcome.ShouldRequery = true
	}
	return res
}

// hasCandidates reports whether the global graph still offers a way around
// the pruned pools: a hop with pools the subgraph never had, or a frayed
// token with more than one neighbour.
func hasCandidates(graph GlobalGraph, sg *subgraph.PairSubGraph, removals map[engine.Pair][]subgraph.BadEdge, frayed []common.Address) bool {
	for hopPair, bad := range removals {
		known := len(bad) + sg.HopPoolCount(hopPair)
		if graph.EdgeCount(hopPair.Token0, hopPair.Token1) > known {
			return true
		}
	}
	for _, token := range frayed {
		if !graph.IsOnlyEdge(token) {
			return true
		}
	}
	return false
}
