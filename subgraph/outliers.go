package subgraph

import (
	"math/big"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// a price further than this from the running average is an outlier
	outlierDeviation = big.NewRat(1, 4)
	// buckets whose maxima are this close always resolve to the non-outliers
	bucketMergeRatio = big.NewRat(1, 2)
)

// priceSample is one pool's view of a hop: its spot price of tokenIn in
// tokenOut and its balances of both.
type priceSample struct {
	pool   common.Address
	price  *big.Rat
	tvlIn  *big.Rat
	tvlOut *big.Rat
}

// hopQuote is the aggregate of the pools selected for a hop.
type hopQuote struct {
	price  *big.Rat
	tvlIn  *big.Rat
	tvlOut *big.Rat
}

// samplePrices reads every pool on the hop that has usable state, in edge order.
func samplePrices(edges []engine.SubGraphEdge, state StateReader, base common.Address) []priceSample {
	samples := make([]priceSample, 0, len(edges))
	for _, e := range edges {
		st, ok := state.Get(e.PoolAddr())
		if !ok {
			continue
		}
		price, err := st.Price(base)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		tvlIn, tvlOut := st.TVL(base)
		samples = append(samples, priceSample{
			pool:   e.PoolAddr(),
			price:  price,
			tvlIn:  tvlIn,
			tvlOut: tvlOut,
		})
	}
	return samples
}

func deviates(price, average *big.Rat) bool {
	if average.Sign() == 0 {
		return price.Sign() != 0
	}
	diff := new(big.Rat).Sub(price, average)
	diff.Abs(diff)
	return diff.Quo(diff, average).Cmp(outlierDeviation) > 0
}

func maxPrice(samples []priceSample) *big.Rat {
	highest := samples[0].price
	for _, s := range samples[1:] {
		if s.price.Cmp(highest) > 0 {
			highest = s.price
		}
	}
	return highest
}

// selectBucket splits samples into non-outliers and outliers, then picks one.
// The first sample seeds the non-outlier bucket, so the split depends on edge
// order. The larger bucket wins unless the two bucket maxima are within 50% of
// the non-outlier maximum; ties go to the non-outliers.
func selectBucket(samples []priceSample) []priceSample {
	if len(samples) <= 1 {
		return samples
	}

	nonOutliers := []priceSample{samples[0]}
	var outliers []priceSample
	sum := new(big.Rat).Set(samples[0].price)
	average := new(big.Rat)

	for _, s := range samples[1:] {
		average.Quo(sum, new(big.Rat).SetInt64(int64(len(nonOutliers))))
		if deviates(s.price, average) {
			outliers = append(outliers, s)
			continue
		}
		nonOutliers = append(nonOutliers, s)
		sum.Add(sum, s.price)
	}

	if len(outliers) == 0 {
		return nonOutliers
	}

	maxNon := maxPrice(nonOutliers)
	spread := new(big.Rat).Sub(maxPrice(outliers), maxNon)
	spread.Abs(spread)
	if spread.Quo(spread, maxNon).Cmp(bucketMergeRatio) <= 0 {
		return nonOutliers
	}
	if len(outliers) > len(nonOutliers) {
		return outliers
	}
	return nonOutliers
}

// weightedPrice is Σ(price·tvlIn·tvlOut) / Σ(tvlIn·tvlOut), falling back to
// the plain mean when no sample carries weight.
func weightedPrice(samples []priceSample) *big.Rat {
	numerator := new(big.Rat)
	denominator := new(big.Rat)
	weight := new(big.Rat)
	for _, s := range samples {
		weight.Mul(s.tvlIn, s.tvlOut)
		denominator.Add(denominator, weight)
		numerator.Add(numerator, weight.Mul(weight, s.price))
	}
	if denominator.Sign() > 0 {
		return numerator.Quo(numerator, denominator)
	}

	mean := new(big.Rat)
	for _, s := range samples {
		mean.Add(mean, s.price)
	}
	return mean.Quo(mean, new(big.Rat).SetInt64(int64(len(samples))))
}

// quoteHop prices one hop from its parallel pools. ok is false when no pool
// on the hop has usable state.
func quoteHop(edges []engine.SubGraphEdge, state StateReader, base common.Address) (hopQuote, bool) {
	samples := samplePrices(edges, state, base)
	if len(samples) == 0 {
		return hopQuote{}, false
	}

	selected := selectBucket(samples)
	quote := hopQuote{
		price:  weightedPrice(selected),
		tvlIn:  new(big.Rat),
		tvlOut: new(big.Rat),
	}
	for _, s := range selected {
		quote.tvlIn.Add(quote.tvlIn, s.tvlIn)
		quote.tvlOut.Add(quote.tvlOut, s.tvlOut)
	}
	return quote, true
}
