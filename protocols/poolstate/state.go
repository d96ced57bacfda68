// Package poolstate is the closed set of AMM pool kinds the pricing engine can
// read a price and a TVL from.
package poolstate

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/defistate/defistate-pricing-go/engine"
	curve "github.com/defistate/defistate-pricing-go/protocols/curve"
	curvecalculator "github.com/defistate/defistate-pricing-go/protocols/curve/calculator"
	uniswapv2 "github.com/defistate/defistate-pricing-go/protocols/uniswapv2"
	uniswapv2calculator "github.com/defistate/defistate-pricing-go/protocols/uniswapv2/calculator"
	uniswapv3 "github.com/defistate/defistate-pricing-go/protocols/uniswapv3"
	uniswapv3calculator "github.com/defistate/defistate-pricing-go/protocols/uniswapv3/calculator"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownSchema is returned for a State whose schema is not one of the known kinds.
var ErrUnknownSchema = errors.New("unknown pool schema")

// State is the state of exactly one pool. Schema selects which of the kind
// fields is populated; the others are zero.
type State struct {
	Schema engine.ProtocolSchema `json:"schema"`

	UniswapV2 *uniswapv2.Pool `json:"uniswapV2,omitempty"`
	UniswapV3 *uniswapv3.Pool `json:"uniswapV3,omitempty"`
	Curve     *curve.Pool     `json:"curve,omitempty"`
}

func FromUniswapV2(p uniswapv2.Pool) State {
	return State{Schema: uniswapv2.Schema, UniswapV2: &p}
}

func FromUniswapV3(p uniswapv3.Pool) State {
	return State{Schema: uniswapv3.Schema, UniswapV3: &p}
}

func FromCurve(p curve.Pool) State {
	return State{Schema: curve.Schema, Curve: &p}
}

// Info returns the pool's graph identity.
func (s State) Info() (engine.PoolPairInfo, error) {
	switch {
	case s.Schema == uniswapv2.Schema && s.UniswapV2 != nil:
		return s.UniswapV2.PairInfo(), nil
	case s.Schema == uniswapv3.Schema && s.UniswapV3 != nil:
		return s.UniswapV3.PairInfo(), nil
	case s.Schema == curve.Schema && s.Curve != nil:
		return s.Curve.PairInfo(), nil
	}
	return engine.PoolPairInfo{}, fmt.Errorf("%w: %q", ErrUnknownSchema, s.Schema)
}

// Address returns the pool address, or the zero address for a malformed state.
func (s State) Address() common.Address {
	info, err := s.Info()
	if err != nil {
		return common.Address{}
	}
	return info.PoolAddr
}

// Price returns how many whole units of the pool's other token one whole unit
// of base is worth.
func (s State) Price(base common.Address) (*big.Rat, error) {
	switch {
	case s.Schema == uniswapv2.Schema && s.UniswapV2 != nil:
		return uniswapv2calculator.GetSpotPrice(base, *s.UniswapV2)
	case s.Schema == uniswapv3.Schema && s.UniswapV3 != nil:
		return uniswapv3calculator.GetSpotPrice(base, *s.UniswapV3)
	case s.Schema == curve.Schema && s.Curve != nil:
		return curvecalculator.GetSpotPrice(base, *s.Curve)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, s.Schema)
}

// TVL returns the whole-unit amounts held by the pool ordered as (base, other).
func (s State) TVL(base common.Address) (*big.Rat, *big.Rat) {
	switch {
	case s.Schema == uniswapv2.Schema && s.UniswapV2 != nil:
		return uniswapv2calculator.GetTVL(base, *s.UniswapV2)
	case s.Schema == uniswapv3.Schema && s.UniswapV3 != nil:
		return uniswapv3calculator.GetTVL(base, *s.UniswapV3)
	case s.Schema == curve.Schema && s.Curve != nil:
		return curvecalculator.GetTVL(base, *s.Curve)
	}
	return new(big.Rat), new(big.Rat)
}

// Snapshot is a read-only view of pool states at one block, keyed by pool address.
type Snapshot map[common.Address]State

func (s Snapshot) Get(pool common.Address) (State, bool) {
	state, ok := s[pool]
	return state, ok
}

// Put stores st under its own pool address.
func (s Snapshot) Put(st State) {
	s[st.Address()] = st
}

// Addresses returns the pool addresses in ascending order.
func (s Snapshot) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(s))
	for addr := range s {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}
