package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolSchema defines the decode contract for a pool's state.
// Example:
// "defistate/uniswap-v2-system/PoolView@v1"
type ProtocolSchema string

// PoolPairInfo identifies a single pool and the two tokens it trades.
type PoolPairInfo struct {
	PoolAddr common.Address `json:"poolAddr"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Schema   ProtocolSchema `json:"schema"`
}

// Pair returns the (token0, token1) pair of the pool.
func (p PoolPairInfo) Pair() Pair {
	return NewPair(p.Token0, p.Token1)
}

// PoolPairInfoDirection is a pool used in one swap direction.
type PoolPairInfoDirection struct {
	Info     PoolPairInfo `json:"info"`
	Token0In bool         `json:"token0In"`
}

// NewPoolPairInfoDirection orients info so that tokenIn is the input token.
// ok is false when tokenIn is not traded by the pool.
func NewPoolPairInfoDirection(info PoolPairInfo, tokenIn common.Address) (PoolPairInfoDirection, bool) {
	switch tokenIn {
	case info.Token0:
		return PoolPairInfoDirection{Info: info, Token0In: true}, true
	case info.Token1:
		return PoolPairInfoDirection{Info: info, Token0In: false}, true
	}
	return PoolPairInfoDirection{}, false
}

func (d PoolPairInfoDirection) TokenIn() common.Address {
	if d.Token0In {
		return d.Info.Token0
	}
	return d.Info.Token1
}

func (d PoolPairInfoDirection) TokenOut() common.Address {
	if d.Token0In {
		return d.Info.Token1
	}
	return d.Info.Token0
}

// Hop returns the directed (tokenIn, tokenOut) pair.
func (d PoolPairInfoDirection) Hop() Pair {
	return NewPair(d.TokenIn(), d.TokenOut())
}

// SubGraphEdge is one directed use of one pool inside a pair subgraph.
type SubGraphEdge struct {
	PoolPairInfoDirection

	// hop distance from the subgraph's start token to TokenIn
	DistanceToStart uint8 `json:"distanceToStart"`
	// hop distance from TokenOut to the subgraph's end token
	DistanceToEnd uint8 `json:"distanceToEnd"`

	// Liquidity is filled in during verification and is valued in units of
	// the subgraph's end token. nil until the edge has been verified.
	Liquidity *big.Rat `json:"liquidity,omitempty"`
}

// NewSubGraphEdge creates an edge without liquidity information.
func NewSubGraphEdge(info PoolPairInfoDirection, distanceToStart, distanceToEnd uint8) SubGraphEdge {
	return SubGraphEdge{
		PoolPairInfoDirection: info,
		DistanceToStart:       distanceToStart,
		DistanceToEnd:         distanceToEnd,
	}
}

func (e SubGraphEdge) PoolAddr() common.Address {
	return e.Info.PoolAddr
}
