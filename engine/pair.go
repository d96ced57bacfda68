package engine

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is a (Token0, Token1) token pair. For pricing, Token0 is the token being
// priced and Token1 the token it is priced in.
type Pair struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

func NewPair(token0, token1 common.Address) Pair {
	return Pair{Token0: token0, Token1: token1}
}

// Ordered returns the pair with the lower address first. Two pairs over the
// same tokens have the same ordered form regardless of direction.
func (p Pair) Ordered() Pair {
	if bytes.Compare(p.Token0.Bytes(), p.Token1.Bytes()) <= 0 {
		return p
	}
	return p.Flip()
}

// Flip swaps the two tokens.
func (p Pair) Flip() Pair {
	return Pair{Token0: p.Token1, Token1: p.Token0}
}

// IsZero reports whether either token is the zero address.
func (p Pair) IsZero() bool {
	return p.Token0 == (common.Address{}) || p.Token1 == (common.Address{})
}

func (p Pair) String() string {
	return fmt.Sprintf("%s-%s", p.Token0.Hex(), p.Token1.Hex())
}

// PairWithFirstPoolHop keys a verification. Paths for the same pair that leave
// the start token through different first pools are verified independently.
type PairWithFirstPoolHop struct {
	Pair         Pair           `json:"pair"`
	FirstPool    common.Address `json:"firstPool"`
	Intermediary common.Address `json:"intermediary"`
}

func NewPairWithFirstPoolHop(pair Pair, firstPool, intermediary common.Address) PairWithFirstPoolHop {
	return PairWithFirstPoolHop{
		Pair:         pair,
		FirstPool:    firstPool,
		Intermediary: intermediary,
	}
}

// PairWithFirstPoolHopFromPair keys a pair whose paths are not split by first hop.
func PairWithFirstPoolHopFromPair(pair Pair) PairWithFirstPoolHop {
	return PairWithFirstPoolHop{Pair: pair}
}

// HasFirstHop reports whether the key is bound to a specific first pool.
func (p PairWithFirstPoolHop) HasFirstHop() bool {
	return p.FirstPool != (common.Address{})
}

func (p PairWithFirstPoolHop) String() string {
	if !p.HasFirstHop() {
		return p.Pair.String()
	}
	return fmt.Sprintf("%s@%s/%s", p.Pair, p.FirstPool.Hex(), p.Intermediary.Hex())
}
