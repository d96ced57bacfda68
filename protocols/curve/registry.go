package curve

import (
	"math/big"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// Schema is the decode contract for two-coin stable-swap pool state.
const Schema engine.ProtocolSchema = "defistate/curve-stableswap/PoolView@v1"

type Pool struct {
	Address       common.Address `json:"address"`
	Token0        common.Address `json:"token0"`
	Token1        common.Address `json:"token1"`
	Decimals0     uint8          `json:"decimals0"`
	Decimals1     uint8          `json:"decimals1"`
	Balance0      *big.Int       `json:"balance0"`
	Balance1      *big.Int       `json:"balance1"`
	Amplification uint64         `json:"amplification"`
	FeeBps        uint16         `json:"feeBps"`
}

// PairInfo returns the pool's graph identity.
func (p Pool) PairInfo() engine.PoolPairInfo {
	return engine.PoolPairInfo{
		PoolAddr: p.Address,
		Token0:   p.Token0,
		Token1:   p.Token1,
		Schema:   Schema,
	}
}
