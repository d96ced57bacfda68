package uniswapv2

import (
	"math/big"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// Schema is the decode contract for constant-product pool state.
const Schema engine.ProtocolSchema = "defistate/uniswap-v2-system/PoolView@v1"

type Pool struct {
	Address   common.Address `json:"address"`
	Token0    common.Address `json:"token0"`
	Token1    common.Address `json:"token1"`
	Decimals0 uint8          `json:"decimals0"`
	Decimals1 uint8          `json:"decimals1"`
	Reserve0  *big.Int       `json:"reserve0"`
	Reserve1  *big.Int       `json:"reserve1"`
	FeeBps    uint16         `json:"feeBps"` // i.e 30 for 0.3%
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
