package uniswapv3

import (
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Schema is the decode contract for concentrated-liquidity pool state.
const Schema engine.ProtocolSchema = "defistate/uniswap-v3-system/PoolView@v1"

// Pool is the slot0 + liquidity view of a concentrated-liquidity pool.
// Only the active range is needed for spot pricing, so ticks are not carried.
type Pool struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Decimals0    uint8          `json:"decimals0"`
	Decimals1    uint8          `json:"decimals1"`
	Fee          uint64         `json:"fee"`
	TickSpacing  uint64         `json:"tickSpacing"`
	Tick         int64          `json:"tick"`
	Liquidity    *uint256.Int   `json:"liquidity"`
	SqrtPriceX96 *uint256.Int   `json:"sqrtPriceX96"`
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
