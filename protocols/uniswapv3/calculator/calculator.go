package uniswapv3

import (
	"errors"
	"fmt"
	"math/big"

	uniswapv2calculator "github.com/defistate/defistate-pricing-go/protocols/uniswapv2/calculator"
	uniswapv3 "github.com/defistate/defistate-pricing-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenMismatch = errors.New("token mismatch")
	ErrZeroPrice     = errors.New("zero sqrt price")

	Q96, _  = new(big.Int).SetString("79228162514264337593543950336", 10)
	Q192    = new(big.Int).Mul(Q96, Q96)
	ratZero = new(big.Rat)
)

// GetSpotPrice returns how many whole units of the other token one whole unit
// of base is worth. SqrtPriceX96 is a Q64.96 fixed-point sqrt(token1/token0);
// without one the price is read from Tick.
func GetSpotPrice(base common.Address, pool uniswapv3.Pool) (*big.Rat, error) {
	if base != pool.Token0 && base != pool.Token1 {
		return nil, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, base.Hex(), pool.Address.Hex())
	}
	if pool.SqrtPriceX96 != nil && pool.SqrtPriceX96.IsZero() {
		return nil, fmt.Errorf("%w: pool %s", ErrZeroPrice, pool.Address.Hex())
	}
	sqrtPrice, err := sqrtPriceOf(pool.SqrtPriceX96, pool.Tick)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", pool.Address.Hex(), err)
	}
	raw := new(big.Rat).SetFrac(new(big.Int).Mul(sqrtPrice, sqrtPrice), Q192)

	// raw is token1 per token0 in base units; shift to whole units.
	scale := new(big.Rat).SetFrac(
		uniswapv2calculator.GetScaledDecimal(pool.Decimals0),
		uniswapv2calculator.GetScaledDecimal(pool.Decimals1),
	)
	price := raw.Mul(raw, scale)

	if base == pool.Token0 {
		return price, nil
	}
	return price.Inv(price), nil
}

// GetVirtualReserves calculates the virtual reserves of the pool's active range
// in base units, ordered as (reserve0, reserve1).
func GetVirtualReserves(pool uniswapv3.Pool) (reserve0, reserve1 *big.Rat) {
	if pool.Liquidity == nil || (pool.SqrtPriceX96 != nil && pool.SqrtPriceX96.IsZero()) {
		return new(big.Rat), new(big.Rat)
	}
	sqrtPrice, err := sqrtPriceOf(pool.SqrtPriceX96, pool.Tick)
	if err != nil {
		return new(big.Rat), new(big.Rat)
	}
	liquidity := pool.Liquidity.ToBig()

	reserve0 = new(big.Rat).SetFrac(new(big.Int).Lsh(liquidity, 96), sqrtPrice)
	reserve1 = new(big.Rat).SetFrac(new(big.Int).Mul(liquidity, sqrtPrice), Q96)
	return reserve0, reserve1
}

// GetTVL returns the whole-unit virtual reserves ordered as (base, other).
func GetTVL(base common.Address, pool uniswapv3.Pool) (*big.Rat, *big.Rat) {
	reserve0, reserve1 := GetVirtualReserves(pool)
	reserve0.Quo(reserve0, new(big.Rat).SetInt(uniswapv2calculator.GetScaledDecimal(pool.Decimals0)))
	reserve1.Quo(reserve1, new(big.Rat).SetInt(uniswapv2calculator.GetScaledDecimal(pool.Decimals1)))

	switch base {
	case pool.Token0:
		return reserve0, reserve1
	case pool.Token1:
		return reserve1, reserve0
	}
	return new(big.Rat).Set(ratZero), new(big.Rat).Set(ratZero)
}
