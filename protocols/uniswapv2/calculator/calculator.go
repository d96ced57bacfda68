package uniswapv2

import (
	"errors"
	"fmt"
	"math/big"

	uniswapv2 "github.com/defistate/defistate-pricing-go/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ten = big.NewInt(10)

	// precomputed 10^dec for typical ERC20 decimals (0..18)
	precomputedScales [19]*big.Int

	// ErrTokenMismatch is returned when the specified tokens do not match the pool's tokens.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrZeroReserve is returned when a price is requested from a pool with an empty side.
	ErrZeroReserve = errors.New("zero reserve")
)

func init() {
	precomputedScales[0] = big.NewInt(1)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(big.Int).Mul(precomputedScales[i-1], ten)
	}
}

// GetScaledDecimal returns 10^dec. It returns a *big.Int that MUST NOT be modified.
func GetScaledDecimal(dec uint8) *big.Int {
	if int(dec) < len(precomputedScales) {
		return precomputedScales[dec]
	}
	return new(big.Int).Exp(ten, big.NewInt(int64(dec)), nil)
}

// Normalize converts a raw token amount into whole-token units.
func Normalize(amount *big.Int, decimals uint8) *big.Rat {
	if amount == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(amount, GetScaledDecimal(decimals))
}

// GetReserves returns the raw reserves and decimals ordered as (in, out).
func GetReserves(tokenIn common.Address, pool uniswapv2.Pool) (reserveIn, reserveOut *big.Int, decimalsIn, decimalsOut uint8, err error) {
	switch tokenIn {
	case pool.Token0:
		return pool.Reserve0, pool.Reserve1, pool.Decimals0, pool.Decimals1, nil
	case pool.Token1:
		return pool.Reserve1, pool.Reserve0, pool.Decimals1, pool.Decimals0, nil
	}
	return nil, nil, 0, 0, fmt.Errorf("%w: pool %s does not contain token %s", ErrTokenMismatch, pool.Address.Hex(), tokenIn.Hex())
}

// GetSpotPrice returns how many whole units of the other token one whole unit
// of base is worth at the pool's current reserves.
func GetSpotPrice(base common.Address, pool uniswapv2.Pool) (*big.Rat, error) {
	reserveIn, reserveOut, decIn, decOut, err := GetReserves(base, pool)
	if err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pool %s", ErrZeroReserve, pool.Address.Hex())
	}

	in := Normalize(reserveIn, decIn)
	out := Normalize(reserveOut, decOut)
	return in.Quo(out, in), nil
}

// GetTVL returns the whole-unit reserves ordered as (base, other). A token that
// is not part of the pool yields zero on both sides.
func GetTVL(base common.Address, pool uniswapv2.Pool) (*big.Rat, *big.Rat) {
	reserveIn, reserveOut, decIn, decOut, err := GetReserves(base, pool)
	if err != nil {
		return new(big.Rat), new(big.Rat)
	}
	return Normalize(reserveIn, decIn), Normalize(reserveOut, decOut)
}
