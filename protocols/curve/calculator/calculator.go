package curve

import (
	"errors"
	"fmt"
	"math/big"

	curve "github.com/defistate/defistate-pricing-go/protocols/curve"
	uniswapv2calculator "github.com/defistate/defistate-pricing-go/protocols/uniswapv2/calculator"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// internal balances are carried with 18 decimals, like the on-chain rates
	precisionDecimals = 18
	maxIterations     = 255
	nCoins            = 2
)

var (
	ErrTokenMismatch  = errors.New("token mismatch")
	ErrZeroBalance    = errors.New("zero balance")
	ErrNoConvergence  = errors.New("invariant did not converge")
	ErrInvalidAmpCoef = errors.New("amplification must be positive")

	bigOne   = big.NewInt(1)
	bigTwo   = big.NewInt(2)
	bigThree = big.NewInt(3)
)

// normalize scales a raw balance to 18 decimals.
func normalize(balance *big.Int, decimals uint8) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	if decimals <= precisionDecimals {
		return new(big.Int).Mul(balance, uniswapv2calculator.GetScaledDecimal(precisionDecimals-decimals))
	}
	return new(big.Int).Quo(balance, uniswapv2calculator.GetScaledDecimal(decimals-precisionDecimals))
}

// balances returns the 18-decimal balances ordered as (base, other).
func balances(base common.Address, pool curve.Pool) (x, y *big.Int, err error) {
	b0 := normalize(pool.Balance0, pool.Decimals0)
	b1 := normalize(pool.Balance1, pool.Decimals1)
	switch base {
	case pool.Token0:
		return b0, b1, nil
	case pool.Token1:
		return b1, b0, nil
	}
	return nil, nil, fmt.Errorf("%w: pool %s does not contain token %s", ErrTokenMismatch, pool.Address.Hex(), base.Hex())
}

// GetD solves the two-coin stable-swap invariant
//
//	Ann*(x+y) + D = Ann*D + D^3/(4xy),  Ann = A*n^n
//
// for D with Newton's method.
func GetD(x, y *big.Int, amplification uint64) (*big.Int, error) {
	if amplification == 0 {
		return nil, ErrInvalidAmpCoef
	}
	if x.Sign() <= 0 || y.Sign() <= 0 {
		return nil, ErrZeroBalance
	}

	sum := new(big.Int).Add(x, y)
	ann := new(big.Int).SetUint64(amplification * nCoins * nCoins)
	annMinusOne := new(big.Int).Sub(ann, bigOne)
	xn := new(big.Int).Mul(x, bigTwo)
	yn := new(big.Int).Mul(y, bigTwo)

	d := new(big.Int).Set(sum)
	dP := new(big.Int)
	prev := new(big.Int)
	num := new(big.Int)
	den := new(big.Int)
	tmp := new(big.Int)

	for i := 0; i < maxIterations; i++ {
		dP.Mul(d, d)
		dP.Quo(dP, xn)
		dP.Mul(dP, d)
		dP.Quo(dP, yn)

		prev.Set(d)

		num.Mul(ann, sum)
		tmp.Mul(dP, bigTwo)
		num.Add(num, tmp)
		num.Mul(num, d)

		den.Mul(annMinusOne, d)
		tmp.Mul(dP, bigThree)
		den.Add(den, tmp)

		d.Quo(num, den)

		if tmp.Sub(d, prev).CmpAbs(bigOne) <= 0 {
			return d, nil
		}
	}
	return nil, ErrNoConvergence
}

// GetSpotPrice returns the marginal rate of base in the other token, i.e. the
// ratio of the invariant's partial derivatives:
//
//	(16A x²y² + D³y) / (16A x²y² + D³x)
func GetSpotPrice(base common.Address, pool curve.Pool) (*big.Rat, error) {
	x, y, err := balances(base, pool)
	if err != nil {
		return nil, err
	}
	d, err := GetD(x, y, pool.Amplification)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", pool.Address.Hex(), err)
	}

	d3 := new(big.Int).Mul(d, d)
	d3.Mul(d3, d)

	xy := new(big.Int).Mul(x, y)
	weight := new(big.Int).Mul(xy, xy)
	weight.Mul(weight, new(big.Int).SetUint64(16*pool.Amplification))

	num := new(big.Int).Mul(d3, y)
	num.Add(num, weight)
	den := new(big.Int).Mul(d3, x)
	den.Add(den, weight)

	return new(big.Rat).SetFrac(num, den), nil
}

// GetTVL returns the whole-unit balances ordered as (base, other).
func GetTVL(base common.Address, pool curve.Pool) (*big.Rat, *big.Rat) {
	b0 := uniswapv2calculator.Normalize(pool.Balance0, pool.Decimals0)
	b1 := uniswapv2calculator.Normalize(pool.Balance1, pool.Decimals1)
	switch base {
	case pool.Token0:
		return b0, b1
	case pool.Token1:
		return b1, b0
	}
	return new(big.Rat), new(big.Rat)
}
