package uniswapv3

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	MinTick = int64(-887272)
	MaxTick = int64(887272)
)

var (
	ErrTickOutOfBounds = errors.New("tick out of bounds")

	maxUint256 = new(uint256.Int).SetAllOne()

	// tickFactors[i] is 1/sqrt(1.0001^(2^i)) in Q128.128.
	tickFactors = [20]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
	q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) as a Q64.96, rounded up the way
// the pool contract does.
func SqrtPriceAtTick(tick int64) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfBounds
	}
	abs := tick
	if abs < 0 {
		abs = -abs
	}

	ratio := new(uint256.Int).Set(q128)
	for i, factor := range tickFactors {
		if abs&(1<<i) != 0 {
			ratio.Mul(ratio, factor).Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	roundUp := new(uint256.Int).And(ratio, uint256.NewInt(0xffffffff)).Sign() > 0
	ratio.Rsh(ratio, 32)
	if roundUp {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// sqrtPriceOf returns the pool's sqrt price, derived from its tick when the
// state carries none.
func sqrtPriceOf(sqrtPriceX96 *uint256.Int, tick int64) (*big.Int, error) {
	if sqrtPriceX96 != nil {
		return sqrtPriceX96.ToBig(), nil
	}
	atTick, err := SqrtPriceAtTick(tick)
	if err != nil {
		return nil, err
	}
	return atTick.ToBig(), nil
}
