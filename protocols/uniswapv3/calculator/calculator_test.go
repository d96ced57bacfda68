package uniswapv3

import (
	"testing"

	uniswapv3 "github.com/defistate/defistate-pricing-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token0 = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1 = common.HexToAddress("0x1000000000000000000000000000000000000002")
	other  = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func q96Multiple(n uint64) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(n), 96)
}

func TestGetSpotPrice(t *testing.T) {
	pool := uniswapv3.Pool{
		Address:      common.HexToAddress("0x2000000000000000000000000000000000000001"),
		Token0:       token0,
		Token1:       token1,
		Decimals0:    18,
		Decimals1:    18,
		Liquidity:    uint256.NewInt(1_000_000),
		SqrtPriceX96: q96Multiple(2), // price = 4
	}

	t.Run("Token0 priced in Token1", func(t *testing.T) {
		price, err := GetSpotPrice(token0, pool)
		require.NoError(t, err)
		assert.Equal(t, "4", price.RatString())
	})

	t.Run("Token1 priced in Token0", func(t *testing.T) {
		price, err := GetSpotPrice(token1, pool)
		require.NoError(t, err)
		assert.Equal(t, "1/4", price.RatString())
	})

	t.Run("Decimals adjust the price", func(t *testing.T) {
		adjusted := pool
		adjusted.Decimals0 = 18
		adjusted.Decimals1 = 6
		price, err := GetSpotPrice(token0, adjusted)
		require.NoError(t, err)
		assert.Equal(t, "4000000000000", price.RatString())
	})

	t.Run("Token not in pool", func(t *testing.T) {
		_, err := GetSpotPrice(other, pool)
		assert.ErrorIs(t, err, ErrTokenMismatch)
	})

	t.Run("Zero price", func(t *testing.T) {
		empty := pool
		empty.SqrtPriceX96 = uint256.NewInt(0)
		_, err := GetSpotPrice(token0, empty)
		assert.ErrorIs(t, err, ErrZeroPrice)
	})
}

func TestGetTVL(t *testing.T) {
	pool := uniswapv3.Pool{
		Token0:       token0,
		Token1:       token1,
		Decimals0:    0,
		Decimals1:    0,
		Liquidity:    uint256.NewInt(1_000),
		SqrtPriceX96: q96Multiple(2),
	}

	base, quote := GetTVL(token0, pool)
	assert.Equal(t, "500", base.RatString())
	assert.Equal(t, "2000", quote.RatString())

	base, quote = GetTVL(token1, pool)
	assert.Equal(t, "2000", base.RatString())
	assert.Equal(t, "500", quote.RatString())

	base, quote = GetTVL(other, pool)
	assert.Zero(t, base.Sign())
	assert.Zero(t, quote.Sign())

	pool.Liquidity = nil
	base, quote = GetTVL(token0, pool)
	assert.Zero(t, base.Sign())
	assert.Zero(t, quote.Sign())
}
