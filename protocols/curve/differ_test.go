package curve

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolAt(n int64, balance0, balance1 int64, amp uint64) Pool {
	return Pool{
		Address:       common.BigToAddress(big.NewInt(n)),
		Balance0:      big.NewInt(balance0),
		Balance1:      big.NewInt(balance1),
		Amplification: amp,
	}
}

func TestDifferAndPatcher(t *testing.T) {
	old := []Pool{poolAt(1, 100, 100, 50), poolAt(2, 10, 10, 50)}
	next := []Pool{poolAt(1, 100, 100, 60), poolAt(3, 5, 5, 10)}

	diff := Differ(old, next)
	require.Len(t, diff.Updates, 1, "amplification ramp is an update")
	require.Len(t, diff.Additions, 1)
	assert.Equal(t, []common.Address{common.BigToAddress(big.NewInt(2))}, diff.Deletions)

	patched, err := Patcher(old, diff)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
	assert.True(t, Differ(next, patched).IsEmpty())

	old[0].Balance0.SetInt64(1)
	assert.Equal(t, int64(100), patched[0].Balance0.Int64())

	_, err = Patcher(old, CurveSystemDiff{Deletions: []common.Address{{0x9}}})
	assert.Error(t, err)
}
