package uniswapv3

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type UniswapV3SystemDiff struct {
	Additions []Pool           `json:"additions,omitempty"`
	Updates   []Pool           `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d UniswapV3SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func uintChanged(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a != b
	}
	return !a.Eq(b)
}

func poolChanged(old, new Pool) bool {
	if old.Tick != new.Tick {
		return true
	}
	return uintChanged(old.SqrtPriceX96, new.SqrtPriceX96) || uintChanged(old.Liquidity, new.Liquidity)
}

// Differ calculates the difference between two states of concentrated-liquidity
// pools, keyed by pool address. Additions and updates keep the order of new;
// deletions keep the order of old.
func Differ(old, new []Pool) UniswapV3SystemDiff {
	oldPoolsMap := make(map[common.Address]Pool, len(old))
	for _, pool := range old {
		oldPoolsMap[pool.Address] = pool
	}

	newPoolsMap := make(map[common.Address]struct{}, len(new))
	var additions []Pool
	var updates []Pool
	for _, newPool := range new {
		newPoolsMap[newPool.Address] = struct{}{}
		oldPool, exists := oldPoolsMap[newPool.Address]
		if !exists {
			additions = append(additions, newPool)
			continue
		}
		if poolChanged(oldPool, newPool) {
			updates = append(updates, newPool)
		}
	}

	var deletions []common.Address
	for _, oldPool := range old {
		if _, exists := newPoolsMap[oldPool.Address]; !exists {
			deletions = append(deletions, oldPool.Address)
		}
	}

	return UniswapV3SystemDiff{
		Additions: additions,
		Updates:   updates,
		Deletions: deletions,
	}
}
