package uniswapv2

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type UniswapV2SystemDiff struct {
	Additions []Pool           `json:"additions,omitempty"`
	Updates   []Pool           `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d UniswapV2SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func intChanged(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Cmp(b) != 0
}

// reservesChanged compares the only fields that move between blocks.
// The Cmp method on big.Int returns 0 if the numbers are equal.
func reservesChanged(old, new Pool) bool {
	return intChanged(old.Reserve0, new.Reserve0) || intChanged(old.Reserve1, new.Reserve1)
}

// Differ calculates the difference between two states of constant-product
// pools, keyed by pool address. Additions and updates keep the order of new;
// deletions keep the order of old.
func Differ(old, new []Pool) UniswapV2SystemDiff {
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
		if reservesChanged(oldPool, newPool) {
			updates = append(updates, newPool)
		}
	}

	var deletions []common.Address
	for _, oldPool := range old {
		if _, exists := newPoolsMap[oldPool.Address]; !exists {
			deletions = append(deletions, oldPool.Address)
		}
	}

	return UniswapV2SystemDiff{
		Additions: additions,
		Updates:   updates,
		Deletions: deletions,
	}
}
