package curve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type CurveSystemDiff struct {
	Additions []Pool           `json:"additions,omitempty"`
	Updates   []Pool           `json:"updates,omitempty"`
	Deletions []common.Address `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d CurveSystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func intChanged(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Cmp(b) != 0
}

// Amplification ramps between blocks, so it is compared with the balances.
func poolChanged(old, new Pool) bool {
	return old.Amplification != new.Amplification ||
		intChanged(old.Balance0, new.Balance0) ||
		intChanged(old.Balance1, new.Balance1)
}

// Differ calculates the difference between two states of stable-swap pools,
// keyed by pool address.
func Differ(old, new []Pool) CurveSystemDiff {
	oldPoolsMap := make(map[common.Address]Pool, len(old))
	for _, pool := range old {
		oldPoolsMap[pool.Address] = pool
	}

	newPoolsMap := make(map[common.Address]struct{}, len(new))
	var diff CurveSystemDiff
	for _, newPool := range new {
		newPoolsMap[newPool.Address] = struct{}{}
		oldPool, exists := oldPoolsMap[newPool.Address]
		switch {
		case !exists:
			diff.Additions = append(diff.Additions, newPool)
		case poolChanged(oldPool, newPool):
			diff.Updates = append(diff.Updates, newPool)
		}
	}
	for _, oldPool := range old {
		if _, exists := newPoolsMap[oldPool.Address]; !exists {
			diff.Deletions = append(diff.Deletions, oldPool.Address)
		}
	}
	return diff
}

func deepCopyPool(p Pool) Pool {
	newPool := p
	if p.Balance0 != nil {
		newPool.Balance0 = new(big.Int).Set(p.Balance0)
	}
	if p.Balance1 != nil {
		newPool.Balance1 = new(big.Int).Set(p.Balance1)
	}
	return newPool
}

// Patcher constructs the next state of stable-swap pools by applying a diff to
// a previous state. prevState is never mutated.
func Patcher(prevState []Pool, diff CurveSystemDiff) ([]Pool, error) {
	index := make(map[common.Address]int, len(prevState))
	newState := make([]Pool, 0, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		index[pool.Address] = len(newState)
		newState = append(newState, deepCopyPool(pool))
	}

	deleted := make(map[common.Address]struct{}, len(diff.Deletions))
	for _, addr := range diff.Deletions {
		if _, ok := index[addr]; !ok {
			return nil, fmt.Errorf("curve patcher: deletion of unknown pool %s", addr.Hex())
		}
		deleted[addr] = struct{}{}
	}
	for _, updated := range diff.Updates {
		i, ok := index[updated.Address]
		if !ok {
			return nil, fmt.Errorf("curve patcher: update of unknown pool %s", updated.Address.Hex())
		}
		newState[i] = deepCopyPool(updated)
	}
	for _, added := range diff.Additions {
		if _, ok := index[added.Address]; ok {
			return nil, fmt.Errorf("curve patcher: pool %s already exists", added.Address.Hex())
		}
		index[added.Address] = len(newState)
		newState = append(newState, deepCopyPool(added))
	}

	finalState := newState[:0]
	for _, pool := range newState {
		if _, ok := deleted[pool.Address]; !ok {
			finalState = append(finalState, pool)
		}
	}
	return finalState, nil
}
