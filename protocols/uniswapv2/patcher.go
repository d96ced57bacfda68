package uniswapv2

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// deepCopyPool creates a new Pool with its own memory for pointer types like *big.Int.
// This is essential to prevent the new state from sharing memory with the old state.
func deepCopyPool(p Pool) Pool {
	newPool := p
	if p.Reserve0 != nil {
		newPool.Reserve0 = new(big.Int).Set(p.Reserve0)
	}
	if p.Reserve1 != nil {
		newPool.Reserve1 = new(big.Int).Set(p.Reserve1)
	}
	return newPool
}

// Patcher constructs the next state of constant-product pools by applying a
// diff to a previous state. prevState is never mutated. Surviving pools keep
// their previous order and additions are appended.
func Patcher(prevState []Pool, diff UniswapV2SystemDiff) ([]Pool, error) {
	index := make(map[common.Address]int, len(prevState))
	newState := make([]Pool, 0, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		index[pool.Address] = len(newState)
		newState = append(newState, deepCopyPool(pool))
	}

	deleted := make(map[common.Address]struct{}, len(diff.Deletions))
	for _, addr := range diff.Deletions {
		if _, ok := index[addr]; !ok {
			return nil, fmt.Errorf("uniswapv2 patcher: deletion of unknown pool %s", addr.Hex())
		}
		deleted[addr] = struct{}{}
	}

	for _, updated := range diff.Updates {
		i, ok := index[updated.Address]
		if !ok {
			return nil, fmt.Errorf("uniswapv2 patcher: update of unknown pool %s", updated.Address.Hex())
		}
		newState[i] = deepCopyPool(updated)
	}

	for _, added := range diff.Additions {
		if _, ok := index[added.Address]; ok {
			return nil, fmt.Errorf("uniswapv2 patcher: pool %s already exists", added.Address.Hex())
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
