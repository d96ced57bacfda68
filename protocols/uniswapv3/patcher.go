package uniswapv3

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// deepCopyPool creates a new Pool with its own memory for the uint256 fields.
func deepCopyPool(p Pool) Pool {
	newPool := p
	if p.Liquidity != nil {
		newPool.Liquidity = p.Liquidity.Clone()
	}
	if p.SqrtPriceX96 != nil {
		newPool.SqrtPriceX96 = p.SqrtPriceX96.Clone()
	}
	return newPool
}

// Patcher constructs the next state of concentrated-liquidity pools by
// applying a diff to a previous state. prevState is never mutated.
func Patcher(prevState []Pool, diff UniswapV3SystemDiff) ([]Pool, error) {
	index := make(map[common.Address]int, len(prevState))
	newState := make([]Pool, 0, len(prevState)+len(diff.Additions))
	for _, pool := range prevState {
		index[pool.Address] = len(newState)
		newState = append(newState, deepCopyPool(pool))
	}

	deleted := make(map[common.Address]struct{}, len(diff.Deletions))
	for _, addr := range diff.Deletions {
		if _, ok := index[addr]; !ok {
			return nil, fmt.Errorf("uniswapv3 patcher: deletion of unknown pool %s", addr.Hex())
		}
		deleted[addr] = struct{}{}
	}

	for _, updated := range diff.Updates {
		i, ok := index[updated.Address]
		if !ok {
			return nil, fmt.Errorf("uniswapv3 patcher: update of unknown pool %s", updated.Address.Hex())
		}
		newState[i] = deepCopyPool(updated)
	}

	for _, added := range diff.Additions {
		if _, ok := index[added.Address]; ok {
			return nil, fmt.Errorf("uniswapv3 patcher: pool %s already exists", added.Address.Hex())
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
