package statetracker

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
	"github.com/ethereum/go-ethereum/common"
)

// SnapshotLoader loads pool state into a Tracker from an in-memory source,
// such as a fixture file or a state stream's latest snapshot.
type SnapshotLoader struct {
	tracker *Tracker
	source  func(block uint64) poolstate.Snapshot
}

// NewSnapshotLoader serves every block from source.
func NewSnapshotLoader(tracker *Tracker, source func(block uint64) poolstate.Snapshot) *SnapshotLoader {
	return &SnapshotLoader{tracker: tracker, source: source}
}

// StaticSource serves the same snapshot for every block.
func StaticSource(snap poolstate.Snapshot) func(uint64) poolstate.Snapshot {
	return func(uint64) poolstate.Snapshot { return snap }
}

// Load copies the requested pools' state at block into the tracker. Pools the
// source does not know, or whose state does not match the requested pair,
// are returned as unavailable.
func (l *SnapshotLoader) Load(ctx context.Context, block uint64, pools []engine.PoolPairInfoDirection) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := l.source(block)
	var (
		states      []poolstate.State
		unavailable []common.Address
	)
	for _, p := range pools {
		st, ok := source.Get(p.Info.PoolAddr)
		if !ok {
			unavailable = append(unavailable, p.Info.PoolAddr)
			continue
		}
		info, err := st.Info()
		if err != nil || info.Token0 != p.Info.Token0 || info.Token1 != p.Info.Token1 {
			unavailable = append(unavailable, p.Info.PoolAddr)
			continue
		}
		states = append(states, st)
	}

	if err := l.tracker.ApplyState(block, states...); err != nil {
		return nil, fmt.Errorf("loading %d pools: %w", len(states), err)
	}
	return unavailable, nil
}
