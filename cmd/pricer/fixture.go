package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
)

// loadFixture reads a JSON array of pool states, as written by
// poolstate.State's JSON encoding, into a snapshot.
func loadFixture(path string) (poolstate.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var states []poolstate.State
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("decoding fixture %s: %w", path, err)
	}

	snap := make(poolstate.Snapshot, len(states))
	for i, st := range states {
		info, err := st.Info()
		if err != nil {
			return nil, fmt.Errorf("fixture entry %d: %w", i, err)
		}
		if _, dup := snap[info.PoolAddr]; dup {
			return nil, fmt.Errorf("fixture entry %d: duplicate pool %s", i, info.PoolAddr.Hex())
		}
		snap.Put(st)
	}
	return snap, nil
}
