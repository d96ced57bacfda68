// Package statetracker keeps the pool states loaded for each block in flight.
//
// The tracker is the one structure shared between the pricing driver and the
// parallel verification workers, so every method is safe for concurrent use.
// Workers only ever see the immutable snapshots returned by
// StateForVerification.
package statetracker

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/protocols/poolstate"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrUnknownBlock is returned when a block has no state in the tracker.
	ErrUnknownBlock = errors.New("unknown block")
	// ErrBlockExists is returned when a diff would overwrite a block's state.
	ErrBlockExists = errors.New("block already tracked")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type TrackerConfig struct {
	Logger   Logger
	Registry prometheus.Registerer
}

func (c *TrackerConfig) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

type blockState struct {
	// copy-on-write: replaced, never mutated, once handed out
	states    poolstate.Snapshot
	finalized mapset.Set[common.Address]
}

// Tracker is an in-memory per-block pool state store.
type Tracker struct {
	mu     sync.RWMutex
	blocks map[uint64]*blockState

	logger      Logger
	loaded      prometheus.Gauge
	blocksGauge prometheus.Gauge
}

func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		blocks: make(map[uint64]*blockState),
		logger: cfg.Logger,
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricing",
			Subsystem: "state_tracker",
			Name:      "loaded_pool_states",
			Help:      "Pool states held across all tracked blocks.",
		}),
		blocksGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricing",
			Subsystem: "state_tracker",
			Name:      "tracked_blocks",
			Help:      "Blocks with pool state in memory.",
		}),
	}
	cfg.Registry.MustRegister(t.loaded, t.blocksGauge)
	return t, nil
}

// must be called with mu held
func (t *Tracker) updateGauges() {
	total := 0
	for _, b := range t.blocks {
		total += len(b.states)
	}
	t.loaded.Set(float64(total))
	t.blocksGauge.Set(float64(len(t.blocks)))
}

// must be called with mu held
func (t *Tracker) block(block uint64) *blockState {
	b, ok := t.blocks[block]
	if !ok {
		b = &blockState{
			states:    make(poolstate.Snapshot),
			finalized: mapset.NewThreadUnsafeSet[common.Address](),
		}
		t.blocks[block] = b
	}
	return b
}

// ApplyState loads pool states for block, replacing any previous state of the
// same pools.
func (t *Tracker) ApplyState(block uint64, states ...poolstate.State) error {
	for _, st := range states {
		if _, err := st.Info(); err != nil {
			return fmt.Errorf("statetracker: block %d: %w", block, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.block(block)
	next := make(poolstate.Snapshot, len(b.states)+len(states))
	for addr, st := range b.states {
		next[addr] = st
	}
	for _, st := range states {
		next.Put(st)
	}
	b.states = next
	t.updateGauges()
	return nil
}

// ApplyDiff derives block's state by patching the state of parent.
func (t *Tracker) ApplyDiff(block, parent uint64, diff poolstate.SnapshotDiff) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.blocks[block]; ok {
		return fmt.Errorf("statetracker: %w: %d", ErrBlockExists, block)
	}
	prev, ok := t.blocks[parent]
	if !ok {
		return fmt.Errorf("statetracker: parent of %d: %w: %d", block, ErrUnknownBlock, parent)
	}

	next, err := poolstate.Patch(prev.states, diff)
	if err != nil {
		return fmt.Errorf("statetracker: block %d: %w", block, err)
	}
	t.block(block).states = next
	t.updateGauges()

	t.logger.Debug("applied state diff",
		"block", block,
		"parent", parent,
		"added", len(diff.Added()),
		"deleted", len(diff.Deleted()),
	)
	return nil
}

// MissingState returns the pools among edges whose state at block is not
// loaded, each pool once, in edge order.
func (t *Tracker) MissingState(block uint64, edges []engine.SubGraphEdge) []engine.PoolPairInfoDirection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var states poolstate.Snapshot
	if b, ok := t.blocks[block]; ok {
		states = b.states
	}

	seen := make(map[common.Address]struct{})
	var missing []engine.PoolPairInfoDirection
	for _, e := range edges {
		if _, ok := states[e.PoolAddr()]; ok {
			continue
		}
		if _, ok := seen[e.PoolAddr()]; ok {
			continue
		}
		seen[e.PoolAddr()] = struct{}{}
		missing = append(missing, e.PoolPairInfoDirection)
	}
	return missing
}

// MarkStateAsFinalized pins a pool's state at block so FinalizeBlock keeps it.
func (t *Tracker) MarkStateAsFinalized(block uint64, pool common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.blocks[block]
	if !ok {
		return
	}
	if _, ok := b.states[pool]; ok {
		b.finalized.Add(pool)
	}
}

// StateForVerification returns the states loaded at block. The snapshot is
// never written after it is returned and must not be modified by the caller.
func (t *Tracker) StateForVerification(block uint64) subgraph.StateReader {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if b, ok := t.blocks[block]; ok {
		return b.states
	}
	return poolstate.Snapshot{}
}

// FinalizeBlock stops tracking block and returns the states that were marked
// finalized. Everything else loaded for the block is dropped.
func (t *Tracker) FinalizeBlock(block uint64) (poolstate.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.blocks[block]
	if !ok {
		return nil, fmt.Errorf("statetracker: %w: %d", ErrUnknownBlock, block)
	}
	delete(t.blocks, block)

	kept := make(poolstate.Snapshot, b.finalized.Cardinality())
	for pool := range b.finalized.Iter() {
		kept[pool] = b.states[pool]
	}
	t.updateGauges()

	t.logger.Debug("finalized block",
		"block", block,
		"kept", len(kept),
		"dropped", len(b.states)-len(kept),
	)
	return kept, nil
}
