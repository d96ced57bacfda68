package verifier

import (
	"sort"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/defistate/defistate-pricing-go/subgraph"
	"github.com/ethereum/go-ethereum/common"
)

// Subgraph is a PairSubGraph under verification, with the partial paths that
// were discovered for it but not yet merged.
type Subgraph struct {
	subgraph            *subgraph.PairSubGraph
	frayedEndExtensions map[uint64][]engine.SubGraphEdge
	nextExtensionID     uint64
	block               uint64
	iters               int
	inRundown           bool
}

func newSubgraph(sg *subgraph.PairSubGraph, block uint64) *Subgraph {
	return &Subgraph{
		subgraph:            sg,
		frayedEndExtensions: make(map[uint64][]engine.SubGraphEdge),
		block:               block,
	}
}

func (s *Subgraph) addExtension(edges []engine.SubGraphEdge) uint64 {
	id := s.nextExtensionID
	s.nextExtensionID++
	s.frayedEndExtensions[id] = append([]engine.SubGraphEdge(nil), edges...)
	return id
}

// dropPool removes pool from the graph and from every attached extension,
// discarding extensions left empty. It returns the graph's removed edges per
// hop; they are empty when only extensions held the pool.
func (s *Subgraph) dropPool(pool common.Address) map[engine.Pair][]subgraph.BadEdge {
	for id, edges := range s.frayedEndExtensions {
		kept := edges[:0]
		for _, e := range edges {
			if e.PoolAddr() != pool {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.frayedEndExtensions, id)
			continue
		}
		s.frayedEndExtensions[id] = kept
	}
	return s.subgraph.RemovePool(pool)
}

// takeExtensions hands the attached extensions to a verification pass.
func (s *Subgraph) takeExtensions() map[uint64][]engine.SubGraphEdge {
	taken := s.frayedEndExtensions
	s.frayedEndExtensions = make(map[uint64][]engine.SubGraphEdge)
	return taken
}

func (s *Subgraph) extensionIDs() []uint64 {
	return sortedIDs(s.frayedEndExtensions)
}

// edges returns the graph's edges plus every attached extension.
func (s *Subgraph) edges() []engine.SubGraphEdge {
	edges := s.subgraph.Edges()
	for _, id := range s.extensionIDs() {
		edges = append(edges, s.frayedEndExtensions[id]...)
	}
	return edges
}

func sortedIDs(extensions map[uint64][]engine.SubGraphEdge) []uint64 {
	ids := make([]uint64, 0, len(extensions))
	for id := range extensions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
