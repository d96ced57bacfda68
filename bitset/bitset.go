package bitset

import "math/bits"

// NewBitSet returns a zeroed set able to hold indices in [0, len).
func NewBitSet(len uint64) BitSet {
	words := (len + 63) / 64
	bits := make([]uint64, words)
	return bits
}

// BitSet is a fixed-size set of small non-negative integers, used for
// visited/reachable marks over graph node indices.
type BitSet []uint64

func (b BitSet) IsSet(index uint64) bool {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	return (b[wordPosition] & mask) != 0
}

func (b BitSet) Set(index uint64) {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	b[wordPosition] |= mask
}

// TestAndSet sets the bit and reports whether it was already set.
func (b BitSet) TestAndSet(index uint64) bool {
	if b.IsSet(index) {
		return true
	}
	b.Set(index)
	return false
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	count := 0
	for _, word := range b {
		count += bits.OnesCount64(word)
	}
	return count
}
