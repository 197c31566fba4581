// Package state implements block-to-state-ID assignment, the optional
// Fisher-Yates shuffle of non-entry state IDs, and the state-encoding
// bijection.
package state

import "github.com/mna/cflatten/vm/block"

// Assign gives each block its initial state ID, equal to its index. Block 0
// (the entry, per the decomposer's invariant) always keeps state ID 0.
func Assign(blocks []block.Block) []uint32 {
	ids := make([]uint32, len(blocks))
	for i := range blocks {
		ids[i] = uint32(i)
	}
	return ids
}

// Shuffle permutes the state IDs of indices 1..n-1 using a Fisher-Yates
// shuffle driven by an LCG seeded per function, leaving ids[0] (the entry
// block's state ID) untouched. It is a no-op when there are fewer than 3
// blocks. After shuffling, ids remains a permutation of the original
// assignment.
func Shuffle(ids []uint32, seed uint32) {
	if len(ids) < 3 {
		return
	}
	rng := NewLCG(seed)
	// Fisher-Yates over indices 1..n-1, entry (index 0) excluded.
	for i := len(ids) - 1; i >= 2; i-- {
		j := 1 + rng.Intn(i)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
