package state_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/block"
	"github.com/mna/cflatten/vm/state"
)

func makeBlocks(n int) []block.Block {
	blocks := make([]block.Block, n)
	for i := range blocks {
		blocks[i] = block.Block{Index: i, IsEntry: i == 0}
	}
	return blocks
}

func TestAssignIdentity(t *testing.T) {
	ids := state.Assign(makeBlocks(5))
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, ids)
}

func TestShuffleKeepsEntryFixed(t *testing.T) {
	ids := state.Assign(makeBlocks(8))
	state.Shuffle(ids, 42)
	require.Equal(t, uint32(0), ids[0])
}

func TestShuffleIsPermutation(t *testing.T) {
	ids := state.Assign(makeBlocks(10))
	orig := append([]uint32(nil), ids...)
	state.Shuffle(ids, 7)

	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	origSorted := append([]uint32(nil), orig...)
	sort.Slice(origSorted, func(i, j int) bool { return origSorted[i] < origSorted[j] })
	require.Equal(t, origSorted, sorted)
}

func TestShuffleNoOpUnderThreeBlocks(t *testing.T) {
	for _, n := range []int{0, 1, 2} {
		ids := state.Assign(makeBlocks(n))
		before := append([]uint32(nil), ids...)
		state.Shuffle(ids, 123)
		require.Equal(t, before, ids)
	}
}

func TestShuffleDeterministicPerSeed(t *testing.T) {
	a := state.Assign(makeBlocks(12))
	b := state.Assign(makeBlocks(12))
	state.Shuffle(a, 999)
	state.Shuffle(b, 999)
	require.Equal(t, a, b)
}

// TestEncodeIsBijection: for any seed, Encode
// restricted to [0, Range) is a permutation.
func TestEncodeIsBijection(t *testing.T) {
	for _, seed := range []uint32{0, 1, 42, 123456789, 0xFFFFFFFF} {
		seen := make(map[uint32]bool, state.Range)
		for s := uint32(0); s < state.Range; s++ {
			enc := state.Encode(s, seed)
			require.Less(t, enc, uint32(state.Range))
			require.False(t, seen[enc], "seed=%d: collision at input %d -> %d", seed, s, enc)
			seen[enc] = true
		}
		require.Len(t, seen, state.Range)
	}
}

func TestBuildTableRoundTrip(t *testing.T) {
	ids := []uint32{0, 1, 2, 5, 9}
	tbl := state.BuildTable(ids, 55)
	for _, id := range ids {
		enc := tbl.Encode(id, 55)
		dec, ok := tbl.Decode(enc)
		require.True(t, ok)
		require.Equal(t, id, dec)
	}
}

func TestTableDecodeUnknownEncodedValue(t *testing.T) {
	tbl := state.BuildTable([]uint32{0, 1}, 1)
	_, ok := tbl.Decode(999999)
	require.False(t, ok)
}

func TestLCGDeterministic(t *testing.T) {
	a := state.NewLCG(10)
	b := state.NewLCG(10)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestLCGIntnRange(t *testing.T) {
	rng := state.NewLCG(1)
	for i := 0; i < 1000; i++ {
		v := rng.Intn(7)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 7)
	}
}
