package fakefunc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/fakefunc"
	"github.com/mna/cflatten/vm/state"
)

func TestGenerateChainShape(t *testing.T) {
	rng := state.NewLCG(1)
	c := fakefunc.Generate(rng, 4)
	require.Len(t, c.Blocks, 4)
	for _, b := range c.Blocks {
		require.Len(t, b, 5)
	}
}

func TestGenerateStaysBelowReservedRegister(t *testing.T) {
	rng := state.NewLCG(2)
	const belowReg = 3
	c := fakefunc.Generate(rng, belowReg)
	for _, b := range c.Blocks {
		for _, in := range b {
			require.Less(t, in.A(), belowReg)
		}
	}
}

func TestEncodedIDOffsetAndSeedXOR(t *testing.T) {
	plain := fakefunc.EncodedID(0, 0, false)
	require.Equal(t, uint32(100), plain)

	withEncode := fakefunc.EncodedID(0, 42, true)
	expected := state.Encode(100, 42^0xABCDEF00)
	require.Equal(t, expected, withEncode)
}

func TestEncodedIDDistinctFromNestedSeedXOR(t *testing.T) {
	// The fake-function ID encoding uses a different XOR constant than the
	// nested dispatcher's inner-state encoding (0x12345678), so the two
	// ladders never share a comparand for the same seed.
	a := fakefunc.EncodedID(5, 7, true)
	b := state.Encode(105, 7^0x12345678)
	require.NotEqual(t, a, b)
}
