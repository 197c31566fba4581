package bogus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/bogus"
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

func TestGenerateRunLengthBounds(t *testing.T) {
	rng := state.NewLCG(1)
	for i := 0; i < 50; i++ {
		seq := bogus.Generate(rng, 4)
		require.GreaterOrEqual(t, len(seq), 3)
		require.LessOrEqual(t, len(seq), 8)
	}
}

func TestGenerateStaysBelowReservedRegister(t *testing.T) {
	rng := state.NewLCG(2)
	const belowReg = 3
	for i := 0; i < 50; i++ {
		for _, in := range bogus.Generate(rng, belowReg) {
			require.Less(t, in.A(), belowReg)
			if in.Op() == instr.ADDI || in.Op() == instr.MOVE {
				require.Less(t, in.B(), belowReg)
			}
		}
	}
}

func TestGenerateHandlesDegenerateBelowReg(t *testing.T) {
	rng := state.NewLCG(3)
	seq := bogus.Generate(rng, 0)
	require.NotEmpty(t, seq)
	for _, in := range seq {
		require.Equal(t, 0, in.A())
	}
}

func TestCountIsTwicePerRealBlock(t *testing.T) {
	require.Equal(t, 0, bogus.Count(0))
	require.Equal(t, 6, bogus.Count(3))
	require.Equal(t, 200, bogus.Count(100))
}

func TestNOPPadIsAlwaysSelfMove(t *testing.T) {
	rng := state.NewLCG(5)
	for i := 0; i < 50; i++ {
		for _, in := range bogus.NOPPad(rng, 4) {
			require.Equal(t, instr.MOVE, in.Op())
			require.Equal(t, in.A(), in.B(), "a true no-op must move a register onto itself")
			require.Less(t, in.A(), 4)
		}
	}
}

func TestNOPPadRunLengthBounded(t *testing.T) {
	rng := state.NewLCG(6)
	for i := 0; i < 50; i++ {
		seq := bogus.NOPPad(rng, 4)
		require.LessOrEqual(t, len(seq), 3)
	}
}

func TestNOPPadHandlesDegenerateBelowReg(t *testing.T) {
	rng := state.NewLCG(7)
	for _, in := range bogus.NOPPad(rng, 0) {
		require.Equal(t, 0, in.A())
		require.Equal(t, 0, in.B())
	}
}
