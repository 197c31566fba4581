package emit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/instr"
)

func TestEmitReturnsStablePC(t *testing.T) {
	buf := emit.New()
	pc0 := buf.Emit(instr.CreateABC(instr.MOVE, 0, 0, 0, false))
	pc1 := buf.Emit(instr.CreateABC(instr.ADD, 1, 0, 0, false))
	require.Equal(t, 0, pc0)
	require.Equal(t, 1, pc1)
	require.Equal(t, 2, buf.Len())
}

func TestPatchOverwritesInPlace(t *testing.T) {
	buf := emit.New()
	pc := buf.Emit(instr.CreateSJ(instr.JMP, instr.OFFSET_sJ, 0))
	require.NoError(t, buf.Patch(pc, instr.CreateSJ(instr.JMP, 10+instr.OFFSET_sJ, 0)))

	got, err := buf.At(pc)
	require.NoError(t, err)
	require.Equal(t, 10, got.SJ())
}

func TestPatchOutOfRange(t *testing.T) {
	buf := emit.New()
	buf.Emit(instr.CreateABC(instr.MOVE, 0, 0, 0, false))
	require.Error(t, buf.Patch(5, 0))
	require.Error(t, buf.Patch(-1, 0))
}

func TestAtOutOfRange(t *testing.T) {
	buf := emit.New()
	_, err := buf.At(0)
	require.Error(t, err)
}

func TestGrowsBeyondInitialCapacity(t *testing.T) {
	buf := emit.New()
	for i := 0; i < 500; i++ {
		pc := buf.Emit(instr.CreateABC(instr.MOVE, 0, 0, 0, false))
		require.Equal(t, i, pc)
	}
	require.Equal(t, 500, buf.Len())
	require.Equal(t, 500, len(buf.Code()))
}
