package instr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/instr"
)

func TestIsBlockTerminator(t *testing.T) {
	yes := []instr.Opcode{
		instr.JMP, instr.FORLOOP, instr.FORPREP, instr.TFORPREP, instr.TFORLOOP,
		instr.EQ, instr.EQI, instr.TEST,
		instr.RETURN, instr.RETURN0, instr.RETURN1, instr.TAILCALL,
	}
	for _, op := range yes {
		require.True(t, instr.IsBlockTerminator(op), op.String())
	}
	no := []instr.Opcode{instr.MOVE, instr.ADD, instr.TFORCALL, instr.CALL, instr.LOADI}
	for _, op := range no {
		require.False(t, instr.IsBlockTerminator(op), op.String())
	}
}

// SETLIST's B=0 variadic-tail convention (source-preserved, not
// reinterpreted here) never affects block termination: SETLIST is an
// ordinary non-terminator regardless of its B operand.
func TestSetlistNeverTerminatesRegardlessOfB(t *testing.T) {
	require.False(t, instr.IsBlockTerminator(instr.SETLIST))
}

func TestIsJumpInstruction(t *testing.T) {
	require.True(t, instr.IsJumpInstruction(instr.JMP))
	require.True(t, instr.IsJumpInstruction(instr.FORLOOP))
	require.False(t, instr.IsJumpInstruction(instr.EQ))
	require.False(t, instr.IsJumpInstruction(instr.TFORCALL))
}

func TestIsConditionalTest(t *testing.T) {
	for _, op := range []instr.Opcode{instr.EQ, instr.LT, instr.LE, instr.EQI, instr.LTI, instr.LEI, instr.GEI, instr.GTI, instr.NEI, instr.TEST, instr.TESTSET} {
		require.True(t, instr.IsConditionalTest(op), op.String())
	}
	require.False(t, instr.IsConditionalTest(instr.JMP))
}

func TestIsReturn(t *testing.T) {
	for _, op := range []instr.Opcode{instr.RETURN, instr.RETURN0, instr.RETURN1, instr.TAILCALL} {
		require.True(t, instr.IsReturn(op), op.String())
	}
	require.False(t, instr.IsReturn(instr.CALL))
}

func TestJumpTargetJMP(t *testing.T) {
	// JMP at pc=10 with sJ=+3 targets pc+1+3 = 14.
	i := instr.CreateSJ(instr.JMP, 3+instr.OFFSET_sJ, 0)
	require.Equal(t, 14, instr.JumpTarget(i, 10))
}

func TestJumpTargetForLoop(t *testing.T) {
	// FORLOOP/TFORLOOP jump back by Bx from pc+1.
	i := instr.CreateABx(instr.FORLOOP, 0, 7)
	require.Equal(t, 10+1-7, instr.JumpTarget(i, 10))

	i2 := instr.CreateABx(instr.TFORLOOP, 0, 7)
	require.Equal(t, 10+1-7, instr.JumpTarget(i2, 10))
}

func TestJumpTargetForPrep(t *testing.T) {
	// FORPREP jumps forward by Bx+1 from pc+1.
	i := instr.CreateABx(instr.FORPREP, 0, 4)
	require.Equal(t, 10+1+4+1, instr.JumpTarget(i, 10))

	// TFORPREP jumps forward by Bx from pc+1.
	i2 := instr.CreateABx(instr.TFORPREP, 0, 4)
	require.Equal(t, 10+1+4, instr.JumpTarget(i2, 10))
}

func TestJumpTargetNonJump(t *testing.T) {
	i := instr.CreateABC(instr.MOVE, 0, 0, 0, false)
	require.Equal(t, -1, instr.JumpTarget(i, 10))
}
