package instr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/instr"
)

func TestCreateABCRoundTrip(t *testing.T) {
	cases := []struct {
		desc       string
		op         instr.Opcode
		a, b, c    int
		k          bool
	}{
		{"move", instr.MOVE, 1, 2, 0, false},
		{"add with k", instr.ADD, 7, 8, 9, true},
		{"max fields", instr.ADDI, 255, 255, 255, true},
		{"zero fields", instr.RETURN0, 0, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			i := instr.CreateABC(tc.op, tc.a, tc.b, tc.c, tc.k)
			require.Equal(t, tc.op, i.Op())
			require.Equal(t, tc.a, i.A())
			require.Equal(t, tc.b, i.B())
			require.Equal(t, tc.c, i.C())
			require.Equal(t, tc.k, i.K())
		})
	}
}

func TestCreateABxRoundTrip(t *testing.T) {
	i := instr.CreateABx(instr.LOADI, 3, 12345)
	require.Equal(t, instr.LOADI, i.Op())
	require.Equal(t, 3, i.A())
	require.Equal(t, 12345, i.Bx())
}

func TestCreateSJRoundTrip(t *testing.T) {
	// a forward jump of +5 biased into the sJ field and back out again.
	sj := 5 + instr.OFFSET_sJ
	i := instr.CreateSJ(instr.JMP, sj, 0)
	require.Equal(t, instr.JMP, i.Op())
	require.Equal(t, 5, i.SJ())
}

func TestCreateAxRoundTrip(t *testing.T) {
	i := instr.CreateAx(instr.MOVE, 0x1ABCDEF)
	require.Equal(t, uint32(0x1ABCDEF), i.Ax())
}

func TestSCBias(t *testing.T) {
	i := instr.CreateABCk(instr.EQI, 1, 0, instr.Int2sC(-5), 1)
	require.Equal(t, -5, i.SC())
}

func TestInt2sCRoundTrip(t *testing.T) {
	for _, v := range []int{-127, -1, 0, 1, 127} {
		biased := instr.Int2sC(v)
		i := instr.CreateABC(instr.EQI, 0, 0, biased, false)
		require.Equal(t, v, i.SC())
	}
}

func TestOpcodeString(t *testing.T) {
	require.Equal(t, "move", instr.MOVE.String())
	require.Equal(t, "jmp", instr.JMP.String())
	require.Equal(t, "illegal", instr.Opcode(250).String())
}

func TestAllOpcodesUnique(t *testing.T) {
	seen := map[instr.Opcode]bool{}
	for _, op := range instr.AllOpcodes() {
		require.False(t, seen[op], "duplicate opcode %v", op)
		seen[op] = true
		require.NotEqual(t, "illegal", op.String())
	}
}
