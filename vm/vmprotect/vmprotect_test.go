package vmprotect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/instr"
)

// TestEncryptionRoundTrip: for every (inst, key, pc),
// decrypt(encrypt(inst, key, pc), key, pc) == inst.
func TestEncryptionRoundTrip(t *testing.T) {
	keys := []uint64{0, 1, 0xDEADBEEFCAFEBABE, ^uint64(0)}
	words := []VMInstruction{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0102030405060708}

	for _, key := range keys {
		for _, w := range words {
			for pc := 0; pc < 130; pc += 7 {
				enc := Encrypt(w, key, pc)
				got := Decrypt(enc, key, pc)
				require.Equal(t, w, got, "key=%d pc=%d", key, pc)
			}
		}
	}
}

func TestOpcodeMapIsInjective(t *testing.T) {
	m := BuildOpcodeMap(42)
	seen := make(map[uint8]bool)
	for _, op := range instr.AllOpcodes() {
		vmOp, ok := m.toVM(op)
		require.True(t, ok)
		require.NotEqual(t, uint8(Halt), vmOp)
		require.False(t, seen[vmOp], "duplicate vm opcode %d", vmOp)
		seen[vmOp] = true

		back, ok := m.toSource(vmOp)
		require.True(t, ok)
		require.Equal(t, op, back)
	}
}

// TestProtectThenDecryptMatchesForwardMap protects a 20-instruction
// function, inspects the VM table, decrypts each entry and asserts the
// opcode matches the forward map of the original.
func TestProtectThenDecryptMatchesForwardMap(t *testing.T) {
	code := make([]instr.Instruction, 20)
	for i := range code {
		code[i] = instr.CreateABC(instr.ADDI, i%8, i%8, instr.Int2sC(i), false)
	}

	table, err := Protect(code, 2024)
	require.NoError(t, err)
	require.Len(t, table.Words, len(code)+1) // +1 for the trailing Halt

	for pc, want := range code {
		plain := Decrypt(table.Words[pc], table.Key, pc)
		vmOp := uint8(uint64(plain) >> vmPosOp)
		srcOp, ok := table.OpMap.toSource(vmOp)
		require.True(t, ok)
		require.Equal(t, want.Op(), srcOp)
	}
}

func TestProtectDecodeRoundTrip(t *testing.T) {
	code := []instr.Instruction{
		instr.CreateABC(instr.MOVE, 1, 2, 0, false),
		instr.CreateABC(instr.ADD, 3, 1, 2, true),
		instr.CreateABC(instr.SUB, 4, 3, 1, false),
		instr.CreateABC(instr.RETURN0, 0, 0, 0, false),
	}
	table, err := Protect(code, 5)
	require.NoError(t, err)
	require.NotNil(t, table)

	decoded, err := table.Decode()
	require.NoError(t, err)
	require.Len(t, decoded, len(code))
	for i, want := range code {
		require.Equal(t, want.Op(), decoded[i].Op())
		require.Equal(t, want.A(), decoded[i].A())
	}
}

func TestProtectDeclinesTooSmall(t *testing.T) {
	code := []instr.Instruction{
		instr.CreateABC(instr.MOVE, 1, 0, 0, false),
		instr.CreateABC(instr.RETURN0, 0, 0, 0, false),
	}
	table, err := Protect(code, 1)
	require.NoError(t, err)
	require.Nil(t, table)
}

func TestRegistryLookupAndFallbackScan(t *testing.T) {
	reg := NewRegistry()
	table, err := Protect([]instr.Instruction{
		instr.CreateABC(instr.MOVE, 0, 1, 0, false),
		instr.CreateABC(instr.MOVE, 1, 0, 0, false),
		instr.CreateABC(instr.MOVE, 2, 1, 0, false),
		instr.CreateABC(instr.RETURN0, 0, 0, 0, false),
	}, 1)
	require.NoError(t, err)
	require.NotNil(t, table)

	h := Handle(123)
	reg.Register(h, table)

	got, ok := reg.Lookup(h)
	require.True(t, ok)
	require.Same(t, table, got)

	reg.Forget(h)
	_, ok = reg.Lookup(h)
	require.False(t, ok)
}
