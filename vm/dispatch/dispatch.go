// Package dispatch builds the standard and nested dispatchers and rewrites
// each basic block's terminator into a state transition, assembling the
// whole flattened instruction stream into one output buffer.
package dispatch

import (
	"fmt"

	"github.com/mna/cflatten/vm/bogus"
	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

// Options selects which optional hardening layers a build applies, mirroring
// the embedding API's flag bitset (see flatten.Flag).
type Options struct {
	Seed           uint32
	Shuffle        bool
	Bogus          bool
	StateEncode    bool
	Nested         bool
	Opaque         bool
	FuncInterleave bool
	RandomNOP      bool
}

// Registers are the extra stack slots the transform reserves, numbered from
// the prototype's original max-stack-size upward.
type Registers struct {
	State  int
	Outer  int // -1 unless Options.Nested
	Scratch1, Scratch2 int // opaque-predicate live-in/intermediate, -1 unless Options.Opaque
	FuncID int // -1 unless Options.FuncInterleave
	Cmp    int // staging slot for ladder comparands too wide for a signed immediate
}

// allocateRegisters assigns the extra registers in a fixed order so that a
// given seed plus flag combination always yields the same layout.
func allocateRegisters(origMaxStack int, opts Options) Registers {
	next := origMaxStack
	r := Registers{Outer: -1, Scratch1: -1, Scratch2: -1, FuncID: -1}
	r.State = next
	next++
	if opts.Nested {
		r.Outer = next
		next++
	}
	if opts.Opaque {
		r.Scratch1, r.Scratch2 = next, next+1
		next += 2
	}
	if opts.FuncInterleave {
		r.FuncID = next
		next++
	}
	r.Cmp = next
	return r
}

// ExtraStack returns how many extra stack slots r consumes above
// origMaxStack.
func (r Registers) ExtraStack(origMaxStack int) int {
	max := r.State
	for _, v := range []int{r.Outer, r.Scratch1, r.Scratch2, r.FuncID, r.Cmp} {
		if v > max {
			max = v
		}
	}
	return max - origMaxStack + 1
}

// Result is the output of a dispatcher build: the new instruction stream
// and the extra stack slots it requires.
type Result struct {
	Code       []instr.Instruction
	ExtraStack int
	Registers  Registers
}

// groupSize is how many consecutive block indices share one inner
// dispatcher under nested dispatch.
const groupSize = 4

func setterLen(nested bool) int {
	if nested {
		return 3
	}
	return 2
}

func encodeState(opts Options, id uint32) int {
	if !opts.StateEncode {
		return int(id)
	}
	return int(state.Encode(id, opts.Seed))
}

func encodeOuter(opts Options, group uint32) int {
	if !opts.StateEncode {
		return int(group)
	}
	return int(state.Encode(group, opts.Seed))
}

func encodeInner(opts Options, id uint32) int {
	if !opts.StateEncode {
		return int(id)
	}
	return int(state.Encode(id, opts.Seed^0x12345678))
}

// emitCompare appends the dispatcher's canonical comparison: EQI reg,
// encoded_value, k=1, so that the paired JMP fires on equality. An encoded
// value too wide for the test's
// signed immediate is staged into the comparand register first and compared
// with a register EQ instead; the k=1 fire-on-equality convention is the
// same either way.
func emitCompare(buf *emit.Buffer, regs Registers, reg, encoded int) {
	if encoded >= -127 && encoded <= 128 {
		buf.Emit(instr.CreateABCk(instr.EQI, reg, 0, instr.Int2sC(encoded), 1))
		return
	}
	buf.Emit(instr.CreateABx(instr.LOADI, regs.Cmp, encoded+instr.OFFSET_sBx))
	buf.Emit(instr.CreateABCk(instr.EQ, reg, regs.Cmp, 0, 1))
}

// emitJMP appends an unconditional jump from the instruction about to be
// emitted (pc == buf.Len()) to target, a PC already known in the new
// stream.
func emitJMP(buf *emit.Buffer, target int) int {
	pc := buf.Len()
	sj := target - (pc + 1) + instr.OFFSET_sJ
	return buf.Emit(instr.CreateSJ(instr.JMP, sj, 0))
}

// emitPlaceholderJMP appends a JMP with a zero target, to be corrected once
// the real target is known (used only for dispatcher ladder entries, whose
// targets — block bodies — are emitted after the ladder).
func emitPlaceholderJMP(buf *emit.Buffer) int {
	return buf.Emit(instr.CreateSJ(instr.JMP, instr.OFFSET_sJ, 0))
}

func patchJMP(buf *emit.Buffer, jmpPC, target int) error {
	sj := target - (jmpPC + 1) + instr.OFFSET_sJ
	return buf.Patch(jmpPC, instr.CreateSJ(instr.JMP, sj, 0))
}

// emitStateSetter appends the state-transition instructions that end every
// non-exit block body (and the ladder's opaque-predicate dead tails): a
// LOADI into the state register (and, under nested dispatch, the outer
// register first) followed by a JMP back to the dispatcher.
func emitStateSetter(buf *emit.Buffer, regs Registers, dispatcherPC int, outerVal int, stateVal int) {
	if regs.Outer >= 0 {
		buf.Emit(instr.CreateABx(instr.LOADI, regs.Outer, outerVal+instr.OFFSET_sBx))
	}
	buf.Emit(instr.CreateABx(instr.LOADI, regs.State, stateVal+instr.OFFSET_sBx))
	emitJMP(buf, dispatcherPC)
}

// fixup records a dispatcher-ladder JMP awaiting the PC of the block,
// bogus block, or fake-function chain it targets, keyed by a symbolic
// target name resolved once bodies have been emitted.
type fixup struct {
	jmpPC int
	key   string
}

func applyFixups(buf *emit.Buffer, fixups []fixup, resolved map[string]int) error {
	for _, f := range fixups {
		target, ok := resolved[f.key]
		if !ok {
			return fmt.Errorf("dispatch: unresolved ladder target %q", f.key)
		}
		if err := patchJMP(buf, f.jmpPC, target); err != nil {
			return err
		}
	}
	return nil
}

// emitPrologue appends the instructions that seed the state register (and,
// under nested dispatch, the outer register) with startState before control
// falls straight through into the dispatcher ladder that follows. The
// function-ID register, when reserved, is loaded with the real function's
// ID here: stack slots above the frame hold garbage on entry, and an
// uninitialized slot could collide with a fake comparand.
func emitPrologue(buf *emit.Buffer, regs Registers, outerVal, startState int) {
	if regs.Outer >= 0 {
		buf.Emit(instr.CreateABx(instr.LOADI, regs.Outer, outerVal+instr.OFFSET_sBx))
	}
	buf.Emit(instr.CreateABx(instr.LOADI, regs.State, startState+instr.OFFSET_sBx))
	if regs.FuncID >= 0 {
		buf.Emit(instr.CreateABx(instr.LOADI, regs.FuncID, 0+instr.OFFSET_sBx))
	}
}

func emitDeadTail(buf *emit.Buffer, rng *state.LCG, regs Registers, dispatcherPC int, fallbackState uint32, opts Options) {
	for _, in := range bogus.Generate(rng, regs.State) {
		buf.Emit(in)
	}
	emitStateSetter(buf, regs, dispatcherPC, encodeOuter(opts, 0), encodeState(opts, fallbackState))
}

