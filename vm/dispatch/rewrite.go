package dispatch

import (
	"fmt"

	"github.com/mna/cflatten/vm/block"
	"github.com/mna/cflatten/vm/bogus"
	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

// rewriteCtx carries everything rewriteBlock needs to turn one basic block
// into its flattened body.
type rewriteCtx struct {
	buf          *emit.Buffer
	code         []instr.Instruction
	blocks       []block.Block
	ids          []uint32 // block index -> (possibly shuffled) state ID
	regs         Registers
	dispatcherPC int
	opts         Options
	rng          *state.LCG // drives RANDOM_NOP padding; nil-safe, never read unless opts.RandomNOP
}

// padStart records the PC a block body starts at, optionally preceded by a
// short run of true no-op padding (the RandomNOP flag): instructions that
// execute but never change observable state, inserted ahead of the block's
// real instructions rather than appended as dead trailing code so that they
// are live, executed padding rather than more unreachable bogus bytes.
func (c *rewriteCtx) padStart() int {
	start := c.buf.Len()
	if c.opts.RandomNOP {
		for _, in := range bogus.NOPPad(c.rng, c.regs.State) {
			c.buf.Emit(in)
		}
	}
	return start
}

func (c *rewriteCtx) outerOf(blockIdx int) uint32 {
	if c.regs.Outer < 0 {
		return 0
	}
	return uint32(blockIdx) / groupSize
}

// stateOf returns the comparand the active ladder uses for targetBlock:
// encodeInner under nested dispatch (matching the inner ladders' entries),
// encodeState otherwise (matching the single-level ladder's entries).
func (c *rewriteCtx) stateOf(targetBlock int) int {
	if c.regs.Outer >= 0 {
		return encodeInner(c.opts, c.ids[targetBlock])
	}
	return encodeState(c.opts, c.ids[targetBlock])
}

// setter appends the state-setter instructions that route control back to
// the dispatcher with targetBlock's encoded state (and, under nested
// dispatch, its group).
func (c *rewriteCtx) setter(targetBlock int) {
	outer := encodeOuter(c.opts, c.outerOf(targetBlock))
	emitStateSetter(c.buf, c.regs, c.dispatcherPC, outer, c.stateOf(targetBlock))
}

// rewriteBlock emits block i's flattened body into c.buf and returns the PC
// where it starts.
func rewriteBlock(c *rewriteCtx, i int) (int, error) {
	b := c.blocks[i]

	if b.IsExit {
		start := c.padStart()
		for pc := b.StartPC; pc < b.EndPC; pc++ {
			c.buf.Emit(c.code[pc])
		}
		return start, nil
	}

	last := c.code[b.EndPC-1]
	lastOp := last.Op()

	switch {
	case b.EndPC-2 >= b.StartPC && lastOp == instr.JMP && instr.IsConditionalTest(c.code[b.EndPC-2].Op()):
		return rewriteConditional(c, b)

	case lastOp == instr.FORLOOP || lastOp == instr.TFORLOOP:
		return rewriteForLoop(c, b, lastOp)

	case lastOp == instr.FORPREP || lastOp == instr.TFORPREP:
		return rewriteForPrep(c, b, lastOp)

	case lastOp == instr.JMP:
		// plain unconditional jump: copy everything up to (not including) the
		// original JMP, then a fresh state setter routing to OriginalTarget.
		start := c.padStart()
		for pc := b.StartPC; pc < b.EndPC-1; pc++ {
			c.buf.Emit(c.code[pc])
		}
		c.setter(b.OriginalTarget)
		return start, nil

	case instr.IsReturn(lastOp):
		// VARARG/tailcall/multi-result returns leave the function: copy
		// verbatim, no state transition follows.
		start := c.padStart()
		for pc := b.StartPC; pc < b.EndPC; pc++ {
			c.buf.Emit(c.code[pc])
		}
		return start, nil

	default:
		// straight-line block with one successor.
		start := c.padStart()
		for pc := b.StartPC; pc < b.EndPC; pc++ {
			c.buf.Emit(c.code[pc])
		}
		if b.FallThrough < 0 {
			return 0, fmt.Errorf("dispatch: block %d has no fall-through successor", i)
		}
		c.setter(b.FallThrough)
		return start, nil
	}
}

func rewriteConditional(c *rewriteCtx, b block.Block) (int, error) {
	start := c.padStart()
	// copy every instruction up to and including the test itself, verbatim.
	for pc := b.StartPC; pc < b.EndPC-1; pc++ {
		c.buf.Emit(c.code[pc])
	}

	skip := setterLen(c.regs.Outer >= 0) // "JMP +2" (std) / "JMP +3" (nested): bypass the then-setter
	emitJMP(c.buf, c.buf.Len()+1+skip)

	// landed by the test's own implicit skip (outcome disagrees with k),
	// same as falling past the original paired JMP: FallThrough.
	c.setter(b.FallThrough)
	// landed when the replacement JMP fires (outcome agrees with k), same as
	// the original paired JMP's computed target: CondTarget.
	c.setter(b.CondTarget)
	return start, nil
}

const (
	forprepBxStd    = 1
	forprepBxNested = 2
	tforprepBxStd   = 2
	tforprepBxNested = 3
)

func rewriteForLoop(c *rewriteCtx, b block.Block, op instr.Opcode) (int, error) {
	// the stub is the back-edge target: set state to the loop-body state and
	// return to the dispatcher, without ever going through the ladder scan
	// for every iteration.
	stubPC := c.buf.Len()
	loopBodyOuter := encodeOuter(c.opts, c.outerOf(b.OriginalTarget))
	emitStateSetter(c.buf, c.regs, c.dispatcherPC, loopBodyOuter, c.stateOf(b.OriginalTarget))

	start := c.padStart()
	last := c.code[b.EndPC-1]
	for pc := b.StartPC; pc < b.EndPC-1; pc++ {
		c.buf.Emit(c.code[pc])
	}

	forPC := c.buf.Len()
	bx := forPC + 1 - stubPC
	if op == instr.TFORLOOP {
		bx++
	}
	c.buf.Emit(instr.CreateABx(op, last.A(), bx))

	if b.FallThrough >= 0 {
		c.setter(b.FallThrough)
	}
	return start, nil
}

func rewriteForPrep(c *rewriteCtx, b block.Block, op instr.Opcode) (int, error) {
	start := c.padStart()
	last := c.code[b.EndPC-1]
	for pc := b.StartPC; pc < b.EndPC-1; pc++ {
		c.buf.Emit(c.code[pc])
	}

	nested := c.regs.Outer >= 0
	var bx int
	switch {
	case op == instr.FORPREP && !nested:
		bx = forprepBxStd
	case op == instr.FORPREP && nested:
		bx = forprepBxNested
	case op == instr.TFORPREP && !nested:
		bx = tforprepBxStd
	default:
		bx = tforprepBxNested
	}
	c.buf.Emit(instr.CreateABx(op, last.A(), bx))

	// success (enter-loop, FORPREP's fall-through in the original stream):
	// block.Decompose records this as FallThrough (the block starting at
	// EndPC), since FORPREP's own computed jump target is the *skip-loop*
	// forward edge, not the body.
	if b.FallThrough >= 0 {
		c.setter(b.FallThrough)
	}
	// failure (skip-loop, FORPREP's own forward jump target): recorded as
	// OriginalTarget. The fixed Bx above must land exactly here, which is
	// why the success setter is emitted first.
	if b.OriginalTarget >= 0 {
		c.setter(b.OriginalTarget)
	}
	return start, nil
}
