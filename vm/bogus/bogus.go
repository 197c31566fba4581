// Package bogus generates plausible-but-unreachable instruction sequences
// used to pad the dispatch ladder and block-body region with decoys.
package bogus

import (
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

const (
	minRun = 3
	maxRun = 8
)

// Generate produces a short run of loads, small-immediate adds, and moves,
// using registers strictly below belowReg so the sequence cannot alias live
// dispatcher state. rng drives both the run length and the shape of each
// instruction.
func Generate(rng *state.LCG, belowReg int) []instr.Instruction {
	if belowReg < 1 {
		belowReg = 1
	}
	n := minRun + rng.Intn(maxRun-minRun+1)
	out := make([]instr.Instruction, 0, n)
	for i := 0; i < n; i++ {
		reg := rng.Intn(belowReg)
		switch rng.Intn(3) {
		case 0:
			imm := rng.Intn(2000)
			out = append(out, instr.CreateABx(instr.LOADI, reg, imm+instr.OFFSET_sBx))
		case 1:
			src := rng.Intn(belowReg)
			small := instr.Int2sC(rng.Intn(100))
			out = append(out, instr.CreateABCk(instr.ADDI, reg, src, small, 0))
		default:
			src := rng.Intn(belowReg)
			out = append(out, instr.CreateABCk(instr.MOVE, reg, src, 0, 0))
		}
	}
	return out
}

// Count returns how many bogus blocks to generate for realBlocks blocks
// under the BOGUS_BLOCKS flag: two bogus blocks per real block.
func Count(realBlocks int) int { return realBlocks * 2 }

const maxNOPRun = 3

// NOPPad produces a short (possibly empty) run of true no-op instructions —
// MOVE reg,reg, a register copied onto itself — for the RANDOM_NOP flag's
// padding. Unlike Generate, these are safe to interleave into *live* code:
// a register moved onto itself never changes the value a later real
// instruction reads, so padding can be inserted ahead of an executed block
// body without touching its semantics.
func NOPPad(rng *state.LCG, belowReg int) []instr.Instruction {
	if belowReg < 1 {
		belowReg = 1
	}
	n := rng.Intn(maxNOPRun + 1)
	out := make([]instr.Instruction, 0, n)
	for i := 0; i < n; i++ {
		reg := rng.Intn(belowReg)
		out = append(out, instr.CreateABCk(instr.MOVE, reg, reg, 0, 0))
	}
	return out
}
