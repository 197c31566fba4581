// Package fakefunc generates inert fake-function block chains:
// plausible-looking code reachable only through a function-ID register that
// never takes a fake value during legitimate execution.
package fakefunc

import (
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

// idOffset keeps fake function IDs clear of real state IDs, and seedXOR
// derives their encoding from a constant distinct from the nested
// dispatcher's 0x12345678, so the two comparand spaces never collide for
// the same seed.
const (
	idOffset = 100
	seedXOR  = 0xABCDEF00
)

// EncodedID returns the (optionally state-encoded) comparand the dispatcher
// uses for fake function funcIdx.
func EncodedID(funcIdx int, seed uint32, stateEncode bool) uint32 {
	encoded := uint32(funcIdx + idOffset)
	if stateEncode {
		encoded = state.Encode(encoded, seed^seedXOR)
	}
	return encoded
}

// Shape identifies one of the four plausible block shapes a fake function
// chain can simulate.
type Shape uint8

const (
	Calculator Shape = iota
	StringOp
	TableOp
	Loop
)

const (
	blocksPerChain  = 4
	instrsPerBlock  = 5
)

// Chain is a fake-function body: blocksPerChain blocks of instrsPerBlock
// instructions each, not including the trailing state-reset instructions
// dispatch appends so that, if ever entered, control returns to real code.
type Chain struct {
	Shape  Shape
	Blocks [][]instr.Instruction
}

// Generate produces one fake-function chain, simulating shape using
// registers strictly below belowReg.
func Generate(rng *state.LCG, belowReg int) Chain {
	shape := Shape(rng.Intn(4))
	c := Chain{Shape: shape, Blocks: make([][]instr.Instruction, blocksPerChain)}
	for b := 0; b < blocksPerChain; b++ {
		c.Blocks[b] = block(shape, rng, belowReg)
	}
	return c
}

func block(shape Shape, rng *state.LCG, belowReg int) []instr.Instruction {
	if belowReg < 1 {
		belowReg = 1
	}
	out := make([]instr.Instruction, 0, instrsPerBlock)
	for i := 0; i < instrsPerBlock; i++ {
		a, b := rng.Intn(belowReg), rng.Intn(belowReg)
		switch shape {
		case Calculator:
			out = append(out, instr.CreateABCk(instr.ADD, a, a, b, 0))
		case StringOp:
			out = append(out, instr.CreateABCk(instr.GETFIELD, a, b, 0, 0))
		case TableOp:
			out = append(out, instr.CreateABCk(instr.GETTABLE, a, b, a, 0))
		default: // Loop
			out = append(out, instr.CreateABCk(instr.ADDI, a, a, instr.Int2sC(1), 0))
		}
	}
	return out
}
