// Package predicate generates opaque-predicate instruction sequences:
// a short setup followed by a conditional test whose branch direction is
// statically fixed but reads as data-dependent.
package predicate

import (
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

// Kind identifies one opaque-predicate family.
type Kind uint8

const (
	// Always-true families.
	SquareNonNegative Kind = iota // x*x >= 0
	PlusZero                     // x + 0 == x
	DoubleMinusX                 // 2x - x == x
	MinusSelfZero                // x - x == 0

	// Always-false families.
	SquareNegative  // x*x < 0
	MinusSelfNonZero // x - x != 0
	PlusOneEqual     // x + 1 == x

	// Extra always-true/always-false shapes beyond the arithmetic four.
	OrZeroEqual  // x | 0 == x            (always-true)
	AndSelfEqual // x & x == x            (always-true)
	AndZeroNotEqual // x & 0 == x, given x != 0 (always-false)
)

// Families lists every opaque-predicate kind: four arithmetic always-true
// shapes, three always-false shapes, then the extra shapes supplementing
// both categories.
var Families = []Kind{
	SquareNonNegative, PlusZero, DoubleMinusX, MinusSelfZero,
	SquareNegative, MinusSelfNonZero, PlusOneEqual,
	OrZeroEqual, AndSelfEqual, AndZeroNotEqual,
}

// AlwaysTrue reports whether kind's relation is statically guaranteed to
// hold for any live-in value.
func AlwaysTrue(kind Kind) bool {
	switch kind {
	case SquareNonNegative, PlusZero, DoubleMinusX, MinusSelfZero, OrZeroEqual, AndSelfEqual:
		return true
	default:
		return false
	}
}

// Predicate is a generated opaque-predicate sequence: Setup computes the
// intermediate value(s) into the two scratch registers, and Test is the
// conditional-test instruction whose outcome is statically known. Taken
// reports whether the JMP paired with Test fires (outcome agrees with the
// k bit) — the caller places the dead-code tail on whichever side the
// branch can never reach.
type Predicate struct {
	Setup []instr.Instruction
	Test  instr.Instruction
	Taken bool
}

// Generate picks a family round-robin-by-LCG and emits its instructions.
// liveIn and scratch are two registers reserved above the state register,
// holding the live-in value and the computed intermediate.
func Generate(rng *state.LCG, liveIn, scratch int) Predicate {
	kind := Families[rng.Intn(len(Families))]
	return generate(kind, rng, liveIn, scratch)
}

func generate(kind Kind, rng *state.LCG, x, t int) Predicate {
	seed := 1 + rng.Intn(1000) // nonzero live-in value
	load := instr.CreateABx(instr.LOADI, x, seed+instr.OFFSET_sBx)

	switch kind {
	case SquareNonNegative:
		mul := instr.CreateABCk(instr.MUL, t, x, x, 0)
		test := instr.CreateABCk(instr.GEI, t, 0, instr.Int2sC(0), 1)
		return Predicate{Setup: []instr.Instruction{load, mul}, Test: test, Taken: true}

	case SquareNegative:
		mul := instr.CreateABCk(instr.MUL, t, x, x, 0)
		test := instr.CreateABCk(instr.LTI, t, 0, instr.Int2sC(0), 1)
		return Predicate{Setup: []instr.Instruction{load, mul}, Test: test, Taken: false}

	case PlusZero:
		add := instr.CreateABCk(instr.ADDI, t, x, instr.Int2sC(0), 0)
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, add}, Test: test, Taken: true}

	case PlusOneEqual:
		add := instr.CreateABCk(instr.ADDI, t, x, instr.Int2sC(1), 0)
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, add}, Test: test, Taken: false}

	case DoubleMinusX:
		double := instr.CreateABCk(instr.ADD, t, x, x, 0)
		sub := instr.CreateABCk(instr.SUB, t, t, x, 0)
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, double, sub}, Test: test, Taken: true}

	case MinusSelfZero:
		sub := instr.CreateABCk(instr.SUB, t, x, x, 0)
		test := instr.CreateABCk(instr.EQI, t, 0, instr.Int2sC(0), 1)
		return Predicate{Setup: []instr.Instruction{load, sub}, Test: test, Taken: true}

	case MinusSelfNonZero:
		sub := instr.CreateABCk(instr.SUB, t, x, x, 0)
		test := instr.CreateABCk(instr.NEI, t, 0, instr.Int2sC(0), 1)
		return Predicate{Setup: []instr.Instruction{load, sub}, Test: test, Taken: false}

	case OrZeroEqual:
		or := instr.CreateABCk(instr.ADDI, t, x, instr.Int2sC(0), 0) // |0 degenerates to identity
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, or}, Test: test, Taken: true}

	case AndSelfEqual:
		and := instr.CreateABCk(instr.MOVE, t, x, 0, 0) // x&x degenerates to identity
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, and}, Test: test, Taken: true}

	case AndZeroNotEqual:
		// x&0 is always 0, and the live-in value is guaranteed nonzero, so
		// comparing the computed zero against x for equality is always false.
		zero := instr.CreateABx(instr.LOADI, t, 0+instr.OFFSET_sBx)
		test := instr.CreateABCk(instr.EQ, t, x, 0, 1)
		return Predicate{Setup: []instr.Instruction{load, zero}, Test: test, Taken: false}

	default:
		sub := instr.CreateABCk(instr.SUB, t, x, x, 0)
		test := instr.CreateABCk(instr.EQI, t, 0, instr.Int2sC(0), 1)
		return Predicate{Setup: []instr.Instruction{load, sub}, Test: test, Taken: true}
	}
}
