// Package vmtest is a minimal reference interpreter for the register
// machine vm/instr describes. It exists only to let the flattening
// pipeline's tests assert semantic equivalence: running the same register
// file through both the original and the flattened instruction stream must
// produce the same return values. It is not part of the obfuscation engine
// itself — the real interpreter lives in the embedding runtime — so it only
// implements the small slice of opcode semantics the test programs
// exercise.
package vmtest

import (
	"fmt"

	"github.com/mna/cflatten/vm/instr"
)

// maxSteps guards against runaway flattened dispatch loops in a failing
// test: a well-formed flattened function always reaches a return within a
// small multiple of its original instruction count.
const maxSteps = 1_000_000

// Run executes code starting at pc 0 with the given initial register
// contents (any register not present starts at zero) and returns the
// values produced by whichever RETURN-family instruction is reached.
func Run(code []instr.Instruction, initRegs map[int]int64) ([]int64, error) {
	regs := make([]int64, 64)
	for k, v := range initRegs {
		if k >= len(regs) {
			grown := make([]int64, k+1)
			copy(grown, regs)
			regs = grown
		}
		regs[k] = v
	}

	pc := 0
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return nil, fmt.Errorf("vmtest: exceeded %d steps, likely an infinite loop", maxSteps)
		}
		if pc < 0 || pc >= len(code) {
			return nil, fmt.Errorf("vmtest: pc %d out of range [0, %d)", pc, len(code))
		}
		in := code[pc]
		op := in.Op()

		ensure := func(idx int) {
			if idx >= len(regs) {
				grown := make([]int64, idx+1)
				copy(grown, regs)
				regs = grown
			}
		}

		switch {
		case op == instr.MOVE:
			ensure(in.A())
			ensure(in.B())
			regs[in.A()] = regs[in.B()]
			pc++

		case op == instr.LOADI:
			ensure(in.A())
			regs[in.A()] = int64(in.Bx() - instr.OFFSET_sBx)
			pc++

		case op == instr.LOADNIL || op == instr.LOADFALSE:
			ensure(in.A())
			regs[in.A()] = 0
			pc++

		case op == instr.LOADTRUE:
			ensure(in.A())
			regs[in.A()] = 1
			pc++

		case op == instr.ADD:
			ensure(in.A())
			ensure(in.B())
			ensure(in.C())
			regs[in.A()] = regs[in.B()] + regs[in.C()]
			pc++

		case op == instr.SUB:
			ensure(in.A())
			ensure(in.B())
			ensure(in.C())
			regs[in.A()] = regs[in.B()] - regs[in.C()]
			pc++

		case op == instr.MUL:
			ensure(in.A())
			ensure(in.B())
			ensure(in.C())
			regs[in.A()] = regs[in.B()] * regs[in.C()]
			pc++

		case op == instr.ADDI:
			ensure(in.A())
			ensure(in.B())
			regs[in.A()] = regs[in.B()] + int64(in.SC())
			pc++

		case instr.IsConditionalTest(op):
			// the paired JMP at pc+1 executes when the outcome agrees with the
			// k bit; a disagreement skips it.
			outcome, err := evalTest(op, regs, in, ensure)
			if err != nil {
				return nil, err
			}
			if outcome == in.K() {
				pc++
			} else {
				pc += 2
			}

		case op == instr.JMP:
			pc = instr.JumpTarget(in, pc)

		case op == instr.FORPREP:
			ensure(in.A() + 3)
			a := in.A()
			init, limit, step := regs[a], regs[a+1], regs[a+2]
			if step == 0 {
				return nil, fmt.Errorf("vmtest: forprep: zero step")
			}
			enter := (step > 0 && init <= limit) || (step < 0 && init >= limit)
			if !enter {
				pc = instr.JumpTarget(in, pc)
			} else {
				regs[a+3] = init
				pc++
			}

		case op == instr.FORLOOP:
			a := in.A()
			ensure(a + 3)
			step := regs[a+2]
			regs[a] += step
			limit := regs[a+1]
			cont := (step > 0 && regs[a] <= limit) || (step < 0 && regs[a] >= limit)
			if cont {
				regs[a+3] = regs[a]
				pc = instr.JumpTarget(in, pc)
			} else {
				pc++
			}

		case op == instr.RETURN0:
			return nil, nil

		case op == instr.RETURN1:
			ensure(in.A())
			return []int64{regs[in.A()]}, nil

		case op == instr.RETURN:
			n := in.B() - 1
			if n <= 0 {
				return nil, nil
			}
			ensure(in.A() + n - 1)
			out := make([]int64, n)
			copy(out, regs[in.A():in.A()+n])
			return out, nil

		case op == instr.TAILCALL:
			return nil, nil

		default:
			return nil, fmt.Errorf("vmtest: unhandled opcode %s at pc=%d", op, pc)
		}
	}
}

func evalTest(op instr.Opcode, regs []int64, in instr.Instruction, ensure func(int)) (bool, error) {
	ensure(in.A())
	switch op {
	case instr.EQ:
		ensure(in.B())
		return regs[in.A()] == regs[in.B()], nil
	case instr.LT:
		ensure(in.B())
		return regs[in.A()] < regs[in.B()], nil
	case instr.LE:
		ensure(in.B())
		return regs[in.A()] <= regs[in.B()], nil
	case instr.EQI:
		return regs[in.A()] == int64(in.SC()), nil
	case instr.LTI:
		return regs[in.A()] < int64(in.SC()), nil
	case instr.LEI:
		return regs[in.A()] <= int64(in.SC()), nil
	case instr.GEI:
		return regs[in.A()] >= int64(in.SC()), nil
	case instr.GTI:
		return regs[in.A()] > int64(in.SC()), nil
	case instr.NEI:
		return regs[in.A()] != int64(in.SC()), nil
	case instr.TEST:
		return regs[in.A()] != 0, nil
	case instr.TESTSET:
		ensure(in.B())
		return regs[in.B()] != 0, nil
	default:
		return false, fmt.Errorf("vmtest: unhandled test opcode %s", op)
	}
}
