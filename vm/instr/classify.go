package instr

// IsBlockTerminator reports whether op ends a basic block: unconditional
// jumps, conditional tests (paired with a following JMP), all returns, all
// for-loop control instructions, and TAILCALL. TFORCALL never terminates a
// block on its own; it must stay adjacent to its TFORLOOP.
func IsBlockTerminator(op Opcode) bool {
	switch op {
	case JMP, FORLOOP, FORPREP, TFORPREP, TFORLOOP,
		EQ, LT, LE, EQI, LTI, LEI, GEI, GTI, NEI, TEST, TESTSET,
		RETURN, RETURN0, RETURN1, TAILCALL:
		return true
	default:
		return false
	}
}

// IsJumpInstruction reports whether op carries a PC-relative offset that
// must be translated when the instruction is relocated: unconditional jumps
// and the four for-loop control instructions.
func IsJumpInstruction(op Opcode) bool {
	switch op {
	case JMP, FORLOOP, FORPREP, TFORPREP, TFORLOOP:
		return true
	default:
		return false
	}
}

// IsConditionalTest reports whether op emits an implicit pc++ depending on
// its outcome and must be immediately followed by a JMP.
func IsConditionalTest(op Opcode) bool {
	switch op {
	case EQ, LT, LE, EQI, LTI, LEI, GEI, GTI, NEI, TEST, TESTSET:
		return true
	default:
		return false
	}
}

// IsReturn reports whether op is a return or tailcall variant.
func IsReturn(op Opcode) bool {
	switch op {
	case RETURN, RETURN0, RETURN1, TAILCALL:
		return true
	default:
		return false
	}
}

// JumpTarget returns the absolute target PC of a jump-family instruction
// at address pc: JMP uses pc+1+sJ; FORLOOP/TFORLOOP jump back by Bx;
// FORPREP jumps forward by Bx+1; TFORPREP jumps forward by Bx.
func JumpTarget(i Instruction, pc int) int {
	switch i.Op() {
	case JMP:
		return pc + 1 + i.SJ()
	case FORLOOP, TFORLOOP:
		return pc + 1 - i.Bx()
	case FORPREP:
		return pc + 1 + i.Bx() + 1
	case TFORPREP:
		return pc + 1 + i.Bx()
	default:
		return -1
	}
}
