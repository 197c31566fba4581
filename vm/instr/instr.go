// Package instr defines the fixed-width instruction word of the register
// virtual machine the flattening engine transforms, and the pure bit-field
// codecs for its opcode formats. Nothing here touches a prototype, a block,
// or the emitter; it is the vocabulary every other package in vm/ speaks.
package instr

// Instruction is a single 32-bit VM word: a 7-bit opcode, then a
// format-dependent payload.
type Instruction uint32

// Opcode identifies the instruction format and operation of a word.
type Opcode uint8

const (
	MOVE Opcode = iota
	LOADI
	LOADK
	LOADNIL
	LOADTRUE
	LOADFALSE
	GETUPVAL
	GETTABLE
	GETFIELD
	SETTABLE
	SETFIELD
	NEWTABLE
	SELF
	ADD
	SUB
	MUL
	MOD
	ADDI
	CLOSURE
	VARARGPREP
	VARARG
	SETLIST

	// conditional tests: each must be immediately followed by a JMP, whose
	// fate depends on whether the test's outcome equals its k bit.
	EQ
	LT
	LE
	EQI
	LTI
	LEI
	GEI
	GTI
	NEI
	TEST
	TESTSET

	// jumps
	JMP
	FORLOOP
	FORPREP
	TFORPREP
	TFORCALL
	TFORLOOP

	// terminators
	RETURN
	RETURN0
	RETURN1
	TAILCALL

	CALL

	opcodeMax
)

var opcodeNames = [...]string{
	MOVE:       "move",
	LOADI:      "loadi",
	LOADK:      "loadk",
	LOADNIL:    "loadnil",
	LOADTRUE:   "loadtrue",
	LOADFALSE:  "loadfalse",
	GETUPVAL:   "getupval",
	GETTABLE:   "gettable",
	GETFIELD:   "getfield",
	SETTABLE:   "settable",
	SETFIELD:   "setfield",
	NEWTABLE:   "newtable",
	SELF:       "self",
	ADD:        "add",
	SUB:        "sub",
	MUL:        "mul",
	MOD:        "mod",
	ADDI:       "addi",
	CLOSURE:    "closure",
	VARARGPREP: "varargprep",
	VARARG:     "vararg",
	SETLIST:    "setlist",
	EQ:         "eq",
	LT:         "lt",
	LE:         "le",
	EQI:        "eqi",
	LTI:        "lti",
	LEI:        "lei",
	GEI:        "gei",
	GTI:        "gti",
	NEI:        "nei",
	TEST:       "test",
	TESTSET:    "testset",
	JMP:        "jmp",
	FORLOOP:    "forloop",
	FORPREP:    "forprep",
	TFORPREP:   "tforprep",
	TFORCALL:   "tforcall",
	TFORLOOP:   "tforloop",
	RETURN:     "return",
	RETURN0:    "return0",
	RETURN1:    "return1",
	TAILCALL:   "tailcall",
	CALL:       "call",
}

// AllOpcodes returns every defined opcode in declaration order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, int(opcodeMax))
	for op := Opcode(0); op < opcodeMax; op++ {
		ops = append(ops, op)
	}
	return ops
}

func (op Opcode) String() string {
	if op < opcodeMax {
		if s := opcodeNames[op]; s != "" {
			return s
		}
	}
	return "illegal"
}

// Format identifies which bit-field layout an opcode uses.
type Format uint8

const (
	FormatABC  Format = iota // 7 opcode, 8 A, 1 k, 8 B, 8 C
	FormatABx                // 7 opcode, 8 A, 17 Bx (unsigned, bias-adjusted by caller)
	FormatAx                 // 7 opcode, 25 Ax (extra-argument only)
	FormatSJ                 // 7 opcode, 25 sJ (signed, bias-adjusted)
)

// OFFSET_sJ and OFFSET_sBx are the biases applied to the signed jump and
// signed-Bx fields so that they can be stored in an unsigned bit-field; the
// same bias must be subtracted back out on decode.
const (
	OFFSET_sJ  = 1<<24 - 1
	OFFSET_sBx = 1<<16 - 1
)

var opcodeFormat = map[Opcode]Format{
	JMP: FormatSJ,
}

func init() {
	for _, op := range []Opcode{LOADI, LOADK, CLOSURE} {
		opcodeFormat[op] = FormatABx
	}
	for _, op := range []Opcode{FORLOOP, FORPREP, TFORPREP, TFORLOOP} {
		opcodeFormat[op] = FormatABx
	}
}

// FormatOf returns the bit-field layout used by op.
func FormatOf(op Opcode) Format {
	if f, ok := opcodeFormat[op]; ok {
		return f
	}
	return FormatABC
}

const (
	posOp  = 0
	sizeOp = 7
	posA   = sizeOp
	sizeA  = 8
	posK   = posA + sizeA
	sizeK  = 1
	posB   = posK + sizeK
	sizeB  = 8
	posC   = posB + sizeB
	sizeC  = 8

	// Bx overlays the k bit and both narrow operands, so it is 17 bits wide
	// and OFFSET_sBx is half its range.
	posBx  = posA + sizeA
	sizeBx = 32 - posBx

	posAx  = sizeOp
	sizeAx = 32 - posAx

	posSJ  = sizeOp
	sizeSJ = 32 - posSJ
)

func mask(size uint) uint32 { return 1<<size - 1 }

// Op returns the opcode field common to every format.
func (i Instruction) Op() Opcode { return Opcode(uint32(i) & mask(sizeOp)) }

// K returns the single conditional-sense/extension bit of an ABC-format word.
func (i Instruction) K() bool { return (uint32(i)>>posK)&1 != 0 }

// A returns the register-index field common to ABC and ABx formats.
func (i Instruction) A() int { return int((uint32(i) >> posA) & mask(sizeA)) }

// B returns the ABC-format second operand.
func (i Instruction) B() int { return int((uint32(i) >> posB) & mask(sizeB)) }

// C returns the ABC-format third operand.
func (i Instruction) C() int { return int((uint32(i) >> posC) & mask(sizeC)) }

// SC returns C interpreted as a signed value biased by 2^(sizeC-1)-1.
func (i Instruction) SC() int { return i.C() - (1<<(sizeC-1) - 1) }

// Bx returns the unsigned wide operand of an ABx/AsBx-format word.
func (i Instruction) Bx() int { return int((uint32(i) >> posBx) & mask(sizeBx)) }

// SBx returns Bx interpreted as a signed value biased by OFFSET_sBx.
func (i Instruction) SBx() int { return i.Bx() - OFFSET_sBx }

// Ax returns the extra-argument-only operand.
func (i Instruction) Ax() uint32 { return uint32(i) >> posAx }

// SJ returns the signed wide jump offset of an sJ-format word.
func (i Instruction) SJ() int { return int(uint32(i)>>posSJ) - OFFSET_sJ }

// CreateABC encodes an ABC-format instruction.
func CreateABC(op Opcode, a, b, c int, k bool) Instruction {
	var kBit uint32
	if k {
		kBit = 1
	}
	return Instruction(uint32(op) |
		kBit<<posK |
		uint32(a&int(mask(sizeA)))<<posA |
		uint32(b&int(mask(sizeB)))<<posB |
		uint32(c&int(mask(sizeC)))<<posC)
}

// CreateABCk is CreateABC with the k bit as an int, for call sites that
// compute it.
func CreateABCk(op Opcode, a, b, c int, k int) Instruction {
	return CreateABC(op, a, b, c, k != 0)
}

// CreateABx encodes an ABx-format instruction. bx is the already-biased,
// unsigned wide operand.
func CreateABx(op Opcode, a, bx int) Instruction {
	return Instruction(uint32(op) |
		uint32(a&int(mask(sizeA)))<<posA |
		uint32(bx&int(mask(sizeBx)))<<posBx)
}

// CreateAx encodes an Ax-format (extra-argument) instruction.
func CreateAx(op Opcode, ax uint32) Instruction {
	return Instruction(uint32(op) | ax<<posAx)
}

// CreateSJ encodes an sJ-format instruction. sj is the already-biased,
// unsigned wide jump operand.
func CreateSJ(op Opcode, sj int, extra int) Instruction {
	return Instruction(uint32(op) | uint32(sj&int(mask(sizeSJ)))<<posSJ)
}

// Int2sC biases a signed small integer into the unsigned C field range.
func Int2sC(v int) int { return v + (1<<(sizeC-1) - 1) }
