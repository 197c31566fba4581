// Package vmprotect implements the secondary hardening pass: it
// re-encodes an already-flattened instruction stream into a 64-bit VM word
// format under a randomly generated opcode mapping, encrypts each word with
// a position-dependent cipher, and files the result in a process-global
// side table the interpreter consults only when the protection flag is set
// on a prototype. The original Lua-format instruction stream is left
// untouched; this pass never becomes the executable body on its own.
package vmprotect

import (
	"fmt"
	"math/bits"

	"github.com/dolthub/swiss"

	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/state"
)

// VMInstruction is the 64-bit side-table word: {op:8, a:8, b:16, c:16,
// flags:8, reserved:8}.
type VMInstruction uint64

const (
	vmPosOp    = 56
	vmPosA     = 48
	vmPosB     = 32
	vmPosC     = 16
	vmPosFlags = 8
	vmSizeOp   = 8
	vmSizeA    = 8
	vmSizeB    = 16
	vmSizeC    = 16
)

func packVM(op, a, b, c, flags uint64) VMInstruction {
	return VMInstruction(op<<vmPosOp | a<<vmPosA | b<<vmPosB | c<<vmPosC | flags<<vmPosFlags)
}

// Halt is the sentinel VM opcode appended, encrypted, after every side
// table: it never appears in a generated opcode map, so a lookup failure
// or runaway scan can recognize it unambiguously after decryption.
const Halt = 0xFF

// OpcodeMap is a seed-derived injective map from the source opcode space to
// the VM opcode space used in the side table.
type OpcodeMap struct {
	fwd map[instr.Opcode]uint8
	rev map[uint8]instr.Opcode
}

// BuildOpcodeMap generates a random injective lua_op -> vm_op assignment
// using the pass seed, covering every opcode instr defines plus the Halt
// sentinel's reserved slot.
func BuildOpcodeMap(seed uint32) *OpcodeMap {
	rng := state.NewLCG(seed)
	ops := instr.AllOpcodes()

	slots := make([]uint8, 0, 256)
	for v := 0; v < 256; v++ {
		if v == Halt {
			continue
		}
		slots = append(slots, uint8(v))
	}
	// Fisher-Yates shuffle of the candidate VM-opcode slots, then assign the
	// first len(ops) of them in source-opcode order: this is injective by
	// construction and fully determined by seed.
	for i := len(slots) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		slots[i], slots[j] = slots[j], slots[i]
	}

	m := &OpcodeMap{fwd: make(map[instr.Opcode]uint8, len(ops)), rev: make(map[uint8]instr.Opcode, len(ops))}
	for i, op := range ops {
		m.fwd[op] = slots[i]
		m.rev[slots[i]] = op
	}
	return m
}

func (m *OpcodeMap) toVM(op instr.Opcode) (uint8, bool) {
	v, ok := m.fwd[op]
	return v, ok
}

func (m *OpcodeMap) toSource(op uint8) (instr.Opcode, bool) {
	v, ok := m.rev[op]
	return v, ok
}

// Key derives the 64-bit cipher key from two chained LCG draws off the pass
// seed: the first draw seeds the low word, the second the high word.
func Key(seed uint32) uint64 {
	rng := state.NewLCG(seed)
	lo := uint64(rng.Next())
	hi := uint64(rng.Next())
	return lo | hi<<32
}

// Encrypt applies the three-stage cipher to a single VM word at
// position pc: XOR with key, rotate left by pc mod 64, then XOR again with
// key mixed against pc by the fixed multiplier.
func Encrypt(inst VMInstruction, key uint64, pc int) VMInstruction {
	enc0 := uint64(inst) ^ key
	enc1 := bits.RotateLeft64(enc0, pc%64)
	mix := key ^ (uint64(pc) * 0x9E3779B97F4A7C15)
	enc2 := enc1 ^ mix
	return VMInstruction(enc2)
}

// Decrypt reverses Encrypt exactly.
func Decrypt(enc VMInstruction, key uint64, pc int) VMInstruction {
	mix := key ^ (uint64(pc) * 0x9E3779B97F4A7C15)
	enc1 := uint64(enc) ^ mix
	enc0 := bits.RotateLeft64(enc1, 64-(pc%64))
	return VMInstruction(enc0 ^ key)
}

// Table is one prototype's protected side table: the encrypted VM words,
// the opcode map and cipher key used to produce them, and the seed they
// were derived from.
type Table struct {
	Seed   uint32
	Key    uint64
	OpMap  *OpcodeMap
	Words  []VMInstruction // encrypted, including the trailing Halt
}

// minInstructions below which Protect declines: a function this small is
// not worth a side table, whether the pass runs standalone or after
// flattening.
const minInstructions = 4

// Protect re-encodes code into a protected side table under seed. It
// never mutates code; the caller links the returned table to
// its owning prototype via Registry.Register. A function below
// minInstructions is declined quietly: Protect returns a nil table and no
// error.
func Protect(code []instr.Instruction, seed uint32) (*Table, error) {
	if len(code) < minInstructions {
		return nil, nil
	}
	opmap := BuildOpcodeMap(seed)
	key := Key(seed)

	words := make([]VMInstruction, 0, len(code)+1)
	for pc, in := range code {
		vmOp, ok := opmap.toVM(in.Op())
		if !ok {
			return nil, fmt.Errorf("vmprotect: no vm opcode mapped for %s", in.Op())
		}
		plain := packVM(uint64(vmOp), uint64(in.A()&0xFF), uint64(in.B()&0xFFFF), uint64(in.C()&0xFFFF), 0)
		words = append(words, Encrypt(plain, key, pc))
	}
	halt := packVM(Halt, 0, 0, 0, 0)
	words = append(words, Encrypt(halt, key, len(code)))

	return &Table{Seed: seed, Key: key, OpMap: opmap, Words: words}, nil
}

// Decode reverses a protected table back to source-space instructions,
// stopping at (and excluding) the trailing Halt word. Each word yields its
// opcode and A, B, C operands rebuilt in ABC form; the k bit is not stored
// in the side table, so a word whose k bit was set (including the low bit
// of a Bx or sJ operand) does not decode to the original bits. It is not a
// runtime interpreter: this engine does not execute VM code, it only
// stores it.
func (t *Table) Decode() ([]instr.Instruction, error) {
	out := make([]instr.Instruction, 0, len(t.Words))
	for pc, enc := range t.Words {
		plain := Decrypt(enc, t.Key, pc)
		op := uint8(uint64(plain) >> vmPosOp)
		if op == Halt {
			return out, nil
		}
		srcOp, ok := t.OpMap.toSource(op)
		if !ok {
			return nil, fmt.Errorf("vmprotect: decode: vm opcode %d has no source mapping", op)
		}
		a := int((uint64(plain) >> vmPosA) & ((1 << vmSizeA) - 1))
		b := int((uint64(plain) >> vmPosB) & ((1 << vmSizeB) - 1))
		c := int((uint64(plain) >> vmPosC) & ((1 << vmSizeC) - 1))
		out = append(out, instr.CreateABC(srcOp, a, b, c, false))
	}
	return nil, fmt.Errorf("vmprotect: decode: side table has no Halt terminator")
}

// Handle identifies a prototype in the process-global registry; the
// transform uses the prototype's own pointer identity, but the registry
// keys on this package's own opaque handle so it never has to know about
// proto.Prototype.
type Handle uintptr

// Registry is the process-global VM-code table: every
// protected prototype back-links here, and every lookup first tries the
// direct swiss-table hit before falling back to a linear scan over
// registration order. The scan holds only handles and reads tables from
// the same swiss table, so a handle missing from that table is not found
// by the scan either.
type Registry struct {
	byHandle *swiss.Map[Handle, *Table]
	order    []Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byHandle: swiss.NewMap[Handle, *Table](uint32(8))}
}

// Register files t under handle and appends handle to the scan order.
func (r *Registry) Register(handle Handle, t *Table) {
	r.byHandle.Put(handle, t)
	r.order = append(r.order, handle)
}

// Lookup finds handle's table via direct swiss-table access, falling back
// to a linear scan over registration order if that misses; the scan
// re-reads the swiss table, so it finds nothing the direct access missed.
func (r *Registry) Lookup(handle Handle) (*Table, bool) {
	if t, ok := r.byHandle.Get(handle); ok {
		return t, true
	}
	for _, h := range r.order {
		if h == handle {
			if t, ok := r.byHandle.Get(h); ok {
				return t, true
			}
		}
	}
	return nil, false
}

// Forget removes handle's entry; used when a prototype is finalized and
// its VM table must be freed.
func (r *Registry) Forget(handle Handle) {
	r.byHandle.Delete(handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
