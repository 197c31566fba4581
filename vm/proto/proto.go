// Package proto models the function prototype the engine transforms: an
// opaque handle owning an instruction array, a constant pool, and the three
// mutable metadata fields this engine reserves for itself. The surrounding
// language runtime (GC, string interning, metatables) is an external
// collaborator and is not modeled here; a Prototype only carries what the
// transform needs to read and rewrite.
package proto

import "github.com/mna/cflatten/vm/instr"

// Mode bits recorded on a Prototype once a pass has been applied, mirroring
// the embedding API's flag bitset (see flatten.Flag).
type Mode uint32

// Magic is the validation tag stamped on a Prototype once this engine has
// touched it.
const Magic uint32 = 0x43464600

// Prototype is a function prototype: its instruction array, constant pool,
// stack-size requirement, vararg flag, child prototypes, and this engine's
// reserved metadata fields.
type Prototype struct {
	Code         []instr.Instruction
	Constants    []Value
	MaxStackSize int
	IsVararg     bool
	Protos       []*Prototype

	// Mutable metadata reserved for this engine.
	Mode  Mode   // bitset of applied obfuscations
	Magic uint32 // validation tag, set to proto.Magic on success
	Extra uint64 // packed (num_blocks << 32) | seed
}

// Value is an opaque constant-pool entry; the engine never inspects it, it
// only counts and indexes into Constants.
type Value any

// NumBlocks unpacks the block count packed into Extra.
func (p *Prototype) NumBlocks() uint32 { return uint32(p.Extra >> 32) }

// Seed unpacks the seed packed into Extra.
func (p *Prototype) Seed() uint32 { return uint32(p.Extra) }

// PackExtra packs a block count and seed the way a successful transform
// stamps them onto Extra.
func PackExtra(numBlocks uint32, seed uint32) uint64 {
	return uint64(numBlocks)<<32 | uint64(seed)
}

// SizeCode returns the number of instructions in the prototype's code array.
func (p *Prototype) SizeCode() int { return len(p.Code) }
