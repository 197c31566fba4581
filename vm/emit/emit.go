// Package emit provides the length-polymorphic output buffer every
// dispatcher builder appends to.
package emit

import (
	"fmt"

	"github.com/mna/cflatten/vm/instr"
)

const initialCapacity = 64

// Buffer is an append-only instruction vector with amortized-doubling
// capacity, supporting in-place patches by PC. Addresses returned by Emit
// are stable once returned: code never reorders or removes instructions
// already emitted, it only grows.
type Buffer struct {
	insns []instr.Instruction
}

// New returns an empty buffer pre-sized to the initial capacity.
func New() *Buffer {
	return &Buffer{insns: make([]instr.Instruction, 0, initialCapacity)}
}

// Emit appends inst and returns its PC in the new stream.
func (b *Buffer) Emit(inst instr.Instruction) int {
	pc := len(b.insns)
	b.insns = append(b.insns, inst)
	return pc
}

// Patch overwrites the instruction at pc, used to fix up jump offsets once
// their targets are known.
func (b *Buffer) Patch(pc int, inst instr.Instruction) error {
	if pc < 0 || pc >= len(b.insns) {
		return fmt.Errorf("emit: patch: pc %d out of range [0, %d)", pc, len(b.insns))
	}
	b.insns[pc] = inst
	return nil
}

// Len returns the number of instructions emitted so far; it also serves as
// the PC the next Emit call will return.
func (b *Buffer) Len() int { return len(b.insns) }

// At returns the instruction currently at pc.
func (b *Buffer) At(pc int) (instr.Instruction, error) {
	if pc < 0 || pc >= len(b.insns) {
		return 0, fmt.Errorf("emit: at: pc %d out of range [0, %d)", pc, len(b.insns))
	}
	return b.insns[pc], nil
}

// Code returns the emitted instructions. The returned slice aliases the
// buffer's backing array and must not be mutated by the caller except
// through Patch.
func (b *Buffer) Code() []instr.Instruction { return b.insns }
