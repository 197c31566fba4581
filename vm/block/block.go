// Package block decomposes a prototype's instruction stream into the basic
// blocks the rest of the flattening pipeline operates on.
package block

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mna/cflatten/vm/instr"
)

// Block is a maximal straight-line run of instructions, described as a
// half-open interval plus the successor edges recorded during exit
// analysis. Index is this block's position in the decomposed list, which
// doubles as its initial state ID before any shuffle (see package state).
type Block struct {
	Index           int
	StartPC         int
	EndPC           int // exclusive
	OriginalTarget  int // block index reached by an unconditional jump, or -1
	FallThrough     int // block index reached by falling through, or -1
	CondTarget      int // block index reached when a conditional test succeeds, or -1
	IsEntry         bool
	IsExit          bool
}

// noTarget marks an edge field that does not apply to a given block.
const noTarget = -1

// Decompose partitions code into basic blocks the rest of the pipeline
// relies on: the union of intervals covers [0, len(code)) with no overlap, every
// jump target is some block's StartPC, TFORCALL never ends a block, exactly
// one block is the entry, and at least one is an exit. A single-block
// function decomposes fine; whether it is worth flattening is the caller's
// decision.
func Decompose(code []instr.Instruction) ([]Block, error) {
	if len(code) <= 0 {
		return nil, fmt.Errorf("decompose: too small")
	}

	leaders, err := findLeaders(code)
	if err != nil {
		return nil, err
	}

	blocks := buildBlocks(leaders, len(code))
	pcToBlock := make(map[int]int, len(blocks))
	for i, b := range blocks {
		pcToBlock[b.StartPC] = i
	}

	if err := analyzeExits(code, blocks, pcToBlock); err != nil {
		return nil, err
	}
	return blocks, nil
}

// findLeaders identifies every PC that begins a basic block: PC 0, every
// jump target, the instruction after a non-JMP jump, the instruction two
// past a conditional test (past its paired JMP), and the instruction after
// a return when one follows.
func findLeaders(code []instr.Instruction) ([]int, error) {
	leaderSet := map[int]bool{0: true}

	for pc := 0; pc < len(code); pc++ {
		op := code[pc].Op()
		switch {
		case instr.IsJumpInstruction(op):
			target := instr.JumpTarget(code[pc], pc)
			if target < 0 || target >= len(code) {
				return nil, fmt.Errorf("decompose: malformed input: jump at pc=%d targets %d", pc, target)
			}
			leaderSet[target] = true
			if op != instr.JMP && pc+1 < len(code) {
				leaderSet[pc+1] = true
			}
		case instr.IsConditionalTest(op):
			// the paired JMP must follow immediately; the leader is two past
			// the test (past the JMP).
			if pc+1 >= len(code) {
				return nil, fmt.Errorf("decompose: malformed input: conditional test at pc=%d has no paired jmp", pc)
			}
			if pc+2 < len(code) {
				leaderSet[pc+2] = true
			}
		case instr.IsReturn(op):
			if pc+1 < len(code) {
				leaderSet[pc+1] = true
			}
		}
	}

	leaders := maps.Keys(leaderSet)
	slices.Sort(leaders)
	return leaders, nil
}

func buildBlocks(leaders []int, sizeCode int) []Block {
	blocks := make([]Block, 0, len(leaders))
	for i, start := range leaders {
		end := sizeCode
		if i+1 < len(leaders) {
			end = leaders[i+1]
		}
		blocks = append(blocks, Block{
			Index:          i,
			StartPC:        start,
			EndPC:          end,
			OriginalTarget: noTarget,
			FallThrough:    noTarget,
			CondTarget:     noTarget,
			IsEntry:        start == 0,
		})
	}
	return blocks
}

// analyzeExits inspects each block's last instruction to record its
// successor edges and whether it is an exit block.
func analyzeExits(code []instr.Instruction, blocks []Block, pcToBlock map[int]int) error {
	hasExit := false
	for i := range blocks {
		b := &blocks[i]
		lastPC := b.EndPC - 1
		last := code[lastPC]
		op := last.Op()

		switch {
		case instr.IsReturn(op):
			b.IsExit = true
			hasExit = true

		case op == instr.FORLOOP || op == instr.FORPREP || op == instr.TFORPREP || op == instr.TFORLOOP:
			target := instr.JumpTarget(last, lastPC)
			idx, ok := pcToBlock[target]
			if !ok {
				return fmt.Errorf("decompose: malformed input: for-loop jump at pc=%d targets non-leader %d", lastPC, target)
			}
			b.OriginalTarget = idx
			if fIdx, ok := pcToBlock[b.EndPC]; ok {
				b.FallThrough = fIdx
			}

		case op == instr.JMP && lastPC-1 >= b.StartPC && instr.IsConditionalTest(code[lastPC-1].Op()):
			// the block's last two instructions are TEST-family ; JMP: the
			// JMP's computed target is reached when the test causes the branch
			// to be taken; falling past the JMP (to EndPC) is the other edge.
			target := instr.JumpTarget(last, lastPC)
			idx, ok := pcToBlock[target]
			if !ok {
				return fmt.Errorf("decompose: malformed input: conditional jmp at pc=%d targets non-leader %d", lastPC, target)
			}
			b.CondTarget = idx
			if idx, ok := pcToBlock[b.EndPC]; ok {
				b.FallThrough = idx
			}

		case op == instr.JMP:
			target := instr.JumpTarget(last, lastPC)
			idx, ok := pcToBlock[target]
			if !ok {
				return fmt.Errorf("decompose: malformed input: jmp at pc=%d targets non-leader %d", lastPC, target)
			}
			b.OriginalTarget = idx

		default:
			if idx, ok := pcToBlock[b.EndPC]; ok {
				b.FallThrough = idx
			}
		}
	}

	if !hasExit {
		return fmt.Errorf("decompose: malformed input: no exit block")
	}
	return nil
}
