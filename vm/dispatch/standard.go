package dispatch

import (
	"fmt"

	"github.com/mna/cflatten/vm/block"
	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/proto"
	"github.com/mna/cflatten/vm/state"
)

const trailerKey = "default"

func blockKey(idx int) string { return fmt.Sprintf("block:%d", idx) }

func entryBlock(blocks []block.Block) int {
	for i, b := range blocks {
		if b.IsEntry {
			return i
		}
	}
	return 0
}

// fakeFuncCount picks how many fake-function chains to interleave: one per
// four real blocks, at least one when the flag is set at all.
func fakeFuncCount(opts Options, realBlocks int) int {
	if !opts.FuncInterleave {
		return 0
	}
	n := realBlocks / 4
	if n < 1 {
		n = 1
	}
	return n
}

// BuildStandard flattens p's code into a single-level dispatch loop:
// a prologue that seeds the state register with the entry block's state,
// one ladder comparing that register against every block's (optionally
// encoded, optionally shuffled) state ID, and the rewritten block bodies
// that each end by resetting the register and jumping back to the ladder.
func BuildStandard(p *proto.Prototype, opts Options) (Result, error) {
	blocks, err := block.Decompose(p.Code)
	if err != nil {
		return Result{}, err
	}

	ids := state.Assign(blocks)
	if opts.Shuffle {
		state.Shuffle(ids, opts.Seed)
	}

	regs := allocateRegisters(p.MaxStackSize, opts)
	rng := state.NewLCG(opts.Seed)
	buf := emit.New()

	entryIdx := entryBlock(blocks)
	emitPrologue(buf, regs, 0, encodeState(opts, ids[entryIdx]))
	dispatcherPC := buf.Len()

	fFixups, fPending := emitFuncIDLadder(buf, regs, opts, fakeFuncCount(opts, len(blocks)))

	entries := make([]ladderEntry, len(blocks))
	for i, b := range blocks {
		entries[i] = ladderEntry{compare: encodeState(opts, ids[i]), key: blockKey(b.Index)}
	}

	bEntries, bPending := bogusEntries(rng, opts, len(blocks))
	entries = append(entries, bEntries...)

	fixups, oPending, err := buildLadder(buf, regs.State, entries, trailerKey, dispatcherPC, rng, regs, opts)
	if err != nil {
		return Result{}, err
	}
	fixups = append(fixups, fFixups...)

	resolved := map[string]int{trailerKey: dispatcherPC}

	rc := &rewriteCtx{buf: buf, code: p.Code, blocks: blocks, ids: ids, regs: regs, dispatcherPC: dispatcherPC, opts: opts, rng: rng}
	for i := range blocks {
		start, err := rewriteBlock(rc, i)
		if err != nil {
			return Result{}, err
		}
		resolved[blockKey(blocks[i].Index)] = start
	}

	emitPendingBodies(buf, bPending, rng, regs, dispatcherPC, opts, resolved)
	emitPendingBodies(buf, fPending, rng, regs, dispatcherPC, opts, resolved)
	emitPendingBodies(buf, oPending, rng, regs, dispatcherPC, opts, resolved)

	if err := applyFixups(buf, fixups, resolved); err != nil {
		return Result{}, err
	}

	return Result{Code: buf.Code(), ExtraStack: regs.ExtraStack(p.MaxStackSize), Registers: regs}, nil
}
