package dispatch

import (
	"fmt"

	"github.com/mna/cflatten/vm/block"
	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/proto"
	"github.com/mna/cflatten/vm/state"
)

func groupOf(blockIdx int) uint32 { return uint32(blockIdx) / groupSize }

func numGroups(n int) int {
	g := (n + groupSize - 1) / groupSize
	if g < 2 {
		g = 2
	}
	return g
}

func groupKey(g int) string { return fmt.Sprintf("group:%d", g) }

// BuildNested flattens p's code into a two-level dispatcher: an
// outer ladder routing on a group register (groupSize consecutive block
// indices per group), and one inner ladder per group routing on the state register,
// itself encoded with the seed XORed by a constant distinct from the outer
// encoding so the two ladders' comparands never collide.
func BuildNested(p *proto.Prototype, opts Options) (Result, error) {
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
	emitPrologue(buf, regs, encodeOuter(opts, groupOf(entryIdx)), encodeInner(opts, ids[entryIdx]))
	outerPC := buf.Len()

	fFixups, fPending := emitFuncIDLadder(buf, regs, opts, fakeFuncCount(opts, len(blocks)))

	groups := numGroups(len(blocks))
	outerEntries := make([]ladderEntry, groups)
	for g := 0; g < groups; g++ {
		outerEntries[g] = ladderEntry{compare: encodeOuter(opts, uint32(g)), key: groupKey(g)}
	}

	bEntries, bPending := bogusEntries(rng, opts, len(blocks))
	outerEntries = append(outerEntries, bEntries...)

	outerFixups, oPending, err := buildLadder(buf, regs.Outer, outerEntries, trailerKey, outerPC, rng, regs, opts)
	if err != nil {
		return Result{}, err
	}
	outerFixups = append(outerFixups, fFixups...)

	resolved := map[string]int{trailerKey: outerPC}

	rc := &rewriteCtx{buf: buf, code: p.Code, blocks: blocks, ids: ids, regs: regs, dispatcherPC: outerPC, opts: opts, rng: rng}

	for g := 0; g < groups; g++ {
		innerPC := buf.Len()
		resolved[groupKey(g)] = innerPC

		var innerEntries []ladderEntry
		for i, b := range blocks {
			if groupOf(i) != uint32(g) {
				continue
			}
			innerEntries = append(innerEntries, ladderEntry{compare: encodeInner(opts, ids[i]), key: blockKey(b.Index)})
		}
		if len(innerEntries) == 0 {
			// empty group slot: still needs a resolvable body, route straight
			// back to the outer dispatcher.
			emitJMP(buf, outerPC)
			continue
		}
		innerFixups, _, err := buildLadder(buf, regs.State, innerEntries, trailerKey, outerPC, rng, regs, Options{})
		if err != nil {
			return Result{}, err
		}
		outerFixups = append(outerFixups, innerFixups...)
	}

	for i := range blocks {
		start, err := rewriteBlock(rc, i)
		if err != nil {
			return Result{}, err
		}
		resolved[blockKey(blocks[i].Index)] = start
	}

	emitPendingBodies(buf, bPending, rng, regs, outerPC, opts, resolved)
	emitPendingBodies(buf, fPending, rng, regs, outerPC, opts, resolved)
	emitPendingBodies(buf, oPending, rng, regs, outerPC, opts, resolved)

	if err := applyFixups(buf, outerFixups, resolved); err != nil {
		return Result{}, err
	}

	return Result{Code: buf.Code(), ExtraStack: regs.ExtraStack(p.MaxStackSize), Registers: regs}, nil
}
