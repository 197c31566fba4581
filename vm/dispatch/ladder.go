package dispatch

import (
	"fmt"

	"github.com/mna/cflatten/vm/bogus"
	"github.com/mna/cflatten/vm/emit"
	"github.com/mna/cflatten/vm/fakefunc"
	"github.com/mna/cflatten/vm/predicate"
	"github.com/mna/cflatten/vm/state"
)

// ladderEntry is one real comparison in a dispatch ladder: reg == compare
// transfers control to whatever body resolves under key.
type ladderEntry struct {
	compare int
	key     string
}

// pendingBody is a body this build still owes: the resolved map entry
// identified by key must be filled in by emitting it after the ladder.
type pendingBody struct {
	key        string
	fallback   uint32 // state to restore on the way back to dispatcherPC
	isFake     bool
	fakeIdx    int
	isOpaque   bool
}

// buildLadder appends entries' comparisons against reg (each an emitCompare
// followed by a placeholder JMP that fires on equality) to buf,
// interleaving opaque-predicate guards every three real entries when
// opts.Opaque is set,
// then a final default-case JMP to trailerKey. dispatcherPC is where any
// interleaved dead tail routes control, were it ever reached. It returns
// the accumulated fixups and the dead/fake bodies the caller still needs to
// emit and resolve before calling applyFixups.
func buildLadder(buf *emit.Buffer, reg int, entries []ladderEntry, trailerKey string, dispatcherPC int, rng *state.LCG, regs Registers, opts Options) ([]fixup, []pendingBody, error) {
	var fixups []fixup
	var pending []pendingBody

	since := 0
	for _, e := range entries {
		emitCompare(buf, regs, reg, e.compare)
		jpc := emitPlaceholderJMP(buf)
		fixups = append(fixups, fixup{jmpPC: jpc, key: e.key})

		since++
		if opts.Opaque && regs.Scratch1 >= 0 && since%3 == 0 {
			p := predicate.Generate(rng, regs.Scratch1, regs.Scratch2)
			for _, in := range p.Setup {
				buf.Emit(in)
			}
			buf.Emit(p.Test)
			jpc := emitPlaceholderJMP(buf)
			fallback := uint32(rng.Intn(len(entries) + 1))
			if p.Taken {
				// the branch always fires: it compensates for the dead tail
				// emitted inline after it, landing on the next ladder entry.
				emitDeadTail(buf, rng, regs, dispatcherPC, fallback, opts)
				if err := patchJMP(buf, jpc, buf.Len()); err != nil {
					return nil, nil, err
				}
			} else {
				// the branch never fires: control falls through to the next
				// entry, and the JMP's dead-tail target is emitted out of line
				// with the other owed bodies.
				key := fmt.Sprintf("opaque:%d:%d", buf.Len(), len(pending))
				fixups = append(fixups, fixup{jmpPC: jpc, key: key})
				pending = append(pending, pendingBody{key: key, isOpaque: true, fallback: fallback})
			}
		}
	}

	jpc := emitPlaceholderJMP(buf)
	fixups = append(fixups, fixup{jmpPC: jpc, key: trailerKey})
	return fixups, pending, nil
}

// bogusEntries synthesizes ladder comparisons against state IDs that no real
// block ever holds, each routed to an inert dead-code body.
func bogusEntries(rng *state.LCG, opts Options, realCount int) ([]ladderEntry, []pendingBody) {
	if !opts.Bogus {
		return nil, nil
	}
	n := bogus.Count(realCount)
	entries := make([]ladderEntry, 0, n)
	pending := make([]pendingBody, 0, n)
	for i := 0; i < n; i++ {
		fakeID := uint32(state.Range - 1 - i)
		key := fmt.Sprintf("bogus:%d", i)
		entries = append(entries, ladderEntry{compare: encodeState(opts, fakeID), key: key})
		pending = append(pending, pendingBody{key: key, fallback: uint32(rng.Intn(realCount))})
	}
	return entries, pending
}

// emitFuncIDLadder appends count comparisons against the function-ID
// register, each routing to a fake-function chain on a match; it falls
// straight through (no trailer of its own) into whatever buf.Emit call
// follows, which is always the real dispatcher ladder (the state ladder, or
// the outer group ladder under nested dispatch). Since regs.FuncID is
// never assigned a fake value during legitimate execution, every one of
// these comparisons is dead weight a disassembly has to rule out by hand.
func emitFuncIDLadder(buf *emit.Buffer, regs Registers, opts Options, count int) ([]fixup, []pendingBody) {
	if count == 0 {
		return nil, nil
	}
	var fixups []fixup
	pending := make([]pendingBody, 0, count)
	for i := 0; i < count; i++ {
		id := fakefunc.EncodedID(i, opts.Seed, opts.StateEncode)
		key := fmt.Sprintf("fake:%d", i)
		emitCompare(buf, regs, regs.FuncID, int(id))
		jpc := emitPlaceholderJMP(buf)
		fixups = append(fixups, fixup{jmpPC: jpc, key: key})
		pending = append(pending, pendingBody{key: key, isFake: true, fakeIdx: i})
	}
	return fixups, pending
}

// emitPendingBodies emits every body owed by pending (bogus dead tails,
// opaque dead tails, fake-function chains) into buf, routed back to
// dispatcherPC, and records each one's start PC in resolved.
func emitPendingBodies(buf *emit.Buffer, pending []pendingBody, rng *state.LCG, regs Registers, dispatcherPC int, opts Options, resolved map[string]int) {
	for _, p := range pending {
		start := buf.Len()
		switch {
		case p.isFake:
			chain := fakefunc.Generate(rng, regs.State)
			for _, blk := range chain.Blocks {
				for _, in := range blk {
					buf.Emit(in)
				}
			}
		default:
			emitDeadTail(buf, rng, regs, dispatcherPC, p.fallback, opts)
			resolved[p.key] = start
			continue
		}
		emitStateSetter(buf, regs, dispatcherPC, encodeOuter(opts, 0), encodeState(opts, 0))
		resolved[p.key] = start
	}
}
