// Package flatten is the top-level orchestrator exposed to an embedding
// runtime: it wires the block decomposer, state assignment, and dispatcher
// builder into the Flatten/VMProtect/Unflatten entry points described by
// the embedding API, and owns the metadata blob format describing a
// function's pre-flatten block structure. Unflatten only clears mode bits;
// it does not restore the original instruction stream.
package flatten

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/mna/cflatten/vm/block"
	"github.com/mna/cflatten/vm/dispatch"
	"github.com/mna/cflatten/vm/proto"
	"github.com/mna/cflatten/vm/state"
	"github.com/mna/cflatten/vm/vmprotect"
)

// Flag is one bit of the composable obfuscation bitset.
type Flag uint32

const (
	CFF Flag = 1 << iota
	BlockShuffle
	BogusBlocks
	StateEncode
	NestedDispatcher
	OpaquePredicates
	FuncInterleave
	VMProtect
	BinaryDispatcher // reserved, never set by this implementation
	RandomNOP
	StrEncrypt
)

// Has reports whether bit is set in f.
func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

var (
	// ErrTooSmall names the too-small condition. Flatten does not return it:
	// a function with too few instructions or fewer than two blocks is
	// declined quietly and Flatten returns nil.
	ErrTooSmall = errors.New("flatten: function too small to flatten")
	// ErrMalformed marks an invariant violation caught during decomposition
	// or emission.
	ErrMalformed = errors.New("flatten: malformed control flow")
)

// minInstructions below which a function is left untouched.
const minInstructions = 4

// LogSink receives the transform's best-effort debug trace. A nil LogSink
// (or NoopSink) means logging is disabled; the embedding API's
// "log_path_or_none" parameter is modeled by whichever sink the caller
// constructs around it.
type LogSink interface {
	Printf(format string, args ...any)
}

// NoopSink discards everything written to it.
type NoopSink struct{}

// Printf implements LogSink by doing nothing.
func (NoopSink) Printf(string, ...any) {}

var _ LogSink = NoopSink{}
var _ LogSink = (*log.Logger)(nil)

// Options groups a Flatten call's inputs beyond the prototype itself.
type Options struct {
	Flags Flag
	Seed  uint32
	Log   LogSink
}

func (o Options) sink() LogSink {
	if o.Log == nil {
		return NoopSink{}
	}
	return o.Log
}

// Flatten applies control-flow flattening (and, if opts.Flags carries
// VMProtect, the secondary hardening pass) to p in place, mirroring the
// embedding API's flatten(prototype, flags, seed, log_path_or_none).
//
// A structurally too-small function is left untouched and Flatten returns
// nil: declining quietly is success, not an error.
func Flatten(p *proto.Prototype, opts Options) error {
	sink := opts.sink()
	if !opts.Flags.Has(CFF) {
		sink.Printf("flatten: CFF bit not set, nothing to do")
		return nil
	}
	if p.SizeCode() < minInstructions {
		sink.Printf("flatten: function has %d instructions, below minimum %d; skipping", p.SizeCode(), minInstructions)
		return nil
	}

	blocks, err := block.Decompose(p.Code)
	if err != nil {
		if isStructural(err) {
			sink.Printf("flatten: declining: %v", err)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blocks) < 2 {
		sink.Printf("flatten: only one block, nothing to flatten")
		return nil
	}

	dopts := dispatch.Options{
		Seed:           opts.Seed,
		Shuffle:        opts.Flags.Has(BlockShuffle),
		Bogus:          opts.Flags.Has(BogusBlocks),
		StateEncode:    opts.Flags.Has(StateEncode),
		Nested:         opts.Flags.Has(NestedDispatcher),
		Opaque:         opts.Flags.Has(OpaquePredicates),
		FuncInterleave: opts.Flags.Has(FuncInterleave),
		RandomNOP:      opts.Flags.Has(RandomNOP),
	}

	build := dispatch.BuildStandard
	if dopts.Nested {
		build = dispatch.BuildNested
	}

	result, err := build(p, dopts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sink.Printf("flatten: %d blocks, %d instructions -> %d instructions", len(blocks), p.SizeCode(), len(result.Code))

	p.Code = result.Code
	p.MaxStackSize += result.ExtraStack
	p.Mode |= proto.Mode(opts.Flags)
	p.Magic = proto.Magic
	p.Extra = proto.PackExtra(uint32(len(blocks)), opts.Seed)

	if opts.Flags.Has(VMProtect) {
		return applyVMProtect(p, opts.Seed, sink)
	}
	return nil
}

// isStructural reports whether err is one of block.Decompose's declining
// (non-fatal) failures rather than a hard invariant violation. Both are
// plain fmt.Errorf values without sentinels in the block package itself
// (it has no embedding-API surface of its own), so the caller here
// classifies by message prefix: "too small" declines quietly, everything
// else is malformed input.
func isStructural(err error) bool {
	return strings.Contains(err.Error(), "too small")
}

// Registry is the process-global VM-code table every VMProtect call
// registers into; callers that never protect a prototype never touch it.
var Registry = vmprotect.NewRegistry()

// vmProtectSeedXOR decouples the VM-protection pass's randomness domain
// from the CFF pass's, the same way the nested dispatcher (0x12345678) and
// the fake-function ID encoding (0xABCDEF00) derive their own.
const vmProtectSeedXOR = 0xFEDCBA98

func applyVMProtect(p *proto.Prototype, seed uint32, sink LogSink) error {
	table, err := vmprotect.Protect(p.Code, seed^vmProtectSeedXOR)
	if err != nil {
		return fmt.Errorf("flatten: vm_protect: %w", err)
	}
	if table == nil {
		sink.Printf("flatten: vm_protect: function too small; skipping")
		return nil
	}
	handle := vmprotect.Handle(reflect.ValueOf(p).Pointer())
	Registry.Register(handle, table)
	p.Mode |= proto.Mode(VMProtect)
	sink.Printf("flatten: vm_protect: %d words encrypted", len(table.Words))
	return nil
}

// VMProtectOnly runs only the VM-protection pass against an already-flattened (or
// even unflattened) prototype, mirroring vm_protect(prototype, seed) as a
// standalone embedding-API entry point.
func VMProtectOnly(p *proto.Prototype, seed uint32) error {
	return applyVMProtect(p, seed, NoopSink{})
}

// BuildMetadata assembles a Metadata value from a decomposition and its
// state-ID assignment, ready for SerializeMetadata.
func BuildMetadata(blocks []block.Block, ids []uint32, stateReg, seed uint32) Metadata {
	recs := make([]BlockRecord, len(blocks))
	for i, b := range blocks {
		recs[i] = BlockRecord{
			StartPC:        uint32(b.StartPC),
			EndPC:          uint32(b.EndPC),
			StateID:        ids[i],
			OriginalTarget: edgeOrSentinel(b.OriginalTarget),
			FallThrough:    edgeOrSentinel(b.FallThrough),
			CondTarget:     edgeOrSentinel(b.CondTarget),
			IsEntry:        boolToU32(b.IsEntry),
			IsExit:         boolToU32(b.IsExit),
		}
	}
	return Metadata{NumBlocks: uint32(len(blocks)), StateReg: stateReg, Seed: seed, Blocks: recs}
}

// noEdge is the serialized sentinel for an edge field that does not apply,
// since the blob format has no signed representation to carry block.Block's
// -1.
const noEdge = 0xFFFFFFFF

func edgeOrSentinel(idx int) uint32 {
	if idx < 0 {
		return noEdge
	}
	return uint32(idx)
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// StateAssignment exposes the block decomposition and (optionally shuffled)
// state IDs for a prototype without building a dispatcher, used by the
// dasm command to build the block-structure metadata blob.
func StateAssignment(p *proto.Prototype, shuffle bool, seed uint32) ([]block.Block, []uint32, error) {
	blocks, err := block.Decompose(p.Code)
	if err != nil {
		return nil, nil, err
	}
	ids := state.Assign(blocks)
	if shuffle {
		state.Shuffle(ids, seed)
	}
	return blocks, ids, nil
}
