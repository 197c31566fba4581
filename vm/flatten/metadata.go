package flatten

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mna/cflatten/vm/proto"
)

// Magic and Version validate a metadata blob's header.
const (
	Magic   uint32 = 0x43464600
	Version uint32 = 1
)

// ErrCorrupt marks a metadata blob with the wrong magic or version, or one
// truncated below its declared block count.
var ErrCorrupt = errors.New("flatten: corrupt metadata")

const blockRecordSize = 32

// BlockRecord mirrors one block.Block as serialized in a metadata blob: the
// decomposer's edge fields plus its assigned state ID, each as a
// little-endian uint32 (is_entry/is_exit are stored as 0/1).
type BlockRecord struct {
	StartPC        uint32
	EndPC          uint32
	StateID        uint32
	OriginalTarget uint32
	FallThrough    uint32
	CondTarget     uint32
	IsEntry        uint32
	IsExit         uint32
}

// Metadata is the full blob a flattened prototype's embedder can retain to
// describe the function's pre-flatten block structure.
type Metadata struct {
	NumBlocks uint32
	StateReg  uint32
	Seed      uint32
	Blocks    []BlockRecord
}

// SerializeMetadata encodes m per the two-call embedding convention: when
// buf is nil, it only returns the required size; otherwise it writes into
// buf (which must be at least that size) and returns the number of bytes
// written.
func SerializeMetadata(m Metadata, buf []byte) (int, error) {
	size := 20 + len(m.Blocks)*blockRecordSize
	if buf == nil {
		return size, nil
	}
	if len(buf) < size {
		return 0, fmt.Errorf("flatten: serialize_metadata: buffer too small: need %d, have %d", size, len(buf))
	}

	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.LittleEndian.PutUint32(buf[4:], Version)
	binary.LittleEndian.PutUint32(buf[8:], m.NumBlocks)
	binary.LittleEndian.PutUint32(buf[12:], m.StateReg)
	binary.LittleEndian.PutUint32(buf[16:], m.Seed)

	off := 20
	for _, b := range m.Blocks {
		fields := []uint32{
			b.StartPC, b.EndPC, b.StateID, b.OriginalTarget,
			b.FallThrough, b.CondTarget, b.IsEntry, b.IsExit,
		}
		for _, f := range fields {
			binary.LittleEndian.PutUint32(buf[off:], f)
			off += 4
		}
	}
	return size, nil
}

// DeserializeMetadata validates and decodes buf, rejecting anything whose
// magic, version, or declared length does not match: partial metadata is
// never trusted.
func DeserializeMetadata(buf []byte) (Metadata, error) {
	if len(buf) < 20 {
		return Metadata{}, fmt.Errorf("%w: header truncated", ErrCorrupt)
	}
	magic := binary.LittleEndian.Uint32(buf[0:])
	version := binary.LittleEndian.Uint32(buf[4:])
	if magic != Magic {
		return Metadata{}, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, magic)
	}
	if version != Version {
		return Metadata{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	m := Metadata{
		NumBlocks: binary.LittleEndian.Uint32(buf[8:]),
		StateReg:  binary.LittleEndian.Uint32(buf[12:]),
		Seed:      binary.LittleEndian.Uint32(buf[16:]),
	}

	want := 20 + int(m.NumBlocks)*blockRecordSize
	if len(buf) < want {
		return Metadata{}, fmt.Errorf("%w: declares %d blocks but buffer holds %d bytes", ErrCorrupt, m.NumBlocks, len(buf))
	}

	m.Blocks = make([]BlockRecord, m.NumBlocks)
	off := 20
	for i := range m.Blocks {
		read := func() uint32 {
			v := binary.LittleEndian.Uint32(buf[off:])
			off += 4
			return v
		}
		m.Blocks[i] = BlockRecord{
			StartPC:        read(),
			EndPC:          read(),
			StateID:        read(),
			OriginalTarget: read(),
			FallThrough:    read(),
			CondTarget:     read(),
			IsEntry:        read(),
			IsExit:         read(),
		}
	}
	return m, nil
}

// Unflatten clears the CFF-layer bits from p's mode, mirroring the
// embedding API's unflatten(prototype, metadata_or_none). A supplied
// metadata blob is validated (rejecting corruption per ErrCorrupt) but is
// not sufficient to reconstruct the original instruction stream — it
// records only block boundaries and edges, not the terminator shape each
// block originally had. Full code reversal is out of scope until a
// metadata format carrying the original instructions is defined; until
// then, supplying metadata only adds validation on top of the same
// flag-clearing behavior as supplying none.
func Unflatten(p *proto.Prototype, meta *Metadata) error {
	if meta != nil {
		if meta.NumBlocks != uint32(len(meta.Blocks)) {
			return fmt.Errorf("%w: num_blocks %d does not match %d block records", ErrCorrupt, meta.NumBlocks, len(meta.Blocks))
		}
	}
	p.Mode &^= proto.Mode(CFF | BlockShuffle | BogusBlocks | StateEncode | NestedDispatcher | OpaquePredicates | FuncInterleave)
	return nil
}
