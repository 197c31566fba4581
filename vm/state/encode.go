package state

// Range is the fixed integer range the state encoder is a bijection over,
// for any given seed.
const Range = 30000

// multiplier is a prime coprime to Range, so that Encode is a bijection on
// [0, Range) for every offset.
const multiplier = 7919

// Encode maps a state ID to its obscured form: a deterministic bijection
// encode(s, seed) = (s*P + O) mod R, with O = seed mod R. Encoded values are
// always non-negative.
func Encode(s uint32, seed uint32) uint32 {
	offset := seed % Range
	encoded := (int64(s)*multiplier + int64(offset)) % Range
	if encoded < 0 {
		encoded += Range
	}
	return uint32(encoded)
}

// Table builds the full state_id -> encoded_value mapping for every block's
// state ID, plus the reverse mapping used to decode (decoding uses a stored
// table rather than algebraic inversion).
type Table struct {
	encode map[uint32]uint32
	decode map[uint32]uint32
}

// BuildTable constructs the encode/decode tables for the given state IDs and
// seed.
func BuildTable(ids []uint32, seed uint32) *Table {
	t := &Table{
		encode: make(map[uint32]uint32, len(ids)),
		decode: make(map[uint32]uint32, len(ids)),
	}
	for _, id := range ids {
		enc := Encode(id, seed)
		t.encode[id] = enc
		t.decode[enc] = id
	}
	return t
}

// Encode looks up the encoded form of a state ID that was part of the table
// construction; it falls back to computing it directly for state IDs
// outside the original set (e.g. bogus or fake-function state IDs sharing
// the same seed).
func (t *Table) Encode(id uint32, seed uint32) uint32 {
	if enc, ok := t.encode[id]; ok {
		return enc
	}
	return Encode(id, seed)
}

// Decode reverses an encoded value using the stored mapping. The second
// return value is false if encoded was never produced by this table.
func (t *Table) Decode(encoded uint32) (uint32, bool) {
	id, ok := t.decode[encoded]
	return id, ok
}
