package asmfmt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/internal/asmfmt"
	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/proto"
)

func samplePrototype() *proto.Prototype {
	return &proto.Prototype{
		MaxStackSize: 6,
		IsVararg:     true,
		Code: []instr.Instruction{
			instr.CreateABC(instr.MOVE, 1, 2, 0, false),
			instr.CreateABx(instr.LOADI, 0, 5+instr.OFFSET_sBx),
			instr.CreateABCk(instr.EQI, 0, 0, instr.Int2sC(5), 1),
			instr.CreateSJ(instr.JMP, instr.OFFSET_sJ+2, 0),
			instr.CreateABC(instr.RETURN0, 0, 0, 0, false),
		},
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	p := samplePrototype()
	text := asmfmt.Format(p)

	got, err := asmfmt.Parse(text)
	require.NoError(t, err)
	require.Equal(t, p.MaxStackSize, got.MaxStackSize)
	require.Equal(t, p.IsVararg, got.IsVararg)
	require.Equal(t, p.Code, got.Code)
}

func TestFormatParseRoundTripWithMetadataFields(t *testing.T) {
	p := samplePrototype()
	p.Mode = 7
	p.Magic = proto.Magic
	p.Extra = proto.PackExtra(3, 42)

	got, err := asmfmt.Parse(asmfmt.Format(p))
	require.NoError(t, err)
	require.Equal(t, p.Mode, got.Mode)
	require.Equal(t, p.Magic, got.Magic)
	require.Equal(t, p.Extra, got.Extra)
}

func TestParseRejectsMissingPrototypeHeader(t *testing.T) {
	_, err := asmfmt.Parse([]byte("maxstack 4\ncode:\n"))
	require.ErrorIs(t, err, asmfmt.ErrMalformed)
}

func TestParseRejectsUnknownOpcode(t *testing.T) {
	text := "prototype:\n\tmaxstack 1\n\tcode:\n\t\tbogusop a=0\n"
	_, err := asmfmt.Parse([]byte(text))
	require.ErrorIs(t, err, asmfmt.ErrMalformed)
}

func TestParseRejectsMissingCodeSection(t *testing.T) {
	text := "prototype:\n\tmaxstack 1\n"
	_, err := asmfmt.Parse([]byte(text))
	require.ErrorIs(t, err, asmfmt.ErrMalformed)
}

func TestFormatOmitsZeroMetadataFields(t *testing.T) {
	p := samplePrototype()
	text := string(asmfmt.Format(p))
	require.NotContains(t, text, "mode ")
	require.NotContains(t, text, "magic ")
	require.NotContains(t, text, "extra ")
}
