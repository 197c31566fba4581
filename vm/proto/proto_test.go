package proto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/cflatten/vm/instr"
	"github.com/mna/cflatten/vm/proto"
)

func TestPackExtraRoundTrip(t *testing.T) {
	p := &proto.Prototype{Extra: proto.PackExtra(17, 0xCAFEBABE)}
	require.Equal(t, uint32(17), p.NumBlocks())
	require.Equal(t, uint32(0xCAFEBABE), p.Seed())
}

func TestPackExtraZeroValues(t *testing.T) {
	p := &proto.Prototype{Extra: proto.PackExtra(0, 0)}
	require.Equal(t, uint32(0), p.NumBlocks())
	require.Equal(t, uint32(0), p.Seed())
}

func TestSizeCodeMatchesCodeLength(t *testing.T) {
	p := &proto.Prototype{Code: []instr.Instruction{
		instr.CreateABC(instr.MOVE, 0, 0, 0, false),
		instr.CreateABC(instr.RETURN0, 0, 0, 0, false),
	}}
	require.Equal(t, 2, p.SizeCode())
}

func TestSizeCodeEmpty(t *testing.T) {
	p := &proto.Prototype{}
	require.Equal(t, 0, p.SizeCode())
}

func TestMagicConstant(t *testing.T) {
	require.Equal(t, uint32(0x43464600), proto.Magic)
}
