package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/codeseg"
)

func TestEmitJMPAlwaysFiveBytes(t *testing.T) {
	a := NewAssembler(codeseg.New())
	l := a.NewLabel()
	before := a.Offset()
	a.EmitJMP(l)
	require.Equal(t, int32(5), a.Offset()-before)
	a.BindLabel(l)
	a.Finalize()
}

func TestEmitLEALabelPatchesForwardReference(t *testing.T) {
	a := NewAssembler(codeseg.New())
	l := a.NewLabel()
	a.EmitLEALabel(RegCX, l)
	// Some instructions between the LEA and the bind, so the patched
	// displacement is nonzero and relative, not just a lucky zero.
	a.EmitNotViaXor(Size64, RegDX)
	a.BindLabel(l)
	require.NotPanics(t, func() { a.Finalize() })
	// REX.W 8D 0D occupies bytes 0-2, the disp32 bytes 3-6, the 4-byte XOR
	// bytes 7-10; the label sits at 11, so the displacement is 11 - 7 = 4.
	require.Equal(t, []byte{4, 0, 0, 0}, a.buf.Bytes()[3:7])
}

func TestEmitJMPRegMirrorsCallReg(t *testing.T) {
	a := NewAssembler(codeseg.New())
	before := a.Offset()
	a.EmitJMPReg(RegAX)
	require.Greater(t, a.Offset(), before)
	// Same FF opcode and register-direct ModRM as EmitCALLReg, digit 4
	// instead of 2.
	require.Equal(t, []byte{0xFF, 0xE0}, a.buf.Bytes()[before:])
}

func TestBindLabelTwicePanics(t *testing.T) {
	a := NewAssembler(codeseg.New())
	l := a.NewLabel()
	a.BindLabel(l)
	require.Panics(t, func() { a.BindLabel(l) })
}

func TestFinalizeUnboundLabelPanics(t *testing.T) {
	a := NewAssembler(codeseg.New())
	a.NewLabel()
	require.Panics(t, func() { a.Finalize() })
}
