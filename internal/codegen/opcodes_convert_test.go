package codegen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
)

// TestReinterpretRoundTrip is spec.md §8 property 7: reinterpreting an i32
// bit pattern to f32 and back must reproduce the original bits exactly -
// no arithmetic touches the value along the way.
func TestReinterpretRoundTrip(t *testing.T) {
	const bits = int32(0x40490fdb) // pi as f32 bits
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(bits))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpF32ReinterpretI32})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32ReinterpretF32})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	got := int32(sealAndInvoke(t, c, seg, nil))
	require.Equal(t, bits, got)
}

func TestWrapI64ToI32(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI64Const, I64Const: 0x1_0000_002A})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32WrapI64})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(42), sealAndInvoke(t, c, seg, nil))
}

// TestSignExtend8S covers compileSignExtend: 0xFF sign-extends to -1, not
// zero-extends to 255.
func TestSignExtend8S(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(0xFF))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Extend8S})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	got := int32(sealAndInvoke(t, c, seg, nil))
	require.Equal(t, int32(-1), got)
}

// TestTruncF64SInBounds is the non-trapping half of spec.md §8 property 9:
// a float within i32's representable range truncates toward zero without
// hitting compileTrunc's out-of-range UD2 guard.
func TestTruncF64SInBounds(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	bits := math.Float64bits(42.9)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpF64Const, F64Const: bits})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32TruncF64S})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(42), sealAndInvoke(t, c, seg, nil))
}
