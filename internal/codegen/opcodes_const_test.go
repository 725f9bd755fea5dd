package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

func TestCompileI64ConstSmallFitsImm32(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI64Const, I64Const: 5})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.I64, c.values[0].Type)
	require.True(t, c.values[0].Loc.IsImm())
	finish(t, c)
}

// TestCompileI64ConstLargeNeedsImm64 checks the fitsInt32 branch: a value
// outside int32's range must not get silently truncated into an Imm32
// Location.
func TestCompileI64ConstLargeNeedsImm64(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI64})
	const want = int64(1) << 40
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI64Const, I64Const: want})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(want), sealAndInvoke(t, c, seg, nil))
}

func TestCompileF64ConstMaterializesIntoXMM(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpF64Const, F64Const: 0x3ff0000000000000})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.F64, c.values[0].Type)
	require.True(t, c.values[0].Loc.IsXMM())
	finish(t, c)
}
