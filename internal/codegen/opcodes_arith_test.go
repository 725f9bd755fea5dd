package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

func TestCompileIntBinOpAdd(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(20))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(22))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(42), sealAndInvoke(t, c, seg, nil))
}

func TestCompileIMul(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(6))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(7))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Mul})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(42), sealAndInvoke(t, c, seg, nil))
}

// TestDivSRemSTruncateTowardZero covers the ordinary (non-overflow) side
// of compileDivRem: -7 / 2 truncates toward zero (-3), and the matching
// rem_s is -1, per WASM's signed division semantics.
func TestDivSRemSTruncateTowardZero(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(-7))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(2))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32DivS})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	got := int32(sealAndInvoke(t, c, seg, nil))
	require.Equal(t, int32(-3), got)
}

// TestDivSOverflowProducesIntMinWithoutTrapping is spec.md §8 property 10:
// INT_MIN / -1 takes compileDivRem's overflow side-path, producing INT_MIN
// without ever executing IDIV (whose hardware fault would otherwise trap
// here where the WASM spec says it must not).
func TestDivSOverflowProducesIntMinWithoutTrapping(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(-2147483648))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(-1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32DivS})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	got := int32(sealAndInvoke(t, c, seg, nil))
	require.Equal(t, int32(-2147483648), got)
}

// TestRemSOverflowProducesZeroWithoutTrapping is the rem_s half of the
// same property: INT_MIN % -1 is 0, not a hardware fault.
func TestRemSOverflowProducesZeroWithoutTrapping(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(-2147483648))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(-1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32RemS})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	got := int32(sealAndInvoke(t, c, seg, nil))
	require.Equal(t, int32(0), got)
}

func TestCompileIntCompare(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(3))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(5))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32LtS})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.I32, c.values[0].Type)
	finish(t, c)
}

func TestCompileBitCountClz(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Clz})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(31), sealAndInvoke(t, c, seg, nil))
}
