package codegen

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/trampoline"
)

// TestStoreThenLoadRoundTrips drives compileStore then compileLoad
// against a real backing buffer, at the boundary offset spec.md §8 S4
// requires to succeed ("store at 65532 succeeds").
func TestStoreThenLoadRoundTrips(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	buf := make([]byte, 65536)

	require.NoError(t, c.Compile(ir.Wasm(i32Const(65532))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(int32(-559038737))))) // 0xDEADBEEF
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Store})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(65532))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Load})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.NoError(t, seg.Seal())

	ctx := newExecVMContext()
	ctx.MemoryBase = uintptr(unsafe.Pointer(&buf[0]))
	ctx.MemoryBound = uint64(len(buf))

	got := trampoline.Invoke(seg.Addr(), ctx, nil)
	require.Equal(t, uint32(0xDEADBEEF), uint32(got))
}

func TestMemorySizeReadsBoundInPages(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpMemorySize})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.NoError(t, seg.Seal())

	buf := make([]byte, 3*65536)
	ctx := newExecVMContext()
	ctx.MemoryBase = uintptr(unsafe.Pointer(&buf[0]))
	ctx.MemoryBound = uint64(len(buf))

	got := trampoline.Invoke(seg.Addr(), ctx, nil)
	require.Equal(t, uint64(3), got)
}
