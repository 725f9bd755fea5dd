package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/trampoline"
)

// TestLocalGetParamRoundTrips executes a single-param function that just
// returns local 0, exercising initLocals' parameter plumbing end to end.
func TestLocalGetParamRoundTrips(t *testing.T) {
	c, seg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(99), sealAndInvoke(t, c, seg, []uint64{99}))
}

// TestLocalSetThenGet checks local.set actually stores into the local's
// own Location rather than just leaving a stack copy - a later local.get
// must see the stored value.
func TestLocalSetThenGet(t *testing.T) {
	c, seg := newExecCompiler(t, []machine.ValueType{machine.I32}, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(7))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalSet, LocalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(7), sealAndInvoke(t, c, seg, nil))
}

// TestLocalTeeLeavesValueOnStack is local.tee's distinguishing behavior
// versus local.set: the stored value must also survive on the operand
// stack for the following add to consume.
func TestLocalTeeLeavesValueOnStack(t *testing.T) {
	c, seg := newExecCompiler(t, []machine.ValueType{machine.I32}, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(5))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalTee, LocalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(6), sealAndInvoke(t, c, seg, nil))
}

// TestGlobalSetThenGet exercises globalBasePtr against a real backing
// array, round-tripping a value through vmctx.Globals rather than a local.
func TestGlobalSetThenGet(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(123))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpGlobalSet, GlobalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpGlobalGet, GlobalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.NoError(t, seg.Seal())

	globals := make([]uint64, 1)
	ctx := newExecVMContext()
	ctx.Globals = globals
	got := trampoline.Invoke(seg.Addr(), ctx, nil)
	require.Equal(t, uint64(123), got)
}
