package codegen

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/codeseg"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// newTestCompiler builds a Compiler ready to receive opcode events: its
// Prologue has already run (via a FunctionBegin internal event), mirroring
// how a real caller drives Compile. resultTypes is nil for a function that
// returns nothing.
func newTestCompiler(t *testing.T, localTypes []machine.ValueType, numParams int, resultTypes []ir.ValType) *Compiler {
	t.Helper()
	seg := codeseg.New()
	c := NewCompiler(seg, NewConfig(), zerolog.Nop(), 0, localTypes, numParams, resultTypes)
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionBegin, FunctionIndex: 0})))
	return c
}

func finish(t *testing.T, c *Compiler) {
	t.Helper()
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	require.NotPanics(t, func() { c.Finalize() })
}

func i32Const(v int32) ir.Opcode { return ir.Opcode{Kind: ir.OpI32Const, I32Const: v} }

func TestCompileBlockEnd(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

func TestCompileBlockWithResult(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock, ResultTypes: []ir.ValType{ir.ValI32}})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(7))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.I32, c.values[0].Type)
	finish(t, c)
}

func TestCompileLoopBr(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLoop})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBrIf, Depth: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

func TestCompileIfElseEnd(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpIf, ResultTypes: []ir.ValType{ir.ValI32}})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(2))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpElse})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(3))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.Len(t, c.values, 1)
	finish(t, c)
}

func TestCompileIfWithoutElse(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpIf})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

func TestCompileBrExitsOuterBlock(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock, ResultTypes: []ir.ValType{ir.ValI32}})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(9))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBr, Depth: 0})))
	// Everything after an unconditional br is dead: compileUnreachableTracking
	// swallows it, so a clearly-invalid trailing opcode must not surface an
	// error here.
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.Len(t, c.values, 1)
	finish(t, c)
}

func TestCompileBrTable(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBrTable, Labels: []uint32{0, 1}, Default: 2})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

func TestCompileReturn(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(i32Const(42))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.Equal(t, uint64(42), sealAndInvoke(t, c, seg, nil))
}

func TestCompileDrop(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpDrop})))
	require.Empty(t, c.values)
	finish(t, c)
}

func TestCompileSelectInt(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(10))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(20))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpSelect})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.I32, c.values[0].Type)
	finish(t, c)
}

func TestCompileSelectFloat(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpF64Const, F64Const: 0x4000000000000000})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpF64Const, F64Const: 0x3ff0000000000000})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(0))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpSelect})))
	require.Len(t, c.values, 1)
	require.Equal(t, machine.F64, c.values[0].Type)
	finish(t, c)
}

func TestCompileUnreachableTrapsAndSwallowsTail(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpUnreachable})))
	require.True(t, c.frames.top().Unreachable)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

func TestCompileNestedBlocksAndLoop(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLoop})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBrIf, Depth: 1})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(0))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBrIf, Depth: 0})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}
