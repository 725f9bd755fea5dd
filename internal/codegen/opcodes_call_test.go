package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// TestCompileCallThroughImportedFuncsTable compiles two functions - a
// callee that adds 1 to its argument, and a caller that invokes it
// through vmctx.ImportedFuncs, exactly the table importedFuncPtr indexes
// into. This exercises emitCallSequence's full register-args/spill/
// restore sequence (spec.md §8 properties 3 "call-move topological sort"
// and 4 "stack alignment before CALL": a mis-aligned SP or a clobbered
// argument source would corrupt the result here, not just crash).
func TestCompileCallThroughImportedFuncsTable(t *testing.T) {
	callee, calleeSeg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	require.NoError(t, callee.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, callee.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, callee.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, callee.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, callee.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	callee.Finalize()
	require.NoError(t, calleeSeg.Seal())

	caller, callerSeg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{
		Kind:        ir.OpCall,
		FuncIndex:   0,
		ParamTypes:  []ir.ValType{ir.ValI32},
		ResultTypes: []ir.ValType{ir.ValI32},
	})))
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

	got := sealAndInvokeWithImports(t, caller, callerSeg, []uint64{41}, []uintptr{calleeSeg.Addr()})
	require.Equal(t, uint64(42), got)
}

// TestCompileCallSpillsLiveLocalsAcrossCall checks that a live value
// straddling a call site survives the spill/restore round trip
// emitCallSequence performs instead of needing the topological-sort logic
// a raw-register calling convention would (see opcodes_call.go's
// emitCallSequence doc comment).
func TestCompileCallSpillsLiveLocalsAcrossCall(t *testing.T) {
	callee, calleeSeg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	require.NoError(t, callee.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, callee.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, callee.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	callee.Finalize()
	require.NoError(t, calleeSeg.Seal())

	caller, callerSeg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	// local 0 stays live across the call below; emitCallSequence must spill
	// and restore it (or keep it off the clobbered set) so the final add
	// still sees its original value.
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, caller.Compile(ir.Wasm(i32Const(100))))
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{
		Kind:        ir.OpCall,
		FuncIndex:   0,
		ParamTypes:  []ir.ValType{ir.ValI32},
		ResultTypes: []ir.ValType{ir.ValI32},
	})))
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, caller.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

	got := sealAndInvokeWithImports(t, caller, callerSeg, []uint64{5}, []uintptr{calleeSeg.Addr()})
	require.Equal(t, uint64(105), got)
}
