package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// TestScenarioS1AddTwoConstants is spec.md §8 S1: `(i32) -> i32` body
// `local.get 0; i32.const 7; i32.add; end`, invoked with 5, must return 12.
// This is exactly the case the outer ControlFrame's unpopulated ResultTypes
// bug silently broke: without it, compileEnd's "move result into RAX" step
// never runs and Invoke returns whatever RAX happened to hold.
func TestScenarioS1AddTwoConstants(t *testing.T) {
	c, seg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(7))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))

	got := sealAndInvoke(t, c, seg, []uint64{5})
	require.Equal(t, uint64(12), got)
}

// TestScenarioS6BrTable is spec.md §8 S6: `(i32) -> i32` selecting between
// constants 10/20/30 via `br_table 0 1 2` with default 99; inputs 0,1,2,7
// must yield 10,20,30,99. Four void (no result type) dispatch blocks are
// nested B3{B2{B1{B0{...}}}}; br_table's labels 0/1/2 target B0/B1/B2 and
// its default targets B3, and each case's constant is carried out through
// the function's own result-typed outer frame via an explicit `return` -
// so this scenario exercises both br_table dispatch and the outer-frame
// ResultTypes threading the first review comment fixed. Each case
// recompiles: br_table mutates the ControlFrame stack it runs against, so
// one Compiler can't run the body twice.
func TestScenarioS6BrTable(t *testing.T) {
	cases := []struct {
		input uint64
		want  uint64
	}{
		{0, 10},
		{1, 20},
		{2, 30},
		{7, 99},
	}
	for _, tc := range cases {
		c, seg := newExecCompiler(t, []machine.ValueType{machine.I32}, 1, []ir.ValType{ir.ValI32})

		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock}))) // B3: default
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock}))) // B2: label 2
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock}))) // B1: label 1
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock}))) // B0: label 0
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLocalGet, LocalIndex: 0})))
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBrTable, Labels: []uint32{0, 1, 2}, Default: 3})))

		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd}))) // closes B0: index 0 lands here
		require.NoError(t, c.Compile(ir.Wasm(i32Const(10))))
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd}))) // closes B1: index 1 lands here
		require.NoError(t, c.Compile(ir.Wasm(i32Const(20))))
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd}))) // closes B2: index 2 lands here
		require.NoError(t, c.Compile(ir.Wasm(i32Const(30))))
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd}))) // closes B3: default lands here
		require.NoError(t, c.Compile(ir.Wasm(i32Const(99))))
		require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))

		got := sealAndInvoke(t, c, seg, []uint64{tc.input})
		require.Equalf(t, tc.want, got, "input %d", tc.input)
	}
}
