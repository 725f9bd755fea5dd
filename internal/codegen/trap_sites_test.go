package codegen

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/codeseg"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/statemap"
)

// ud2 is EmitUD2's two-byte encoding (internal/asm/amd64/emit.go); these
// tests check for its presence in the emitted bytes rather than executing
// it, since internal/trap explicitly leaves signal delivery to the
// embedding host - actually hitting UD2 in a go test process would kill
// the test binary rather than exercise the intended trap path.
var ud2 = []byte{0x0F, 0x0B}

func countUD2(seg *codeseg.Segment) int {
	return bytes.Count(seg.Bytes(), ud2)
}

// TestScenarioS2DivideByZeroEmitsTrapSite is spec.md §8 S2: i32.div_s by a
// zero divisor must trap. compileDivRem's zero-check guard is unconditional
// regardless of signedness, so this also covers the unsigned div/rem forms.
func TestScenarioS2DivideByZeroEmitsTrapSite(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, []ir.ValType{ir.ValI32})
	before := countUD2(seg)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(0))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32DivS})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpReturn})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.Greater(t, countUD2(seg), before, "compileDivRem must emit a UD2 trap site guarding the zero divisor")
}

// TestScenarioS4MemoryBoundsEmitsTrapSite is spec.md §8 S4: a store past
// the end of memory must trap. Exercised with CheckModeAlways so the
// bounds-check path is unconditionally active regardless of whatever
// WithDynamicMemory the surrounding module would otherwise have chosen.
func TestScenarioS4MemoryBoundsEmitsTrapSite(t *testing.T) {
	seg := codeseg.New()
	cfg := NewConfig().WithMemoryCheckMode(CheckModeAlways)
	c := NewCompiler(seg, cfg, zerolog.Nop(), 0, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionBegin, FunctionIndex: 0})))
	before := countUD2(seg)

	require.NoError(t, c.Compile(ir.Wasm(i32Const(65536))))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Store})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.Greater(t, countUD2(seg), before, "prepareAddress's bounds check must emit a UD2 trap site")
}

// TestScenarioS5CallIndirectSignatureMismatchEmitsTrapSite is spec.md §8
// S5: calling through a table slot whose signature doesn't match the
// call_indirect site's expected type must trap - compileCallIndirect emits
// two distinct guards (table-bounds and signature), both UD2.
func TestScenarioS5CallIndirectSignatureMismatchEmitsTrapSite(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, nil)
	before := countUD2(seg)
	require.NoError(t, c.Compile(ir.Wasm(i32Const(0))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpCallIndirect, TypeIndex: 3})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.GreaterOrEqual(t, countUD2(seg)-before, 2, "compileCallIndirect must guard both table bounds and signature mismatch with UD2")
}

// TestScenarioS3LoopRecordsInterruptSuspendPoint is spec.md §8 S3: a loop
// header must be a valid cancellation point. Real delivery happens by the
// host unmapping InterruptSignalMem's page (out of this package's scope),
// so this checks the structural half: emitInterruptPoll's recordSuspend
// call leaves a statemap.Loop entry lookupable at the native offset where
// the loop header's poll ends. (The loop's entry offset is where the
// Prologue's own poll recorded its Loop entry, so it cannot tell the two
// apart.)
func TestScenarioS3LoopRecordsInterruptSuspendPoint(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	loopOffsetBefore := c.asm.Offset()
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLoop})))
	loopPollEnd := c.asm.Offset()
	require.Greater(t, loopPollEnd, loopOffsetBefore)
	_, ok := c.sm.Lookup(statemap.Loop, loopPollEnd)
	require.True(t, ok, "compileLoop's header poll must record a Loop suspend point where the poll ends")

	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	finish(t, c)
}

// TestControlFlowLeavesNoUnboundLabels is spec.md §8 property 5: every
// Label created during compilation must end up bound by the time Finalize
// runs, or the underlying Assembler panics trying to patch a forward
// reference with no target. Finalize not panicking here, across nested
// blocks/loops/ifs, is the property.
func TestControlFlowLeavesNoUnboundLabels(t *testing.T) {
	c := newTestCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpLoop})))
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpIf})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBr, Depth: 1})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpElse})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBr, Depth: 2})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NotPanics(t, func() { finish(t, c) })
}

// TestUnreachableCodeEmitsNoBytes is spec.md §8 property 6: once a frame
// is marked Unreachable, subsequent opcodes up to the matching end must be
// consumed without emitting any machine code.
func TestUnreachableCodeEmitsNoBytes(t *testing.T) {
	c, seg := newExecCompiler(t, nil, 0, nil)
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpBlock})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpUnreachable})))
	before := seg.Len()
	require.NoError(t, c.Compile(ir.Wasm(i32Const(1))))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpI32Add})))
	require.Equal(t, before, seg.Len(), "opcodes after unreachable must emit zero bytes")
	require.NoError(t, c.Compile(ir.Wasm(ir.Opcode{Kind: ir.OpEnd})))
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
}
