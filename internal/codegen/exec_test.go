package codegen

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/onepass-dev/onepass/internal/codeseg"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/trampoline"
	"github.com/onepass-dev/onepass/internal/vmctx"
)

// newExecCompiler is newTestCompiler's sibling for tests that actually run
// the generated machine code: it hands back the backing Segment too, since
// sealing and invoking happens after Compile/Finalize, past the point a
// plain *Compiler can still reach its own code buffer.
func newExecCompiler(t *testing.T, localTypes []machine.ValueType, numParams int, resultTypes []ir.ValType) (*Compiler, *codeseg.Segment) {
	t.Helper()
	seg := codeseg.New()
	c := NewCompiler(seg, NewConfig(), zerolog.Nop(), 0, localTypes, numParams, resultTypes)
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionBegin, FunctionIndex: 0})))
	return c, seg
}

// newExecVMContext returns a VMContext sufficient to invoke a function that
// touches no memory/tables/globals: InterruptSignalMem must still point at
// a live word, since every loop header and Prologue's own entry poll
// dereference it unconditionally.
func newExecVMContext() *vmctx.VMContext {
	word := new(uint64)
	return &vmctx.VMContext{InterruptSignalMem: word}
}

// sealAndInvoke closes out body emission, seals the segment RX, and invokes
// the compiled function with args via internal/trampoline - the same
// Invoke a real embedding host uses, per SPEC_FULL.md §4.5.
func sealAndInvoke(t *testing.T, c *Compiler, seg *codeseg.Segment, args []uint64) uint64 {
	t.Helper()
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.NoError(t, seg.Seal())
	return trampoline.Invoke(seg.Addr(), newExecVMContext(), args)
}

// sealAndInvokeWithImports is sealAndInvoke's sibling for call-site tests:
// importedFuncs becomes vmctx.ImportedFuncs, the table importedFuncPtr
// indexes into for both OpCall and (today's local-function-as-import MVP
// scope) would-be direct calls alike.
func sealAndInvokeWithImports(t *testing.T, c *Compiler, seg *codeseg.Segment, args []uint64, importedFuncs []uintptr) uint64 {
	t.Helper()
	require.NoError(t, c.Compile(ir.Internal(ir.InternalEvent{Kind: ir.FunctionEnd})))
	c.Finalize()
	require.NoError(t, seg.Seal())
	ctx := newExecVMContext()
	ctx.ImportedFuncs = importedFuncs
	return trampoline.Invoke(seg.Addr(), ctx, args)
}
