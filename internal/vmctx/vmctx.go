// Package vmctx defines the layout of the context structure every
// generated function receives as its first argument, per spec.md §6's
// vmctx offset schedule. Field order here IS part of the ABI: generated
// code addresses these fields by constant offset, computed once at
// compile time from this struct's layout, exactly the way the teacher's
// own callEngine/moduleContext structs are addressed from assembly.
//
// Grounded on the teacher's internal/engine/compiler/engine.go, whose
// moduleContext struct carries the comment (paraphrased in spirit here,
// not copied verbatim) that its field offsets are load-bearing because
// compiled code references them directly; this package generalizes that
// single teacher struct into the full offset schedule spec.md §6 lists
// (memory base/bound, tables, signatures, globals, imported funcs,
// intrinsics, internals, interrupt signal word, stack lower bound).
package vmctx

import "unsafe"

// NumInternalSlots bounds the internals region spec.md §6 describes as
// "≤256 u64 words" - also the exclusive upper bound GetInternal/SetInternal
// indices must satisfy.
const NumInternalSlots = 256

// TableEntry is one indirect-call table slot: a callee code pointer paired
// with the type signature index indirect calls must verify against
// (spec.md §4.4: "Call indirect ... signature mismatch traps").
type TableEntry struct {
	CodePtr        uintptr
	SignatureIndex uint32
	_              uint32 // padding to keep the entry 16-byte aligned
}

// VMContext is the struct whose address generated code receives as its
// first (integer) argument, per spec.md §6's Invocation ABI. Field order
// must not change without recomputing every offset constant below.
type VMContext struct {
	MemoryBase  uintptr
	MemoryBound uint64 // current memory size in bytes

	Tables         []TableEntry
	ImportedTables []TableEntry

	Signatures []uint64 // one hash/id per declared function type

	Globals         []uint64
	ImportedGlobals []uint64

	ImportedFuncs []uintptr // code pointers for imported (non-local) functions

	Intrinsics []uintptr // host intrinsic thunks (memory.grow, etc.)

	Internals [NumInternalSlots]uint64

	// InterruptSignalMem is read by every loop header's interrupt poll
	// (spec.md §5): when the host un-maps this word's page, the next poll
	// faults, delivering a cancellation request through the trap path.
	InterruptSignalMem *uint64

	// StackLowerBound bounds how far SP may descend before a stack-bound
	// check (emitted in the prologue when enabled) must trap instead of
	// continuing - see codegen's Config.WithStackBoundCheck.
	StackLowerBound uintptr
}

// Offset constants for the fields generated code addresses directly.
// Computed via unsafe.Offsetof so they can never silently drift from the
// struct definition above.
var (
	OffsetMemoryBase          = int32(unsafe.Offsetof(VMContext{}.MemoryBase))
	OffsetMemoryBound         = int32(unsafe.Offsetof(VMContext{}.MemoryBound))
	OffsetTables              = int32(unsafe.Offsetof(VMContext{}.Tables))
	OffsetImportedTables      = int32(unsafe.Offsetof(VMContext{}.ImportedTables))
	OffsetSignatures          = int32(unsafe.Offsetof(VMContext{}.Signatures))
	OffsetGlobals             = int32(unsafe.Offsetof(VMContext{}.Globals))
	OffsetImportedGlobals     = int32(unsafe.Offsetof(VMContext{}.ImportedGlobals))
	OffsetImportedFuncs       = int32(unsafe.Offsetof(VMContext{}.ImportedFuncs))
	OffsetIntrinsics          = int32(unsafe.Offsetof(VMContext{}.Intrinsics))
	OffsetInternals           = int32(unsafe.Offsetof(VMContext{}.Internals))
	OffsetInterruptSignalMem  = int32(unsafe.Offsetof(VMContext{}.InterruptSignalMem))
	OffsetStackLowerBound     = int32(unsafe.Offsetof(VMContext{}.StackLowerBound))
)

// InternalOffset returns the byte offset of Internals[index] from the
// start of VMContext, validating spec.md §6's "< 256" bound.
func InternalOffset(index uint32) int32 {
	if index >= NumInternalSlots {
		panic("vmctx: internal slot index out of range")
	}
	return OffsetInternals + int32(index)*8
}

// Intrinsic indices into VMContext.Intrinsics (spec.md §6: "offsets for
// memory_size, memory_grow, ..."). memory.size never needs the indirect
// call this table exists for (the current size is just MemoryBound/page
// size) but memory.grow does: it may remap the linear memory region, host
// logic Codegen has no business inlining.
const (
	IntrinsicMemoryGrow = 0
)

// PageSize is the WASM linear-memory page size in bytes (64 KiB, fixed
// by the MVP spec).
const PageSize = 65536
