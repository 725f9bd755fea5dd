package machine

// MachineValueKind tags the variant of a MachineValue, matching spec.md §3
// verbatim: every register and stack slot tracked by a MachineState is one
// of these six provenance tags, so a suspend point can explain what it
// holds well enough to reconstruct a source-level value from it.
type MachineValueKind byte

const (
	// Undefined means the slot holds no WASM-visible value (scratch,
	// alignment padding, or a temp register borrowed mid-expression).
	Undefined MachineValueKind = iota
	// Vmctx marks the register holding the context pointer.
	Vmctx
	// WasmStack(Depth) names a live operand-stack value by its WASM
	// value-stack depth at the point the value was pushed.
	WasmStack
	// WasmLocal(Index) names a live WASM local by its declared index.
	WasmLocal
	// CopyStackBPRelative(Offset) is a saved copy of another frame slot,
	// itself addressed frame-pointer-relative (used when a spilled
	// register's prior stack copy must be distinguished from a fresh one).
	CopyStackBPRelative
	// ExplicitShadow marks the sentinel pushed/popped around a call
	// sequence's saved-register region (spec.md §4.4.1 step 1 and the
	// matching debug-assert-and-pop in step 12).
	ExplicitShadow
)

// MachineValue is spec.md §3's MachineValue: the provenance tag attached to
// every entry of a MachineState, whether it names a register or a stack
// slot.
type MachineValue struct {
	Kind  MachineValueKind
	Depth int   // WasmStack
	Index uint32 // WasmLocal
	Offset int32 // CopyStackBPRelative
}

func MVUndefined() MachineValue { return MachineValue{Kind: Undefined} }
func MVVmctx() MachineValue     { return MachineValue{Kind: Vmctx} }
func MVWasmStack(depth int) MachineValue {
	return MachineValue{Kind: WasmStack, Depth: depth}
}
func MVWasmLocal(index uint32) MachineValue {
	return MachineValue{Kind: WasmLocal, Index: index}
}
func MVCopyStackBPRelative(offset int32) MachineValue {
	return MachineValue{Kind: CopyStackBPRelative, Offset: offset}
}
func MVExplicitShadow() MachineValue { return MachineValue{Kind: ExplicitShadow} }

func (v MachineValue) String() string {
	switch v.Kind {
	case Undefined:
		return "undefined"
	case Vmctx:
		return "vmctx"
	case WasmStack:
		return "wasm_stack"
	case WasmLocal:
		return "wasm_local"
	case CopyStackBPRelative:
		return "copy_stack_bp_relative"
	case ExplicitShadow:
		return "explicit_shadow"
	default:
		return "unknown"
	}
}
