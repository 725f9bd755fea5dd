package machine

import "github.com/onepass-dev/onepass/internal/asm"

// numPhysicalRegisters is the size of MachineState's fixed register array:
// 16 GPRs followed by 16 XMMs, indexed by asm.Register-1 (register 0 is
// asm.NilRegister and never stored).
const numPhysicalRegisters = 32

// MachineState is spec.md §3's MachineState: a complete, self-contained
// description of where every live value sits at one instant in the
// generated function, snapshotted by internal/statemap at every suspend
// point. Grounded on original_source's MachineState (register_values +
// stack_values + wasm_stack_private_depth), restructured into a fixed
// array plus a growable slice the way Go naturally expresses "array of
// known size" vs. "vector".
type MachineState struct {
	// Registers holds one MachineValue per physical register, indexed by
	// (asm.Register - 1). A register not currently holding a live value
	// reads Undefined.
	Registers [numPhysicalRegisters]MachineValue

	// StackValues holds one MachineValue per occupied frame slot, in
	// allocation order (index 0 is the slot nearest the frame pointer).
	StackValues []MachineValue

	// StackDepth is the number of WASM operand-stack values currently
	// live (spilled or in registers) - used to validate ControlFrame's
	// "lower bound" invariant (spec.md §3 invariant 4).
	StackDepth int

	// VMInstructionIndex is the index, into the input event stream, of the
	// instruction this state corresponds to.
	VMInstructionIndex int
}

// NewMachineState returns the empty initial state a function begins with
// before its prologue runs.
func NewMachineState() MachineState {
	return MachineState{}
}

// Clone returns a deep, independently-mutable copy, used both by
// internal/statemap.Diff and by ControlFrame entry snapshots (spec.md §3:
// "ControlFrame ... MachineState snapshot").
func (s MachineState) Clone() MachineState {
	clone := s
	if s.StackValues != nil {
		clone.StackValues = make([]MachineValue, len(s.StackValues))
		copy(clone.StackValues, s.StackValues)
	}
	return clone
}

func regIndex(r asm.Register) int { return int(r) - 1 }

// SetRegister records what a physical register now holds.
func (s *MachineState) SetRegister(r asm.Register, v MachineValue) {
	s.Registers[regIndex(r)] = v
}

// Register reads what a physical register currently holds.
func (s *MachineState) Register(r asm.Register) MachineValue {
	return s.Registers[regIndex(r)]
}

// ClearRegister marks a physical register as holding nothing WASM-visible.
func (s *MachineState) ClearRegister(r asm.Register) {
	s.Registers[regIndex(r)] = MVUndefined()
}

// PushStackValue appends a new occupied frame slot.
func (s *MachineState) PushStackValue(v MachineValue) {
	s.StackValues = append(s.StackValues, v)
}

// PopStackValue removes and returns the most recently occupied frame slot.
func (s *MachineState) PopStackValue() MachineValue {
	n := len(s.StackValues)
	v := s.StackValues[n-1]
	s.StackValues = s.StackValues[:n-1]
	return v
}

// TruncateStackValues drops every frame slot at or beyond index n, used
// when a branch releases values down to a ControlFrame's entry depth.
func (s *MachineState) TruncateStackValues(n int) {
	s.StackValues = s.StackValues[:n]
}
