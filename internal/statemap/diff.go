// Package statemap is the StateMap of spec.md §4.3: at every suspend
// point (loop header, call site, trappable instruction) it records enough
// of a MachineState delta to reconstruct, after the fact, exactly which
// WASM value sat in which register or frame slot - the information a
// signal handler needs to unwind a trapped or interrupted function back
// into host-visible state.
//
// Grounded on original_source's MachineStateDiff/get_diff/new_machine_state
// (lib/singlepass-backend/src/codegen_x64.rs), which chains sparse diffs
// back to a function's initial state rather than storing a full snapshot
// per suspend point; no teacher file covers this concern (spec.md's
// caching-free state-map model has no equivalent in the teacher's
// compiler, which does not support interruption/OSR at all).
package statemap

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/machine"
)

// noPrev marks a Diff with no predecessor: reconstruction starts from the
// function's initial MachineState instead of an earlier diff.
const noPrev = -1

// numPhysicalRegisters mirrors internal/machine's fixed register-array
// size (16 GPRs + 16 XMMs).
const numPhysicalRegisters = 32

// Diff is a sparse delta between one MachineState and the next, plus a
// back-link to the diff it was computed against. Chaining diffs instead of
// storing full snapshots keeps every suspend point's bookkeeping cost
// proportional to how much actually changed since the enclosing control
// frame was entered, matching spec.md §4.3.
type Diff struct {
	Prev int // index into FunctionStateMap.Diffs, or noPrev

	Registers   map[int]machine.MachineValue // regIndex -> new value
	StackValues map[int]machine.MachineValue // slot index -> new value

	// StackValuesLen is the stack length *after* this diff, so that a
	// truncation (values released back to a ControlFrame's entry depth)
	// is itself reconstructible.
	StackValuesLen int

	VMInstructionIndex int
}

// computeDiff returns the sparse delta turning prev into cur.
func computeDiff(prev, cur machine.MachineState) Diff {
	d := Diff{
		Prev:               noPrev,
		Registers:          map[int]machine.MachineValue{},
		StackValues:        map[int]machine.MachineValue{},
		StackValuesLen:     len(cur.StackValues),
		VMInstructionIndex: cur.VMInstructionIndex,
	}
	for i := 0; i < numPhysicalRegisters; i++ {
		r := asm.Register(i + 1)
		pv, cv := prev.Register(r), cur.Register(r)
		if pv != cv {
			d.Registers[i] = cv
		}
	}
	for i, v := range cur.StackValues {
		if i >= len(prev.StackValues) || prev.StackValues[i] != v {
			d.StackValues[i] = v
		}
	}
	return d
}

// apply folds d's changes onto base, returning the resulting MachineState.
func apply(base machine.MachineState, d Diff) machine.MachineState {
	next := base.Clone()
	for i, v := range d.Registers {
		next.SetRegister(asm.Register(i+1), v)
	}
	if d.StackValuesLen > len(next.StackValues) {
		grown := make([]machine.MachineValue, d.StackValuesLen)
		copy(grown, next.StackValues)
		next.StackValues = grown
	} else {
		next.StackValues = next.StackValues[:d.StackValuesLen]
	}
	for i, v := range d.StackValues {
		next.StackValues[i] = v
	}
	next.VMInstructionIndex = d.VMInstructionIndex
	return next
}
