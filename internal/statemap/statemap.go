package statemap

import (
	"sort"

	"github.com/onepass-dev/onepass/internal/machine"
)

// SuspendKind tags why a suspend point exists, matching spec.md §4.3's
// three suspend kinds.
type SuspendKind byte

const (
	Loop SuspendKind = iota
	Call
	Trappable
)

// SuspendPoint records where, in the native instruction stream, execution
// may be observed paused, and which diff reconstructs the state at that
// instant.
type SuspendPoint struct {
	NativeOffset   int32
	ActivateOffset int32 // spec.md: "native_offset -> (activate_offset, diff_id)"
	DiffID         int
}

// FunctionStateMap is spec.md §4.3's per-function StateMap: the initial
// state, the diff chain, and the three kind-tagged sorted suspend-point
// tables a trap handler binary-searches by native offset.
type FunctionStateMap struct {
	Initial machine.MachineState
	Diffs   []Diff

	byKind [3][]SuspendPoint // indexed by SuspendKind; kept sorted by NativeOffset

	// BodyStartOffset is the native offset of the first byte of this
	// function's body, so the per-function maps can be looked up from a
	// whole-module code-relative fault address.
	BodyStartOffset int32
}

// New begins a StateMap for a function whose body starts at
// bodyStartOffset, with an already-emitted prologue state of initial.
func New(initial machine.MachineState, bodyStartOffset int32) *FunctionStateMap {
	return &FunctionStateMap{Initial: initial, BodyStartOffset: bodyStartOffset}
}

// Record computes the diff between enclosingState (the MachineState stored
// on the ControlFrame enclosing this suspend point, chained from
// enclosingDiffID) and current, appends it to the diff table, and files a
// SuspendPoint of the given kind at nativeOffset. It returns the new
// diff's id, which the caller stores back onto the enclosing ControlFrame
// so the next suspend point within it chains from here.
func (sm *FunctionStateMap) Record(kind SuspendKind, nativeOffset, activateOffset int32, enclosingState machine.MachineState, enclosingDiffID int, current machine.MachineState) int {
	d := computeDiff(enclosingState, current)
	d.Prev = enclosingDiffID
	id := len(sm.Diffs)
	sm.Diffs = append(sm.Diffs, d)

	points := sm.byKind[kind]
	sp := SuspendPoint{NativeOffset: nativeOffset, ActivateOffset: activateOffset, DiffID: id}
	// Suspend points are filed in emission order, which is already
	// monotonically increasing in nativeOffset within a single pass.
	points = append(points, sp)
	sm.byKind[kind] = points
	return id
}

// Lookup finds the suspend point of the given kind whose NativeOffset
// equals offset exactly - the lookup a trap or interrupt handler performs
// against a faulting program counter.
func (sm *FunctionStateMap) Lookup(kind SuspendKind, offset int32) (SuspendPoint, bool) {
	points := sm.byKind[kind]
	i := sort.Search(len(points), func(i int) bool { return points[i].NativeOffset >= offset })
	if i < len(points) && points[i].NativeOffset == offset {
		return points[i], true
	}
	return SuspendPoint{}, false
}

// Reconstruct walks the diff chain from diffID back to the function's
// initial state, then replays the chain forward onto Initial, matching
// spec.md §4.3's reconstruction contract: "follow diff back-link chain to
// initial state, apply diffs in order."
func (sm *FunctionStateMap) Reconstruct(diffID int) machine.MachineState {
	if diffID == noPrev {
		return sm.Initial.Clone()
	}
	var chain []int
	for id := diffID; id != noPrev; id = sm.Diffs[id].Prev {
		chain = append(chain, id)
	}
	state := sm.Initial
	for i := len(chain) - 1; i >= 0; i-- {
		state = apply(state, sm.Diffs[chain[i]])
	}
	return state
}

// GlobalBreakpointMap is spec.md §9's hashmap from a whole-module native
// offset to the host callback to invoke when a Breakpoint event's site is
// reached - a plain map, never consulted for a multi-pass analysis, so no
// sorted/interval structure is warranted.
type GlobalBreakpointMap map[int32]BreakpointFunc

// BreakpointFunc is the boxed host callback associated with one
// Internal(Breakpoint(id)) event (spec.md §6).
type BreakpointFunc func()
