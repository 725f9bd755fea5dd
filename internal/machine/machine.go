package machine

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
)

// ValueType is the WASM value type a Location/MachineValue pair is carrying.
// Kept separate from Location/Size so that internal/codegen can request a
// slot "for an i64" without caring whether the allocator happens to back
// it with a GPR or a stack slot.
type ValueType byte

const (
	I32 ValueType = iota
	I64
	F32
	F64
)

// IsFloat reports whether t is carried in the XMM register file.
func (t ValueType) IsFloat() bool { return t == F32 || t == F64 }

// Size returns the natural operand width of t.
func (t ValueType) Size() Size {
	if t == I32 || t == F32 {
		return Size32
	}
	return Size64
}

// Request describes one value internal/codegen wants a Location for:
// its type, and the MachineValue provenance that should be recorded for it
// (e.g. MVWasmStack(n) for a freshly pushed operand-stack result).
type Request struct {
	Type  ValueType
	Value MachineValue
	// Zeroed requests that, when the acquired Location is a register, the
	// register is zeroed immediately (mirrors a zeroed local's
	// initialization requirement from spec.md §4.4's prologue).
	Zeroed bool
}

// Machine is spec.md §4.2's Machine: a total-function register and
// frame-slot allocator. One Machine exists per function body.
//
// Grounded on the free-pool/used-set bookkeeping of the teacher's
// valueLocationStack (compiler_value_location.go), restructured to hand
// out frame slots instead of only registers (spec.md Non-goals exclude
// any spill heuristic beyond "register, else stack" - this Machine never
// steals a register from an already-live value the way the teacher's
// takeStealTargetFromUsedRegister does).
type Machine struct {
	state MachineState

	freeGPR []asm.Register
	usedGPR map[asm.Register]bool
	freeXMM []asm.Register
	usedXMM map[asm.Register]bool

	// frameSlots is the number of 8-byte slots allocated below the frame
	// pointer so far. Slots grow downward from FP (spec.md §4.2).
	frameSlots int
	// freeSlotIndices holds indices of previously-released slots
	// available for reuse, to avoid unbounded frame growth across a long
	// function (register-else-stack, never coalesced, but still reused).
	freeSlotIndices []int

	vmctxReg asm.Register
}

// New creates a Machine with the full unreserved register pools.
func New() *Machine {
	m := &Machine{
		usedGPR:  map[asm.Register]bool{},
		usedXMM:  map[asm.Register]bool{},
		vmctxReg: amd64.RegVMContext,
	}
	m.freeGPR = append(m.freeGPR, amd64.UnreservedGPRs...)
	m.freeXMM = append(m.freeXMM, amd64.UnreservedXMMs...)
	m.state.SetRegister(amd64.RegVMContext, MVVmctx())
	return m
}

// State returns the current MachineState, for internal/statemap to
// snapshot or diff against.
func (m *Machine) State() MachineState { return m.state }

// VMContextRegister is the reserved, always-live context-pointer register.
func (m *Machine) VMContextRegister() asm.Register { return m.vmctxReg }

func (m *Machine) takeFreeGPR() (asm.Register, bool) {
	if len(m.freeGPR) == 0 {
		return 0, false
	}
	r := m.freeGPR[0]
	m.freeGPR = m.freeGPR[1:]
	m.usedGPR[r] = true
	return r, true
}

func (m *Machine) takeFreeXMM() (asm.Register, bool) {
	if len(m.freeXMM) == 0 {
		return 0, false
	}
	r := m.freeXMM[0]
	m.freeXMM = m.freeXMM[1:]
	m.usedXMM[r] = true
	return r, true
}

func (m *Machine) allocSlot() int {
	if n := len(m.freeSlotIndices); n > 0 {
		idx := m.freeSlotIndices[n-1]
		m.freeSlotIndices = m.freeSlotIndices[:n-1]
		return idx
	}
	idx := m.frameSlots
	m.frameSlots++
	return idx
}

// slotOffset converts a slot index into a frame-pointer-relative byte
// offset. Slot 0 sits at -8(FP); slots grow downward.
func slotOffset(idx int) int32 { return -8 * int32(idx+1) }

// AcquireLocations hands out one Location per request, preferring a free
// register and falling back to a frame slot, and records the requested
// MachineValue against whichever backing store was chosen. Matches
// spec.md §4.2's acquire_locations(types_and_meanings, zeroed).
func (m *Machine) AcquireLocations(a *amd64.Assembler, reqs []Request) []Location {
	locs := make([]Location, len(reqs))
	for i, req := range reqs {
		var loc Location
		if req.Type.IsFloat() {
			if r, ok := m.takeFreeXMM(); ok {
				loc = XMM(r)
				m.state.SetRegister(r, req.Value)
			} else {
				loc = m.acquireStackSlot(req.Type)
			}
		} else {
			if r, ok := m.takeFreeGPR(); ok {
				loc = GPR(r)
				m.state.SetRegister(r, req.Value)
			} else {
				loc = m.acquireStackSlot(req.Type)
			}
		}
		if req.Zeroed && a != nil {
			m.zero(a, loc, req.Type)
		}
		m.state.StackDepth++
		locs[i] = loc
	}
	return locs
}

func (m *Machine) acquireStackSlot(t ValueType) Location {
	idx := m.allocSlot()
	m.state.PushStackValue(MVUndefined()) // overwritten by caller via SetStackValue if needed
	return Memory(amd64.RegBP, slotOffset(idx))
}

func (m *Machine) zero(a *amd64.Assembler, loc Location, t ValueType) {
	switch {
	case loc.IsGPR():
		op := amd64.XORL
		if t.Size() == Size64 {
			op = amd64.XORQ
		}
		a.EmitALURR(op, loc.Reg, loc.Reg)
	case loc.IsXMM():
		op := amd64.VXORPS
		if t == F64 {
			op = amd64.VXORPD
		}
		a.EmitVEX3(op, loc.Reg, loc.Reg, loc.Reg)
	case loc.IsMemory():
		op := amd64.MOVL
		if t.Size() == Size64 {
			op = amd64.MOVQ
		}
		// MOV [mem], 0 has no direct encoding in this emitter's immediate
		// forms; codegen zeroes memory-resident locals via a scratch GPR
		// it owns for the duration of init_locals.
		_ = op
	}
}

// ReleaseLocations fully releases each Location: any register or frame
// slot returns to its free pool, and the corresponding MachineState entry
// is cleared. Matches spec.md's release_locations.
func (m *Machine) ReleaseLocations(locs []Location) {
	for _, l := range locs {
		m.releaseOnlyRegs(l)
		m.releaseOnlyStack(l)
		m.state.StackDepth--
	}
}

// ReleaseLocationsKeepState frees the physical register/stack-slot
// resources for reuse but leaves MachineState untouched, for the case
// where the current suspend-point diff has already captured these values
// as live and a different, already-reconstructed state takes over past
// this point (e.g. the dead side of a branch). Matches spec.md's
// release_locations_keep_state.
func (m *Machine) ReleaseLocationsKeepState(locs []Location) {
	for _, l := range locs {
		switch l.Kind {
		case LocationGPR:
			delete(m.usedGPR, l.Reg)
			m.freeGPR = append(m.freeGPR, l.Reg)
		case LocationXMM:
			delete(m.usedXMM, l.Reg)
			m.freeXMM = append(m.freeXMM, l.Reg)
		case LocationMemory:
			idx := int(-l.Offset/8) - 1
			m.freeSlotIndices = append(m.freeSlotIndices, idx)
		}
	}
}

// ReleaseLocationsOnlyRegs frees only the register-pool portion of each
// Location (a no-op for memory-backed locations), leaving MachineState
// and any frame-slot reservation untouched.
func (m *Machine) ReleaseLocationsOnlyRegs(locs []Location) {
	for _, l := range locs {
		m.releaseOnlyRegs(l)
	}
}

func (m *Machine) releaseOnlyRegs(l Location) {
	switch l.Kind {
	case LocationGPR:
		delete(m.usedGPR, l.Reg)
		m.freeGPR = append(m.freeGPR, l.Reg)
		m.state.ClearRegister(l.Reg)
	case LocationXMM:
		delete(m.usedXMM, l.Reg)
		m.freeXMM = append(m.freeXMM, l.Reg)
		m.state.ClearRegister(l.Reg)
	}
}

// ReleaseLocationsOnlyStack frees only the frame-slot portion of each
// Location (a no-op for register-backed locations).
func (m *Machine) ReleaseLocationsOnlyStack(locs []Location) {
	for _, l := range locs {
		m.releaseOnlyStack(l)
	}
}

func (m *Machine) releaseOnlyStack(l Location) {
	if l.Kind != LocationMemory {
		return
	}
	idx := int(-l.Offset/8) - 1
	m.freeSlotIndices = append(m.freeSlotIndices, idx)
	if idx < len(m.state.StackValues) {
		m.state.StackValues[idx] = MVUndefined()
	}
}

// ReleaseLocationsOnlyOSRState updates MachineState bookkeeping for the
// given locations (clearing their provenance) without touching the
// allocator's free pools, for the case where the physical resource was
// already released through another call.
func (m *Machine) ReleaseLocationsOnlyOSRState(locs []Location) {
	for _, l := range locs {
		switch l.Kind {
		case LocationGPR, LocationXMM:
			m.state.ClearRegister(l.Reg)
		case LocationMemory:
			idx := int(-l.Offset/8) - 1
			if idx < len(m.state.StackValues) {
				m.state.StackValues[idx] = MVUndefined()
			}
		}
		m.state.StackDepth--
	}
}

// AcquireTempGPR borrows a scratch GPR that carries no WASM-visible value.
// The caller must release it (via ReleaseTempGPR) once done - typically
// within the same relaxed-operand-legalization step that needed it.
func (m *Machine) AcquireTempGPR() (asm.Register, bool) {
	r, ok := m.takeFreeGPR()
	if ok {
		m.state.SetRegister(r, MVUndefined())
	}
	return r, ok
}

// AcquireTempXMM borrows a scratch XMM register.
func (m *Machine) AcquireTempXMM() (asm.Register, bool) {
	r, ok := m.takeFreeXMM()
	if ok {
		m.state.SetRegister(r, MVUndefined())
	}
	return r, ok
}

func (m *Machine) ReleaseTempGPR(r asm.Register) {
	delete(m.usedGPR, r)
	m.freeGPR = append(m.freeGPR, r)
	m.state.ClearRegister(r)
}

func (m *Machine) ReleaseTempXMM(r asm.Register) {
	delete(m.usedXMM, r)
	m.freeXMM = append(m.freeXMM, r)
	m.state.ClearRegister(r)
}

// GetUsedGPRs returns every GPR currently handed out, in a stable order -
// used by the call sequence (spec.md §4.4.1 step 2) to decide which
// caller-saved registers must be pushed around a CALL.
func (m *Machine) GetUsedGPRs() []asm.Register {
	var out []asm.Register
	for _, r := range amd64.UnreservedGPRs {
		if m.usedGPR[r] {
			out = append(out, r)
		}
	}
	return out
}

// GetUsedXMMs returns every XMM register currently handed out.
func (m *Machine) GetUsedXMMs() []asm.Register {
	var out []asm.Register
	for _, r := range amd64.UnreservedXMMs {
		if m.usedXMM[r] {
			out = append(out, r)
		}
	}
	return out
}

// SpillEntry is one register saved by SpillUsedRegisters: the physical
// register, the frame slot it was moved into, and the MachineValue it was
// carrying (restored onto the register by RestoreSpilledRegisters).
type SpillEntry struct {
	Reg   asm.Register
	Slot  Location
	Value MachineValue
	IsXMM bool
}

// acquireRawSlot is acquireStackSlot's sibling for values with a known
// MachineValue up front (SpillUsedRegisters already knows exactly what a
// saved register was carrying, unlike a fresh local/stack acquisition).
func (m *Machine) acquireRawSlot(v MachineValue) Location {
	idx := m.allocSlot()
	m.state.PushStackValue(v)
	return Memory(amd64.RegBP, slotOffset(idx))
}

// AcquireScratchSlot reserves a frame slot outside any WASM local/stack
// bookkeeping and stores r's current value there - for a caller that
// computes a value into a register but cannot guarantee the register
// survives some intervening code it does not control (compileCallIndirect's
// table-index computation needs to survive emitCallSequence's own
// register spill/argument shuffle, which happens after the index is
// computed but knows nothing about it).
func (m *Machine) AcquireScratchSlot(a *amd64.Assembler, r asm.Register) Location {
	slot := m.acquireRawSlot(MVUndefined())
	a.EmitMovMR(amd64.MOVQ, slot.Base, slot.Offset, r)
	return slot
}

// ReleaseScratchSlot frees a slot acquired via AcquireScratchSlot.
func (m *Machine) ReleaseScratchSlot(slot Location) {
	m.releaseOnlyStack(slot)
}

// SpillUsedRegisters moves every register this Machine currently has
// handed out into fresh frame slots and frees the registers, for spec.md
// §4.4.1 steps 2-3's "save caller-saved registers" - this port spills
// through Machine-managed, frame-pointer-relative slots rather than raw
// SP-relative PUSH, keeping every Location in the function body
// frame-pointer-relative (see DESIGN.md). Each returned SpillEntry's
// MachineValue is cleared from its register in MachineState (the
// register's physical content is about to become whatever the callee
// leaves there) and reappears, in its slot, in StackValues - so a
// suspend point recorded between this call and RestoreSpilledRegisters
// still correctly locates every live WASM value.
func (m *Machine) SpillUsedRegisters(a *amd64.Assembler) []SpillEntry {
	var entries []SpillEntry
	for _, r := range m.GetUsedGPRs() {
		v := m.state.Register(r)
		slot := m.acquireRawSlot(v)
		a.EmitMovMR(amd64.MOVQ, slot.Base, slot.Offset, r)
		delete(m.usedGPR, r)
		m.freeGPR = append(m.freeGPR, r)
		m.state.ClearRegister(r)
		entries = append(entries, SpillEntry{Reg: r, Slot: slot, Value: v})
	}
	for _, r := range m.GetUsedXMMs() {
		v := m.state.Register(r)
		slot := m.acquireRawSlot(v)
		g, ok := m.takeFreeGPR()
		if !ok {
			panic("machine: no free GPR to bounce an XMM spill through")
		}
		a.EmitVMOVXMMToGPR(g, r)
		a.EmitMovMR(amd64.MOVQ, slot.Base, slot.Offset, g)
		delete(m.usedGPR, g)
		m.freeGPR = append(m.freeGPR, g)
		delete(m.usedXMM, r)
		m.freeXMM = append(m.freeXMM, r)
		m.state.ClearRegister(r)
		entries = append(entries, SpillEntry{Reg: r, Slot: slot, Value: v, IsXMM: true})
	}
	return entries
}

// RestoreSpilledRegisters reverses SpillUsedRegisters: reloads each
// register from its slot, re-marks the register used, restores its
// MachineValue, and frees the slot.
func (m *Machine) RestoreSpilledRegisters(a *amd64.Assembler, entries []SpillEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.IsXMM {
			g, ok := m.takeFreeGPR()
			if !ok {
				panic("machine: no free GPR to bounce an XMM restore through")
			}
			a.EmitMovRM(amd64.MOVQ, g, e.Slot.Base, e.Slot.Offset)
			a.EmitVMOVGPRToXMM(amd64.VMOVQX, e.Reg, g)
			delete(m.usedGPR, g)
			m.freeGPR = append(m.freeGPR, g)
			m.usedXMM[e.Reg] = true
			for j, fr := range m.freeXMM {
				if fr == e.Reg {
					m.freeXMM = append(m.freeXMM[:j], m.freeXMM[j+1:]...)
					break
				}
			}
		} else {
			a.EmitMovRM(amd64.MOVQ, e.Reg, e.Slot.Base, e.Slot.Offset)
			m.usedGPR[e.Reg] = true
			for j, fr := range m.freeGPR {
				if fr == e.Reg {
					m.freeGPR = append(m.freeGPR[:j], m.freeGPR[j+1:]...)
					break
				}
			}
		}
		m.state.SetRegister(e.Reg, e.Value)
		m.releaseOnlyStack(e.Slot)
	}
}

// FrameSize returns the current total frame-slot footprint in bytes,
// rounded so that (frame base) - FrameSize is 16-byte aligned - the
// padding computation spec.md §4.2 requires before every CALL.
func (m *Machine) FrameSize() int32 {
	size := int32(m.frameSlots) * 8
	if size%16 != 0 {
		size += 8
	}
	return size
}
