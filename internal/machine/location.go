// Package machine is the Machine of spec.md §4.2: the total-function
// register/stack-slot allocator that hands every live WASM value a single
// Location, and the per-function MachineState/MachineValue bookkeeping
// that internal/statemap snapshots off of it.
//
// Grounded on the register/value-stack split of the teacher's
// internal/engine/compiler.valueLocationStack (compiler_value_location.go)
// for the free-pool and used-register bookkeeping, but restructured around
// spec.md's frame-pointer-relative stack slots and MachineValue
// provenance tags - both of which come from original_source's Machine/
// MachineState (lib/singlepass-backend/src/codegen_x64.rs), since the
// teacher's own stack model (a Go slice on callEngine, not SP/BP-relative
// frame slots) does not carry this information at all.
package machine

import "github.com/onepass-dev/onepass/internal/asm"

// Size is the operand width in bits, matching spec.md §3's Size type.
type Size byte

const (
	Size8  Size = 8
	Size16 Size = 16
	Size32 Size = 32
	Size64 Size = 64
)

// LocationKind tags the variant of a Location.
type LocationKind byte

const (
	LocationNone LocationKind = iota
	LocationGPR
	LocationXMM
	LocationMemory
	LocationImm8
	LocationImm32
	LocationImm64
)

// Location is spec.md §3's Location type: exactly one of a GPR, an XMM
// register, a frame-pointer-relative memory slot, or an immediate.
type Location struct {
	Kind LocationKind

	Reg asm.Register // valid for LocationGPR / LocationXMM

	// Base+Offset address a memory operand as [Base + Offset], matching
	// internal/asm/amd64's Memory-operand encoding (no scaled index).
	Base   asm.Register
	Offset int32

	Imm int64 // valid for LocationImm8 / LocationImm32 / LocationImm64
}

func GPR(r asm.Register) Location  { return Location{Kind: LocationGPR, Reg: r} }
func XMM(r asm.Register) Location  { return Location{Kind: LocationXMM, Reg: r} }
func Memory(base asm.Register, offset int32) Location {
	return Location{Kind: LocationMemory, Base: base, Offset: offset}
}
func Imm8(v int8) Location   { return Location{Kind: LocationImm8, Imm: int64(v)} }
func Imm32(v int32) Location { return Location{Kind: LocationImm32, Imm: int64(v)} }
func Imm64(v int64) Location { return Location{Kind: LocationImm64, Imm: v} }

func (l Location) IsGPR() bool    { return l.Kind == LocationGPR }
func (l Location) IsXMM() bool    { return l.Kind == LocationXMM }
func (l Location) IsReg() bool    { return l.Kind == LocationGPR || l.Kind == LocationXMM }
func (l Location) IsMemory() bool { return l.Kind == LocationMemory }
func (l Location) IsImm() bool {
	return l.Kind == LocationImm8 || l.Kind == LocationImm32 || l.Kind == LocationImm64
}

func (l Location) String() string {
	switch l.Kind {
	case LocationGPR:
		return "gpr"
	case LocationXMM:
		return "xmm"
	case LocationMemory:
		return "mem"
	case LocationImm8, LocationImm32, LocationImm64:
		return "imm"
	default:
		return "none"
	}
}
