package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/machine"
)

// LegalizeMode is spec.md §4.4's "central device": the four ways a binary
// operation's two popped Locations get reconciled into operand shapes the
// Emitter can actually encode, chosen by a decision table on the
// operands' kinds (register / memory / immediate).
type LegalizeMode byte

const (
	// Direct: both Locations already fit the instruction as-is (e.g.
	// dst=GPR,src=anything, or dst=Memory,src=GPR).
	Direct LegalizeMode = iota
	// SrcToGPR: dst is usable in place, but src must move to a temp GPR
	// first (dst and src are both memory, or src is an immediate the
	// chosen opcode form can't encode at that operand position).
	SrcToGPR
	// DstToGPR: dst cannot hold the result in place (it is an immediate)
	// and must move to a temp GPR first; the temp becomes the result
	// Location.
	DstToGPR
	// BothToGPR: neither operand is usable in place.
	BothToGPR
)

// decideLegalizeMode applies spec.md's decision table: immediates are
// never writable, and only one operand may be memory-resident in a single
// instruction.
func decideLegalizeMode(dst, src machine.Location) LegalizeMode {
	dstNeedsMove := dst.IsImm()
	srcNeedsMove := src.IsImm() && dstNeedsMove // an imm,imm pair: src must also move
	if dst.IsMemory() && (src.IsMemory() || src.IsImm()) {
		srcNeedsMove = true
	}
	if src.Kind == machine.LocationImm64 {
		// No group-1 ALU form takes a 64-bit immediate.
		srcNeedsMove = true
	}
	switch {
	case dstNeedsMove && srcNeedsMove:
		return BothToGPR
	case dstNeedsMove:
		return DstToGPR
	case srcNeedsMove:
		return SrcToGPR
	default:
		return Direct
	}
}

// legalizeALU emits `dst := dst OP src` for one of the group-1 ALU
// instructions (ADD/SUB/AND/OR/XOR/CMP), applying spec.md's relaxed
// operand legalization, and returns the Location now holding the result
// (identical to dst unless dst had to move into a temp GPR).
func (c *Compiler) legalizeALU(op32, op64 asm.Instruction, size machine.Size, dst, src machine.Location) machine.Location {
	op := op32
	if size == machine.Size64 {
		op = op64
	}

	mode := decideLegalizeMode(dst, src)

	resultDst := dst
	if mode == DstToGPR || mode == BothToGPR {
		tmp, ok := c.mach.AcquireTempGPR()
		if !ok {
			panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp GPR to legalize ALU dst"))
		}
		c.materializeInto(tmp, size, dst)
		resultDst = machine.GPR(tmp)
	}

	resultSrc := src
	if mode == SrcToGPR || mode == BothToGPR {
		tmp, ok := c.mach.AcquireTempGPR()
		if !ok {
			panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp GPR to legalize ALU src"))
		}
		c.materializeInto(tmp, size, src)
		resultSrc = machine.GPR(tmp)
	}

	c.emitALU(op, resultDst, resultSrc)
	return resultDst
}

// materializeInto moves loc's value into GPR tmp, at the given size.
func (c *Compiler) materializeInto(tmp asm.Register, size machine.Size, loc machine.Location) {
	movOp := amd64.MOVL
	if size == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch loc.Kind {
	case machine.LocationGPR:
		c.asm.EmitMovRR(movOp, tmp, loc.Reg)
	case machine.LocationMemory:
		c.asm.EmitMovRM(movOp, tmp, loc.Base, loc.Offset)
	case machine.LocationImm8, machine.LocationImm32:
		c.asm.EmitMovRI32(tmp, int32(loc.Imm))
	case machine.LocationImm64:
		c.asm.EmitMovRI64(tmp, uint64(loc.Imm))
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "cannot materialize location kind %d", loc.Kind))
	}
}

// emitALU emits the actual instruction once both operands are in a shape
// the Emitter accepts.
func (c *Compiler) emitALU(op asm.Instruction, dst, src machine.Location) {
	switch {
	case dst.IsGPR() && src.IsGPR():
		c.asm.EmitALURR(op, dst.Reg, src.Reg)
	case dst.IsGPR() && src.IsMemory():
		c.asm.EmitALURM(op, dst.Reg, src.Base, src.Offset)
	case dst.IsGPR() && src.IsImm():
		c.asm.EmitALURI(op, dst.Reg, int32(src.Imm))
	case dst.IsMemory() && src.IsGPR():
		c.asm.EmitALUMR(op, dst.Base, dst.Offset, src.Reg)
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable ALU operand shape dst=%s src=%s", dst, src))
	}
}
