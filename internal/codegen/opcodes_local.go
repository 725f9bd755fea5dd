package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/vmctx"
)

// compileLocalGet pushes a fresh copy of local index's current value onto
// the operand stack. A copy, not a shared reference, because the pushed
// stack entry's Location may be released independently of the local's own
// Location (spec.md §4.2 gives locals and stack values separate lifetimes).
func (c *Compiler) compileLocalGet(op ir.Opcode) error {
	if int(op.LocalIndex) >= len(c.localLocs) {
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "local.get index %d out of range", op.LocalIndex)
	}
	src := c.localLocs[op.LocalIndex]
	t := c.localTypes[op.LocalIndex]
	dst := c.copyLocation(src, t)
	c.pushValue(t, dst)
	return nil
}

// compileLocalSet pops the top value and stores it into local index's
// Location, releasing the popped value's own backing register/slot.
func (c *Compiler) compileLocalSet(op ir.Opcode) error {
	return c.localSet(op.LocalIndex)
}

// compileLocalTee stores the top value into the local, same as
// compileLocalSet, but leaves a copy on the operand stack (spec.md 1.0
// MVP's local.tee).
func (c *Compiler) compileLocalTee(op ir.Opcode) error {
	v := c.peekValue()
	if int(op.LocalIndex) >= len(c.localLocs) {
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "local.tee index %d out of range", op.LocalIndex)
	}
	dst := c.localLocs[op.LocalIndex]
	c.storeInto(dst, v.Type, v.Loc)
	return nil
}

func (c *Compiler) localSet(index uint32) error {
	if int(index) >= len(c.localLocs) {
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "local.set index %d out of range", index)
	}
	v := c.popValue()
	dst := c.localLocs[index]
	c.storeInto(dst, v.Type, v.Loc)
	c.releaseIfTemp(v.Loc)
	return nil
}

// copyLocation materializes src's value into a newly acquired Location of
// the same backing kind (register if one is free, else a frame slot),
// leaving src untouched.
func (c *Compiler) copyLocation(src machine.Location, t machine.ValueType) machine.Location {
	if t.IsFloat() {
		x := c.requireTempXMM()
		xs := c.toXMM(src, t.Size())
		c.emitXMMMove(x, xs.Reg, t)
		if !src.IsXMM() {
			c.mach.ReleaseTempXMM(xs.Reg)
		}
		return machine.XMM(x)
	}
	g := c.requireTempGPR()
	size := t.Size()
	movOp := amd64.MOVL
	if size == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch src.Kind {
	case machine.LocationGPR:
		c.asm.EmitMovRR(movOp, g, src.Reg)
	case machine.LocationMemory:
		c.asm.EmitMovRM(movOp, g, src.Base, src.Offset)
	case machine.LocationImm8, machine.LocationImm32, machine.LocationImm64:
		c.mach.ReleaseTempGPR(g)
		return src
	default:
		c.mach.ReleaseTempGPR(g)
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "cannot copy location kind %d", src.Kind))
	}
	return machine.GPR(g)
}

// storeInto writes src's value into dst's Location in place, at t's width.
func (c *Compiler) storeInto(dst machine.Location, t machine.ValueType, src machine.Location) {
	size := t.Size()
	if t.IsFloat() {
		xs := c.toXMM(src, size)
		switch dst.Kind {
		case machine.LocationXMM:
			c.emitXMMMove(dst.Reg, xs.Reg, t)
		case machine.LocationMemory:
			c.emitFloatStore(dst.Base, dst.Offset, xs.Reg, size)
		default:
			panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "float local in non-float location kind %d", dst.Kind))
		}
		if !src.IsXMM() {
			c.mach.ReleaseTempXMM(xs.Reg)
		}
		return
	}

	movOp := amd64.MOVL
	if size == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch {
	case dst.IsGPR() && src.IsGPR():
		c.asm.EmitMovRR(movOp, dst.Reg, src.Reg)
	case dst.IsGPR() && src.IsMemory():
		c.asm.EmitMovRM(movOp, dst.Reg, src.Base, src.Offset)
	case dst.IsGPR() && src.IsImm():
		c.materializeInto(dst.Reg, size, src)
	case dst.IsMemory() && src.IsGPR():
		c.asm.EmitMovMR(movOp, dst.Base, dst.Offset, src.Reg)
	case dst.IsMemory() && src.IsImm():
		tmp := c.requireTempGPR()
		c.materializeInto(tmp, size, src)
		c.asm.EmitMovMR(movOp, dst.Base, dst.Offset, tmp)
		c.mach.ReleaseTempGPR(tmp)
	case dst.IsMemory() && src.IsMemory():
		tmp := c.requireTempGPR()
		c.asm.EmitMovRM(movOp, tmp, src.Base, src.Offset)
		c.asm.EmitMovMR(movOp, dst.Base, dst.Offset, tmp)
		c.mach.ReleaseTempGPR(tmp)
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable store dst=%s src=%s", dst, src))
	}
}

// emitFloatStore spills an XMM register to a memory slot, through a
// scratch GPR - the Emitter has no direct xmm->mem move.
func (c *Compiler) emitFloatStore(base asm.Register, offset int32, src asm.Register, size machine.Size) {
	g := c.requireTempGPR()
	movOp := amd64.MOVL
	if size == machine.Size64 {
		movOp = amd64.MOVQ
	}
	c.asm.EmitVMOVXMMToGPR(g, src)
	c.asm.EmitMovMR(movOp, base, offset, g)
	c.mach.ReleaseTempGPR(g)
}

// globalBasePtr loads the data pointer out of vmctx.Globals's slice header
// (its first machine word) into a fresh temp GPR.
func (c *Compiler) globalBasePtr(imported bool) asm.Register {
	g := c.requireTempGPR()
	off := vmctx.OffsetGlobals
	if imported {
		off = vmctx.OffsetImportedGlobals
	}
	c.asm.EmitMovRM(amd64.MOVQ, g, c.mach.VMContextRegister(), off)
	return g
}

func (c *Compiler) compileGlobalGet(op ir.Opcode) error {
	base := c.globalBasePtr(false)
	out := c.requireTempGPR()
	c.asm.EmitMovRM(amd64.MOVQ, out, base, int32(op.GlobalIndex)*8)
	c.mach.ReleaseTempGPR(base)
	// Globals are tracked as raw u64 words (vmctx.VMContext.Globals
	// []uint64); the caller (the module's type-checked event producer)
	// is responsible for only emitting float globals where a reinterpret
	// bridges this slot's bit pattern into an XMM value.
	c.pushValue(machine.I64, machine.GPR(out))
	return nil
}

func (c *Compiler) compileGlobalSet(op ir.Opcode) error {
	v := c.popValue()
	base := c.globalBasePtr(false)
	g := c.materializeGPR(v.Loc, machine.Size64)
	c.asm.EmitMovMR(amd64.MOVQ, base, int32(op.GlobalIndex)*8, g)
	if !v.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(g)
	}
	c.mach.ReleaseTempGPR(base)
	c.releaseIfTemp(v.Loc)
	return nil
}

// compileGetInternal/compileSetInternal implement spec.md §6's
// GetInternal(slot)/SetInternal(slot) internal events: direct,
// fixed-offset access into vmctx.Internals, used by the host to thread
// debugger-visible scratch state through generated code without consuming
// a WASM global index.
func (c *Compiler) compileGetInternal(slot uint32) error {
	out := c.requireTempGPR()
	c.asm.EmitMovRM(amd64.MOVQ, out, c.mach.VMContextRegister(), vmctx.InternalOffset(slot))
	c.pushValue(machine.I64, machine.GPR(out))
	return nil
}

func (c *Compiler) compileSetInternal(slot uint32) error {
	v := c.popValue()
	g := c.materializeGPR(v.Loc, machine.Size64)
	c.asm.EmitMovMR(amd64.MOVQ, c.mach.VMContextRegister(), vmctx.InternalOffset(slot), g)
	if !v.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(g)
	}
	c.releaseIfTemp(v.Loc)
	return nil
}
