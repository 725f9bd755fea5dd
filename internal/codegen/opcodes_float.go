package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

func (c *Compiler) requireTempGPR() asm.Register {
	r, ok := c.mach.AcquireTempGPR()
	if !ok {
		panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp GPR available"))
	}
	return r
}

func (c *Compiler) requireTempXMM() asm.Register {
	r, ok := c.mach.AcquireTempXMM()
	if !ok {
		panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp XMM available"))
	}
	return r
}

// materializeFloatConst32/64 load a float bit pattern into a GPR and move it
// into a fresh XMM register - there is no VADDSS-style immediate form, so
// every float constant goes through this path rather than living as an
// Imm Location the way integer constants do.
func (c *Compiler) materializeFloatConst32(bits uint32) machine.Location {
	g := c.requireTempGPR()
	c.asm.EmitMovRI32(g, int32(bits))
	x := c.requireTempXMM()
	c.asm.EmitVMOVGPRToXMM(amd64.VMOVD, x, g)
	c.mach.ReleaseTempGPR(g)
	return machine.XMM(x)
}

func (c *Compiler) materializeFloatConst64(bits uint64) machine.Location {
	g := c.requireTempGPR()
	c.asm.EmitMovRI64(g, bits)
	x := c.requireTempXMM()
	c.asm.EmitVMOVGPRToXMM(amd64.VMOVQX, x, g)
	c.mach.ReleaseTempGPR(g)
	return machine.XMM(x)
}

// toXMM ensures loc is carried in an XMM register, reloading it through a
// scratch GPR when it is memory-resident (a stack-spilled float never has
// a more direct path: the Emitter has no float-sized mem->xmm move).
func (c *Compiler) toXMM(loc machine.Location, size machine.Size) machine.Location {
	if loc.IsXMM() {
		return loc
	}
	x := c.requireTempXMM()
	if loc.IsMemory() {
		c.emitFloatLoad(x, loc.Base, loc.Offset, size)
	}
	return machine.XMM(x)
}

func (c *Compiler) emitFloatLoad(dst asm.Register, base asm.Register, offset int32, size machine.Size) {
	g := c.requireTempGPR()
	movOp := amd64.MOVL
	vmov := amd64.VMOVD
	if size == machine.Size64 {
		movOp = amd64.MOVQ
		vmov = amd64.VMOVQX
	}
	c.asm.EmitMovRM(movOp, g, base, offset)
	c.asm.EmitVMOVGPRToXMM(vmov, dst, g)
	c.mach.ReleaseTempGPR(g)
}

// floatOpPair selects between the 32-bit (ss) and 64-bit (sd) form of a
// scalar-float instruction family.
type floatOpPair struct{ ss, sd asm.Instruction }

func pick(ss, sd asm.Instruction) floatOpPair { return floatOpPair{ss: ss, sd: sd} }

func (p floatOpPair) forSize(size machine.Size) asm.Instruction {
	if size == machine.Size64 {
		return p.sd
	}
	return p.ss
}

func (c *Compiler) compileFloatBinOp(kind ir.OpcodeKind, t machine.ValueType) error {
	src := c.popValue()
	dst := c.popValue()
	size := t.Size()
	dstX := c.toXMM(dst.Loc, size)
	srcX := c.toXMM(src.Loc, size)

	var op floatOpPair
	switch kind {
	case ir.OpF32Add, ir.OpF64Add:
		op = pick(amd64.VADDSS, amd64.VADDSD)
	case ir.OpF32Sub, ir.OpF64Sub:
		op = pick(amd64.VSUBSS, amd64.VSUBSD)
	case ir.OpF32Mul, ir.OpF64Mul:
		op = pick(amd64.VMULSS, amd64.VMULSD)
	case ir.OpF32Div, ir.OpF64Div:
		op = pick(amd64.VDIVSS, amd64.VDIVSD)
	case ir.OpF32Min, ir.OpF64Min:
		op = pick(amd64.VMINSS, amd64.VMINSD)
	case ir.OpF32Max, ir.OpF64Max:
		op = pick(amd64.VMAXSS, amd64.VMAXSD)
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled float binop %d", kind)
	}
	result := c.requireTempXMM()
	c.asm.EmitVEX3(op.forSize(size), result, dstX.Reg, srcX.Reg)
	c.releaseIfTemp(dst.Loc)
	c.releaseIfTemp(src.Loc)
	c.pushValue(t, machine.XMM(result))
	return nil
}

func (c *Compiler) compileFloatUnOp(kind ir.OpcodeKind, t machine.ValueType) error {
	v := c.popValue()
	size := t.Size()
	x := c.toXMM(v.Loc, size)
	result := c.requireTempXMM()

	switch kind {
	case ir.OpF32Neg, ir.OpF64Neg:
		// Flip the sign bit via XOR against a mask with only that bit
		// set, the standard AVX idiom for float negate.
		mask := c.signMask(size)
		op := amd64.VXORPS
		if size == machine.Size64 {
			op = amd64.VXORPD
		}
		c.asm.EmitVEX3(op, result, x.Reg, mask)
		c.mach.ReleaseTempXMM(mask)
	case ir.OpF32Abs, ir.OpF64Abs:
		mask := c.absMask(size)
		op := amd64.VANDPS
		if size == machine.Size64 {
			op = amd64.VANDPD
		}
		c.asm.EmitVEX3(op, result, x.Reg, mask)
		c.mach.ReleaseTempXMM(mask)
	case ir.OpF32Sqrt, ir.OpF64Sqrt:
		op := pick(amd64.VSQRTSS, amd64.VSQRTSD).forSize(size)
		c.asm.EmitVEX2(op, result, x.Reg)
	case ir.OpF32Ceil, ir.OpF64Ceil:
		c.emitRound(result, x.Reg, size, amd64.RoundCeil)
	case ir.OpF32Floor, ir.OpF64Floor:
		c.emitRound(result, x.Reg, size, amd64.RoundFloor)
	case ir.OpF32Trunc, ir.OpF64Trunc:
		c.emitRound(result, x.Reg, size, amd64.RoundTrunc)
	case ir.OpF32Nearest, ir.OpF64Nearest:
		c.emitRound(result, x.Reg, size, amd64.RoundNearest)
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled float unop %d", kind)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(t, machine.XMM(result))
	return nil
}

func (c *Compiler) emitRound(dst, src asm.Register, size machine.Size, mode byte) {
	op := amd64.VROUNDSS
	if size == machine.Size64 {
		op = amd64.VROUNDSD
	}
	c.asm.EmitVROUND(op, dst, src, mode)
}

// signMask/absMask materialize the bit masks VXORP*/VANDP* need to flip or
// clear a float's sign bit, loaded fresh per use rather than pooled -
// spec.md Non-goals exclude any cross-instruction code-gen caching.
func (c *Compiler) signMask(size machine.Size) asm.Register {
	if size == machine.Size64 {
		return c.materializeFloatConst64(0x8000000000000000).Reg
	}
	return c.materializeFloatConst32(0x80000000).Reg
}

func (c *Compiler) absMask(size machine.Size) asm.Register {
	if size == machine.Size64 {
		return c.materializeFloatConst64(0x7FFFFFFFFFFFFFFF).Reg
	}
	return c.materializeFloatConst32(0x7FFFFFFF).Reg
}

func (c *Compiler) compileCopysign(t machine.ValueType) error {
	src := c.popValue()
	dst := c.popValue()
	size := t.Size()
	dstX := c.toXMM(dst.Loc, size)
	srcX := c.toXMM(src.Loc, size)

	signMask := c.signMask(size)
	absMask := c.absMask(size)

	andOp, orOp := amd64.VANDPS, amd64.VORPS
	if size == machine.Size64 {
		andOp, orOp = amd64.VANDPD, amd64.VORPD
	}
	magnitude := c.requireTempXMM()
	c.asm.EmitVEX3(andOp, magnitude, dstX.Reg, absMask)
	sign := c.requireTempXMM()
	c.asm.EmitVEX3(andOp, sign, srcX.Reg, signMask)
	result := c.requireTempXMM()
	c.asm.EmitVEX3(orOp, result, magnitude, sign)

	c.mach.ReleaseTempXMM(signMask)
	c.mach.ReleaseTempXMM(absMask)
	c.mach.ReleaseTempXMM(magnitude)
	c.mach.ReleaseTempXMM(sign)
	c.releaseIfTemp(dst.Loc)
	c.releaseIfTemp(src.Loc)
	c.pushValue(t, machine.XMM(result))
	return nil
}

func (c *Compiler) compileFloatCompare(kind ir.OpcodeKind, t machine.ValueType) error {
	src := c.popValue()
	dst := c.popValue()
	size := t.Size()
	dstX := c.toXMM(dst.Loc, size)
	srcX := c.toXMM(src.Loc, size)

	// gt/ge are synthesized by swapping operands against lt/le, since
	// VCMPSS/SD has no native greater-than predicate (Intel SDM CMPSS/SD
	// predicate table only goes up to "ordered").
	var predicate byte
	first, second := dstX, srcX
	switch kind {
	case ir.OpF32Eq, ir.OpF64Eq:
		predicate = amd64.VCmpEQ
	case ir.OpF32Ne, ir.OpF64Ne:
		predicate = amd64.VCmpNEQ
	case ir.OpF32Lt, ir.OpF64Lt:
		predicate = amd64.VCmpLT
	case ir.OpF32Le, ir.OpF64Le:
		predicate = amd64.VCmpLE
	case ir.OpF32Gt, ir.OpF64Gt:
		predicate, first, second = amd64.VCmpLT, srcX, dstX
	case ir.OpF32Ge, ir.OpF64Ge:
		predicate, first, second = amd64.VCmpLE, srcX, dstX
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled float compare %d", kind)
	}
	op := amd64.VCMPSS
	if size == machine.Size64 {
		op = amd64.VCMPSD
	}
	mask := c.requireTempXMM()
	c.asm.EmitVCMP(op, mask, first.Reg, second.Reg, predicate)

	result := c.requireTempGPR()
	c.asm.EmitVMOVXMMToGPR(result, mask)
	c.mach.ReleaseTempXMM(mask)
	c.asm.EmitALURI(amd64.ANDL, result, 1)

	c.releaseIfTemp(dst.Loc)
	c.releaseIfTemp(src.Loc)
	c.pushValue(machine.I32, machine.GPR(result))
	return nil
}

func (c *Compiler) releaseIfTemp(loc machine.Location) {
	switch loc.Kind {
	case machine.LocationGPR:
		c.mach.ReleaseTempGPR(loc.Reg)
	case machine.LocationXMM:
		c.mach.ReleaseTempXMM(loc.Reg)
	}
}
