package codegen

import (
	"math"

	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// compileWrap implements i32.wrap_i64: no code is emitted. A 32-bit
// instruction writing to any GPR always reads only that register's low 32
// bits and zero-extends on write, so the i64 Location is simply reinterpreted
// as an i32 Location in place.
func (c *Compiler) compileWrap() error {
	v := c.popValue()
	loc := v.Loc
	if loc.IsImm() {
		loc = machine.Imm32(int32(loc.Imm))
	}
	c.pushValue(machine.I32, loc)
	return nil
}

// compileExtend32To64 implements i64.extend_i32_s/u.
func (c *Compiler) compileExtend32To64(signed bool) error {
	v := c.popValue()
	if v.Loc.IsImm() {
		val := v.Loc.Imm
		if signed {
			val = int64(int32(val))
		} else {
			val = int64(uint32(val))
		}
		c.pushValue(machine.I64, machine.Imm64(val))
		return nil
	}

	tmp := c.requireTempGPR()
	op := amd64.MOVLQZX
	if signed {
		op = amd64.MOVLQSX
	}
	switch v.Loc.Kind {
	case machine.LocationGPR:
		c.asm.EmitMovExtRR(op, tmp, v.Loc.Reg)
	case machine.LocationMemory:
		c.asm.EmitMovRM(op, tmp, v.Loc.Base, v.Loc.Offset)
	default:
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "extend32to64: unencodable source %s", v.Loc)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(machine.I64, machine.GPR(tmp))
	return nil
}

// compileSignExtend implements the sign_extend proposal's i32.extend8_s/
// extend16_s and i64.extend8_s/extend16_s/extend32_s: a source-width
// sign-extending load/move into a register of the operand's own type.
func (c *Compiler) compileSignExtend(kind ir.OpcodeKind) error {
	v := c.popValue()

	var op asm.Instruction
	var resultType machine.ValueType
	switch kind {
	case ir.OpI32Extend8S:
		op, resultType = amd64.MOVBLSX, machine.I32
	case ir.OpI32Extend16S:
		op, resultType = amd64.MOVWLSX, machine.I32
	case ir.OpI64Extend8S:
		op, resultType = amd64.MOVBQSX, machine.I64
	case ir.OpI64Extend16S:
		op, resultType = amd64.MOVWQSX, machine.I64
	case ir.OpI64Extend32S:
		op, resultType = amd64.MOVLQSX, machine.I64
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled sign-extend %d", kind)
	}

	if v.Loc.IsImm() {
		var val int64
		switch kind {
		case ir.OpI32Extend8S:
			val = int64(int32(int8(v.Loc.Imm)))
		case ir.OpI32Extend16S:
			val = int64(int32(int16(v.Loc.Imm)))
		case ir.OpI64Extend8S:
			val = int64(int8(v.Loc.Imm))
		case ir.OpI64Extend16S:
			val = int64(int16(v.Loc.Imm))
		case ir.OpI64Extend32S:
			val = int64(int32(v.Loc.Imm))
		}
		c.pushValue(resultType, machine.Imm64(val))
		return nil
	}

	tmp := c.requireTempGPR()
	switch v.Loc.Kind {
	case machine.LocationGPR:
		c.asm.EmitMovExtRR(op, tmp, v.Loc.Reg)
	case machine.LocationMemory:
		c.asm.EmitMovRM(op, tmp, v.Loc.Base, v.Loc.Offset)
	default:
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "sign-extend: unencodable source %s", v.Loc)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(resultType, machine.GPR(tmp))
	return nil
}

// truncBounds is the literal bit-pattern table grounded directly on
// original_source's emit_f32_int_conv_check/emit_f64_int_conv_check call
// sites (lib/singlepass-backend/src/codegen_x64.rs): the widened-by-one-ulp
// f32 bounds account for f32's coarser precision near 2^31/2^63 not being
// able to represent the exact integer boundary.
type truncBounds struct{ lower, upper uint64 }

func f32Bounds(lower, upper float32) truncBounds {
	return truncBounds{lower: uint64(f32bits(lower)), upper: uint64(f32bits(upper))}
}

func f64Bounds(lower, upper float64) truncBounds {
	return truncBounds{lower: f64bits(lower), upper: f64bits(upper)}
}

func f32bits(f float32) uint32 { return math.Float32bits(f) }
func f64bits(f float64) uint64 { return math.Float64bits(f) }

func (c *Compiler) compileTrunc(kind ir.OpcodeKind) error {
	v := c.popValue()
	var srcSize machine.Size
	var resultType machine.ValueType
	var bounds truncBounds
	var cvtOp asm.Instruction

	switch kind {
	case ir.OpI32TruncF32S:
		srcSize, resultType = machine.Size32, machine.I32
		bounds = f32Bounds(-2147483904.0, 2147483648.0)
		cvtOp = amd64.VCVTTSS2SIL
	case ir.OpI32TruncF32U:
		srcSize, resultType = machine.Size32, machine.I32
		bounds = f32Bounds(-1.0, 4294967296.0)
		cvtOp = amd64.VCVTTSS2SIQ // truncate into 64-bit reg, then narrow
	case ir.OpI32TruncF64S:
		srcSize, resultType = machine.Size64, machine.I32
		bounds = f64Bounds(-2147483649.0, 2147483648.0)
		cvtOp = amd64.VCVTTSD2SIL
	case ir.OpI32TruncF64U:
		srcSize, resultType = machine.Size64, machine.I32
		bounds = f64Bounds(-1.0, 4294967296.0)
		cvtOp = amd64.VCVTTSD2SIQ
	case ir.OpI64TruncF32S:
		srcSize, resultType = machine.Size32, machine.I64
		bounds = f32Bounds(-9223373136366403584.0, 9223372036854775808.0)
		cvtOp = amd64.VCVTTSS2SIQ
	case ir.OpI64TruncF64S:
		srcSize, resultType = machine.Size64, machine.I64
		bounds = f64Bounds(-9223372036854777856.0, 9223372036854775808.0)
		cvtOp = amd64.VCVTTSD2SIQ
	case ir.OpI64TruncF32U, ir.OpI64TruncF64U:
		return c.compileTruncUnsigned64(kind, v)
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled trunc %d", kind)
	}

	src := c.toXMM(v.Loc, srcSize)
	c.emitTruncDomainCheck(src.Reg, srcSize, bounds)

	out := c.requireTempGPR()
	c.asm.EmitVCVTT(cvtOp, out, src.Reg)
	c.releaseIfTemp(v.Loc)
	if kind == ir.OpI32TruncF32U || kind == ir.OpI32TruncF64U {
		// Result was truncated into a 64-bit GPR (CVTTxS2SIQ); a plain
		// 32-bit write narrows and zero-extends it back to a clean i32.
		narrowed := c.requireTempGPR()
		c.asm.EmitMovRR(amd64.MOVL, narrowed, out)
		c.mach.ReleaseTempGPR(out)
		out = narrowed
	}
	c.pushValue(resultType, machine.GPR(out))
	return nil
}

// compileTruncUnsigned64 implements i64.trunc_f32_u/f64_u, the one trunc
// variant the ISA has no direct signed-trunc equivalent for: split the
// domain at 2^63, subtracting it out before truncation for the upper half
// (grounded verbatim on original_source's I64TruncUF32/I64TruncUF64).
func (c *Compiler) compileTruncUnsigned64(kind ir.OpcodeKind, v valueStackEntry) error {
	is32 := kind == ir.OpI64TruncF32U
	srcSize := machine.Size64
	if is32 {
		srcSize = machine.Size32
	}
	src := c.toXMM(v.Loc, srcSize)

	var bounds truncBounds
	var halfBits uint64
	var subOp, cvtOp asm.Instruction
	if is32 {
		bounds = f32Bounds(-1.0, 18446744073709551616.0)
		halfBits = uint64(f32bits(9223372036854775808.0))
		subOp, cvtOp = amd64.VSUBSS, amd64.VCVTTSS2SIQ
	} else {
		bounds = f64Bounds(-1.0, 18446744073709551616.0)
		halfBits = f64bits(9223372036854775808.0)
		subOp, cvtOp = amd64.VSUBSD, amd64.VCVTTSD2SIQ
	}
	c.emitTruncDomainCheck(src.Reg, srcSize, bounds)

	var half asm.Register
	if is32 {
		half = c.materializeFloatConst32(uint32(halfBits)).Reg
	} else {
		half = c.materializeFloatConst64(halfBits).Reg
	}

	// Direct path: truncate as-is, valid when src < 2^63.
	direct := c.requireTempGPR()
	c.asm.EmitVCVTT(cvtOp, direct, src.Reg)

	// Shifted path: subtract 2^63 first, truncate, then flip the sign bit
	// back in - valid across the full unsigned range.
	shifted := c.requireTempXMM()
	c.asm.EmitVEX3(subOp, shifted, src.Reg, half)
	shiftedOut := c.requireTempGPR()
	c.asm.EmitVCVTT(cvtOp, shiftedOut, shifted)
	signBit := c.requireTempGPR()
	c.asm.EmitMovRI64(signBit, 0x8000000000000000)
	c.asm.EmitALURR(amd64.XORQ, shiftedOut, signBit)

	// ucomiss/sd src, half sets CF when src < half (unordered or below);
	// CMOVAE picks the shifted result when src >= half.
	c.asm.EmitVEX2(ucomiOp(is32), src.Reg, half)
	c.asm.EmitCMOVCC(amd64.CMOVQCC, amd64.CondAE, direct, shiftedOut)

	c.mach.ReleaseTempGPR(signBit)
	c.mach.ReleaseTempGPR(shiftedOut)
	c.mach.ReleaseTempXMM(shifted)
	c.mach.ReleaseTempXMM(half)
	c.releaseIfTemp(v.Loc)
	c.pushValue(machine.I64, machine.GPR(direct))
	return nil
}

func ucomiOp(is32 bool) asm.Instruction {
	if is32 {
		return amd64.UCOMISS
	}
	return amd64.UCOMISD
}

// emitTruncDomainCheck reproduces original_source's emit_f32/64_int_conv_check:
// trap (UD2) if src <= lower, src >= upper, or src is NaN; fall through
// otherwise. Grounded verbatim on codegen_x64.rs's three-VCMP sequence.
func (c *Compiler) emitTruncDomainCheck(src asm.Register, size machine.Size, b truncBounds) {
	cmpOp := amd64.VCMPSS
	var lowerLoc, upperLoc machine.Location
	if size == machine.Size64 {
		cmpOp = amd64.VCMPSD
		lowerLoc = c.materializeFloatConst64(b.lower)
		upperLoc = c.materializeFloatConst64(b.upper)
	} else {
		lowerLoc = c.materializeFloatConst32(uint32(b.lower))
		upperLoc = c.materializeFloatConst32(uint32(b.upper))
	}

	trap := c.asm.NewLabel()
	ok := c.asm.NewLabel()
	mask := c.requireTempXMM()
	g := c.requireTempGPR()

	// Underflow: src <= lower.
	c.asm.EmitVCMP(cmpOp, mask, src, lowerLoc.Reg, amd64.VCmpLE)
	c.asm.EmitVMOVXMMToGPR(g, mask)
	c.asm.EmitALURI(amd64.CMPL, g, 0)
	c.asm.EmitJCC(amd64.CondNE, trap)

	// Overflow: src >= upper.
	c.asm.EmitVCMP(cmpOp, mask, src, upperLoc.Reg, amd64.VCmpNLT)
	c.asm.EmitVMOVXMMToGPR(g, mask)
	c.asm.EmitALURI(amd64.CMPL, g, 0)
	c.asm.EmitJCC(amd64.CondNE, trap)

	// NaN: src != src.
	c.asm.EmitVCMP(cmpOp, mask, src, src, amd64.VCmpEQ)
	c.asm.EmitVMOVXMMToGPR(g, mask)
	c.asm.EmitALURI(amd64.CMPL, g, 0)
	c.asm.EmitJCC(amd64.CondEQ, trap)

	c.asm.EmitJMP(ok)
	c.asm.BindLabel(trap)
	c.asm.EmitUD2()
	c.asm.BindLabel(ok)

	c.mach.ReleaseTempXMM(mask)
	c.mach.ReleaseTempGPR(g)
	c.mach.ReleaseTempXMM(lowerLoc.Reg)
	c.mach.ReleaseTempXMM(upperLoc.Reg)
}

// compileConvert implements the FxxConvertIxx family: int-to-float.
// Unsigned 64-bit source has no direct ISA instruction (VCVTSI2SD/SS only
// convert a signed 64-bit source), so it uses the documented sign-bit
// workaround of spec.md §4.4.
func (c *Compiler) compileConvert(kind ir.OpcodeKind) error {
	v := c.popValue()

	var resultType machine.ValueType
	var srcSize machine.Size
	var unsigned64 bool
	var cvtOp asm.Instruction
	switch kind {
	case ir.OpF32ConvertI32S:
		resultType, srcSize, cvtOp = machine.F32, machine.Size32, amd64.VCVTSI2SSL
	case ir.OpF32ConvertI32U:
		resultType, srcSize, cvtOp = machine.F32, machine.Size32, amd64.VCVTSI2SSQ // widen unsigned i32 into i64 GPR first
	case ir.OpF32ConvertI64S:
		resultType, srcSize, cvtOp = machine.F32, machine.Size64, amd64.VCVTSI2SSQ
	case ir.OpF32ConvertI64U:
		resultType, srcSize, unsigned64, cvtOp = machine.F32, machine.Size64, true, amd64.VCVTSI2SSQ
	case ir.OpF64ConvertI32S:
		resultType, srcSize, cvtOp = machine.F64, machine.Size32, amd64.VCVTSI2SDL
	case ir.OpF64ConvertI32U:
		resultType, srcSize, cvtOp = machine.F64, machine.Size32, amd64.VCVTSI2SDQ
	case ir.OpF64ConvertI64S:
		resultType, srcSize, cvtOp = machine.F64, machine.Size64, amd64.VCVTSI2SDQ
	case ir.OpF64ConvertI64U:
		resultType, srcSize, unsigned64, cvtOp = machine.F64, machine.Size64, true, amd64.VCVTSI2SDQ
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled convert %d", kind)
	}

	srcReg := c.materializeGPR(v.Loc, srcSize)
	srcWasTemp := !v.Loc.IsGPR()

	if unsigned64 {
		result := c.emitUnsignedI64ToFloat(srcReg, resultType, cvtOp)
		if srcWasTemp {
			c.mach.ReleaseTempGPR(srcReg)
		}
		c.releaseIfTemp(v.Loc)
		c.pushValue(resultType, result)
		return nil
	}

	if kind == ir.OpF32ConvertI32U || kind == ir.OpF64ConvertI32U {
		// Zero-extend the 32-bit unsigned value into a 64-bit GPR so the
		// 64-bit signed convert reads the right magnitude.
		widened := c.requireTempGPR()
		c.asm.EmitMovExtRR(amd64.MOVLQZX, widened, srcReg)
		if srcWasTemp {
			c.mach.ReleaseTempGPR(srcReg)
		}
		srcReg = widened
		srcWasTemp = true
	}

	out := c.requireTempXMM()
	c.asm.EmitVCVTSI2(cvtOp, out, srcReg)
	if srcWasTemp {
		c.mach.ReleaseTempGPR(srcReg)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(resultType, machine.XMM(out))
	return nil
}

// emitUnsignedI64ToFloat implements spec.md §4.4's documented workaround:
// branch on the sign bit; non-negative values convert directly, negative
// ones are halved (with the low bit folded back in via OR) before
// conversion and doubled afterward.
func (c *Compiler) emitUnsignedI64ToFloat(src asm.Register, t machine.ValueType, cvtOp asm.Instruction) machine.Location {
	direct := c.requireTempXMM()
	c.asm.EmitVCVTSI2(cvtOp, direct, src)

	halved := c.requireTempGPR()
	c.asm.EmitMovRR(amd64.MOVQ, halved, src)
	lowBit := c.requireTempGPR()
	c.asm.EmitMovRR(amd64.MOVQ, lowBit, src)
	c.asm.EmitALURI(amd64.ANDQ, lowBit, 1)
	c.asm.EmitShiftImm(amd64.SHRQ, halved, 1)
	c.asm.EmitALURR(amd64.ORQ, halved, lowBit)

	shiftedF := c.requireTempXMM()
	c.asm.EmitVCVTSI2(cvtOp, shiftedF, halved)
	addOp := amd64.VADDSS
	if t == machine.F64 {
		addOp = amd64.VADDSD
	}
	doubled := c.requireTempXMM()
	c.asm.EmitVEX3(addOp, doubled, shiftedF, shiftedF)

	c.asm.EmitMovRR(amd64.MOVQ, lowBit, src) // reuse lowBit as scratch for the sign test
	c.asm.EmitShiftImm(amd64.SHRQ, lowBit, 63)
	c.asm.EmitALURI(amd64.CMPL, lowBit, 0)

	result := c.requireTempXMM()
	notNeg := c.asm.NewLabel()
	end := c.asm.NewLabel()
	c.asm.EmitJCC(amd64.CondEQ, notNeg)
	c.emitXMMMove(result, doubled, t)
	c.asm.EmitJMP(end)
	c.asm.BindLabel(notNeg)
	c.emitXMMMove(result, direct, t)
	c.asm.BindLabel(end)

	c.mach.ReleaseTempXMM(direct)
	c.mach.ReleaseTempGPR(halved)
	c.mach.ReleaseTempGPR(lowBit)
	c.mach.ReleaseTempXMM(shiftedF)
	c.mach.ReleaseTempXMM(doubled)
	return machine.XMM(result)
}

// emitXMMMove copies src into dst via an XOR-merge OR (a bitwise-OR with a
// cleared dst equals a move, re-using the logical-op encodings rather than
// adding a dedicated scalar-MOVSS/MOVSD emitter).
func (c *Compiler) emitXMMMove(dst, src asm.Register, t machine.ValueType) {
	zeroOp := amd64.VXORPS
	orOp := amd64.VORPS
	if t == machine.F64 {
		zeroOp, orOp = amd64.VXORPD, amd64.VORPD
	}
	c.asm.EmitVEX3(zeroOp, dst, dst, dst)
	c.asm.EmitVEX3(orOp, dst, dst, src)
}

// materializeGPR ensures loc's integer value sits in a GPR, loading it if
// it was memory- or immediate-resident.
func (c *Compiler) materializeGPR(loc machine.Location, size machine.Size) asm.Register {
	if loc.IsGPR() {
		return loc.Reg
	}
	tmp := c.requireTempGPR()
	c.materializeInto(tmp, size, loc)
	return tmp
}

func (c *Compiler) compileDemote() error {
	v := c.popValue()
	x := c.toXMM(v.Loc, machine.Size64)
	out := c.requireTempXMM()
	c.asm.EmitVEX2(amd64.VCVTSD2SS, out, x.Reg)
	c.releaseIfTemp(v.Loc)
	c.pushValue(machine.F32, machine.XMM(out))
	return nil
}

func (c *Compiler) compilePromote() error {
	v := c.popValue()
	x := c.toXMM(v.Loc, machine.Size32)
	out := c.requireTempXMM()
	c.asm.EmitVEX2(amd64.VCVTSS2SD, out, x.Reg)
	c.releaseIfTemp(v.Loc)
	c.pushValue(machine.F64, machine.XMM(out))
	return nil
}

// compileReinterpret implements the four IxxReinterpretFxx/FxxReinterpretIxx
// bit-pattern moves: no arithmetic, just a GPR<->XMM move of the same width.
func (c *Compiler) compileReinterpret(kind ir.OpcodeKind) error {
	v := c.popValue()
	switch kind {
	case ir.OpI32ReinterpretF32:
		x := c.toXMM(v.Loc, machine.Size32)
		out := c.requireTempGPR()
		c.asm.EmitVMOVXMMToGPR(out, x.Reg)
		c.releaseIfTemp(v.Loc)
		c.pushValue(machine.I32, machine.GPR(out))
	case ir.OpI64ReinterpretF64:
		x := c.toXMM(v.Loc, machine.Size64)
		out := c.requireTempGPR()
		c.asm.EmitVMOVXMMToGPR(out, x.Reg)
		c.releaseIfTemp(v.Loc)
		c.pushValue(machine.I64, machine.GPR(out))
	case ir.OpF32ReinterpretI32:
		g := c.materializeGPR(v.Loc, machine.Size32)
		out := c.requireTempXMM()
		c.asm.EmitVMOVGPRToXMM(amd64.VMOVD, out, g)
		if !v.Loc.IsGPR() {
			c.mach.ReleaseTempGPR(g)
		}
		c.releaseIfTemp(v.Loc)
		c.pushValue(machine.F32, machine.XMM(out))
	case ir.OpF64ReinterpretI64:
		g := c.materializeGPR(v.Loc, machine.Size64)
		out := c.requireTempXMM()
		c.asm.EmitVMOVGPRToXMM(amd64.VMOVQX, out, g)
		if !v.Loc.IsGPR() {
			c.mach.ReleaseTempGPR(g)
		}
		c.releaseIfTemp(v.Loc)
		c.pushValue(machine.F64, machine.XMM(out))
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled reinterpret %d", kind)
	}
	return nil
}
