package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

func (c *Compiler) resultType(size machine.Size) machine.ValueType {
	if size == machine.Size64 {
		return machine.I64
	}
	return machine.I32
}

// compileIntBinOp implements the ADD/SUB/AND/OR/XOR family via
// legalizeALU's relaxed operand legalization (spec.md §4.4 "central
// device").
func (c *Compiler) compileIntBinOp(kind ir.OpcodeKind, size machine.Size) error {
	src := c.popValue()
	dst := c.popValue()

	var op32, op64 asm.Instruction
	switch kind {
	case ir.OpI32Add, ir.OpI64Add:
		op32, op64 = amd64.ADDL, amd64.ADDQ
	case ir.OpI32Sub, ir.OpI64Sub:
		op32, op64 = amd64.SUBL, amd64.SUBQ
	case ir.OpI32And, ir.OpI64And:
		op32, op64 = amd64.ANDL, amd64.ANDQ
	case ir.OpI32Or, ir.OpI64Or:
		op32, op64 = amd64.ORL, amd64.ORQ
	case ir.OpI32Xor, ir.OpI64Xor:
		op32, op64 = amd64.XORL, amd64.XORQ
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled int binop %d", kind)
	}

	result := c.legalizeALU(op32, op64, size, dst.Loc, src.Loc)
	c.releaseUnusedLegalizeOperand(dst.Loc, result)
	c.releaseIfTemp(src.Loc)
	c.pushValue(c.resultType(size), result)
	return nil
}

// releaseUnusedLegalizeOperand releases original's register/slot unless it
// turned out to be the same Location legalizeALU returned as the result
// (the common case, where dst was already writable in place).
func (c *Compiler) releaseUnusedLegalizeOperand(original, result machine.Location) {
	if original.Kind == result.Kind && original.Reg == result.Reg && original.Offset == result.Offset {
		return
	}
	c.releaseIfTemp(original)
}

// compileIMul implements i32.mul/i64.mul via the two-operand IMUL form,
// which (unlike ADD/SUB/AND/OR/XOR) only ever reads register operands -
// legalizeALU's memory/immediate shapes do not apply, so both operands are
// unconditionally materialized into GPRs first.
func (c *Compiler) compileIMul(size machine.Size) error {
	src := c.popValue()
	dst := c.popValue()

	op := amd64.IMULL
	if size == machine.Size64 {
		op = amd64.IMULQ
	}

	dstReg := c.materializeGPR(dst.Loc, size)
	srcReg := c.materializeGPR(src.Loc, size)
	c.asm.EmitIMulRR(op, dstReg, srcReg)

	if !src.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(srcReg)
	}
	c.releaseIfTemp(src.Loc)
	// dstReg now holds the result and becomes the pushed value's Location -
	// never released here, whether it was dst.Loc.Reg directly or a fresh
	// temp; dst.Loc's original memory backing (if any) is simply abandoned.
	c.pushValue(c.resultType(size), machine.GPR(dstReg))
	return nil
}

// compileDivRem implements the four division-family opcodes, following
// spec.md §4.4's division sketch: move the dividend into (R)AX, zero- or
// sign-extend into (R)DX, trap on a zero divisor, guard the one
// signed-overflow case (INT_MIN / -1), then DIV/IDIV and pick AX
// (quotient) or DX (remainder) as the result. Per spec.md §8 testable
// property 10, INT_MIN / -1 does not trap for div_s either: both div_s
// and rem_s take the overflow side-path without touching IDIV (whose
// hardware fault would otherwise fire), div_s producing INT_MIN and
// rem_s producing 0. AX/DX are assumed free here, same as
// original_source's emit_binop comment ("we assume that RAX and RDX are
// temporary registers here") - both operands were just popped and
// released above, so no other live WASM value can be parked in either.
func (c *Compiler) compileDivRem(kind ir.OpcodeKind, size machine.Size) error {
	src := c.popValue()
	dst := c.popValue()

	signed := kind == ir.OpI32DivS || kind == ir.OpI32RemS || kind == ir.OpI64DivS || kind == ir.OpI64RemS
	wantRemainder := kind == ir.OpI32RemS || kind == ir.OpI32RemU || kind == ir.OpI64RemS || kind == ir.OpI64RemU

	cmpOp := amd64.CMPL
	if size == machine.Size64 {
		cmpOp = amd64.CMPQ
	}

	divisor := c.materializeGPR(src.Loc, size)
	if divisor == amd64.RegAX || divisor == amd64.RegDX {
		// Loading the dividend into AX and extending into DX below would
		// overwrite a divisor held in either register, so move it out.
		moved := c.requireTempGPR()
		if moved == amd64.RegAX || moved == amd64.RegDX {
			other := c.requireTempGPR()
			c.mach.ReleaseTempGPR(moved)
			moved = other
		}
		c.asm.EmitMovRR(amd64.MOVQ, moved, divisor)
		if !src.Loc.IsGPR() || src.Loc.Reg != divisor {
			c.mach.ReleaseTempGPR(divisor)
		}
		divisor = moved
	}

	zeroOK := c.asm.NewLabel()
	c.asm.EmitALURI(cmpOp, divisor, 0)
	c.asm.EmitJCC(amd64.CondNE, zeroOK)
	c.asm.EmitUD2()
	c.asm.BindLabel(zeroOK)

	c.materializeInto(amd64.RegAX, size, dst.Loc)

	divOp := amd64.DIVL
	if size == machine.Size64 {
		divOp = amd64.DIVQ
	}
	if signed {
		divOp = amd64.IDIVL
		if size == machine.Size64 {
			divOp = amd64.IDIVQ
		}

		normalPath := c.asm.NewLabel()
		overflowPath := c.asm.NewLabel()
		done := c.asm.NewLabel()
		if size == machine.Size64 {
			minReg := c.requireTempGPR()
			c.asm.EmitMovRI64(minReg, 0x8000000000000000)
			c.asm.EmitALURR(cmpOp, amd64.RegAX, minReg)
			c.mach.ReleaseTempGPR(minReg)
		} else {
			c.asm.EmitALURI(cmpOp, amd64.RegAX, -2147483648)
		}
		c.asm.EmitJCC(amd64.CondNE, normalPath)
		c.asm.EmitALURI(cmpOp, divisor, -1)
		c.asm.EmitJCC(amd64.CondEQ, overflowPath)
		c.asm.EmitJMP(normalPath)

		c.asm.BindLabel(overflowPath)
		if wantRemainder {
			c.asm.EmitALURR(amd64.XORL, amd64.RegDX, amd64.RegDX)
		} else if size == machine.Size64 {
			c.asm.EmitMovRI64(amd64.RegAX, 0x8000000000000000)
		} else {
			c.asm.EmitMovRI32(amd64.RegAX, -2147483648)
		}
		c.asm.EmitJMP(done)

		c.asm.BindLabel(normalPath)
		if size == machine.Size64 {
			c.asm.EmitCQO()
		} else {
			c.asm.EmitCDQ()
		}
		c.asm.EmitDivR(divOp, divisor)
		c.asm.BindLabel(done)
	} else {
		c.asm.EmitALURR(amd64.XORL, amd64.RegDX, amd64.RegDX)
		c.asm.EmitDivR(divOp, divisor)
	}

	if !src.Loc.IsGPR() || src.Loc.Reg != divisor {
		c.mach.ReleaseTempGPR(divisor)
	}
	c.releaseIfTemp(src.Loc)
	c.releaseIfTemp(dst.Loc)

	out := c.requireTempGPR()
	movOp := amd64.MOVL
	if size == machine.Size64 {
		movOp = amd64.MOVQ
	}
	if wantRemainder {
		c.asm.EmitMovRR(movOp, out, amd64.RegDX)
	} else {
		c.asm.EmitMovRR(movOp, out, amd64.RegAX)
	}
	c.pushValue(c.resultType(size), machine.GPR(out))
	return nil
}

// compileShift implements SHL/SHR/SAR/ROL/ROR, routing the shift count
// through CL per spec.md §4.1 ("shifts ... with CL").
func (c *Compiler) compileShift(kind ir.OpcodeKind, size machine.Size) error {
	src := c.popValue()
	dst := c.popValue()

	var op amd64.Instruction
	switch kind {
	case ir.OpI32Shl, ir.OpI64Shl:
		op = pickShift(amd64.SHLL, amd64.SHLQ, size)
	case ir.OpI32ShrS, ir.OpI64ShrS:
		op = pickShift(amd64.SARL, amd64.SARQ, size)
	case ir.OpI32ShrU, ir.OpI64ShrU:
		op = pickShift(amd64.SHRL, amd64.SHRQ, size)
	case ir.OpI32Rotl, ir.OpI64Rotl:
		op = pickShift(amd64.ROLL, amd64.ROLQ, size)
	case ir.OpI32Rotr, ir.OpI64Rotr:
		op = pickShift(amd64.RORL, amd64.RORQ, size)
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled shift %d", kind)
	}

	dstReg := c.materializeGPR(dst.Loc, size)

	if src.Loc.IsImm() {
		mask := byte(31)
		if size == machine.Size64 {
			mask = 63
		}
		c.asm.EmitShiftImm(op, dstReg, byte(src.Loc.Imm)&mask)
	} else {
		c.materializeInto(amd64.RegShiftCount, machine.Size32, src.Loc)
		c.asm.EmitShiftCL(op, dstReg)
	}

	c.releaseIfTemp(src.Loc)
	// dstReg now holds the result (see compileIMul's comment on the same
	// pattern) and is never released here.
	c.pushValue(c.resultType(size), machine.GPR(dstReg))
	return nil
}

func pickShift(op32, op64 asm.Instruction, size machine.Size) asm.Instruction {
	if size == machine.Size64 {
		return op64
	}
	return op32
}

// compileBitCount implements clz/ctz/popcnt via the bit-scan group. clz is
// ISA-native (LZCNT), matching WASM's "leading zero count" semantics
// directly (no byte-swap adjustment needed, unlike BSR-based encodings).
func (c *Compiler) compileBitCount(kind ir.OpcodeKind, size machine.Size) error {
	v := c.popValue()
	src := c.materializeGPR(v.Loc, size)

	var op asm.Instruction
	switch kind {
	case ir.OpI32Clz:
		op = amd64.LZCNTL
	case ir.OpI64Clz:
		op = amd64.LZCNTQ
	case ir.OpI32Ctz:
		op = amd64.TZCNTL
	case ir.OpI64Ctz:
		op = amd64.TZCNTQ
	case ir.OpI32Popcnt:
		op = amd64.POPCNTL
	case ir.OpI64Popcnt:
		op = amd64.POPCNTQ
	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled bit-count %d", kind)
	}

	out := c.requireTempGPR()
	c.asm.EmitBitScanRR(op, out, src)
	if !v.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(src)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(c.resultType(size), machine.GPR(out))
	return nil
}

// compileEqz implements i32.eqz/i64.eqz: compare against zero and set a
// byte to 0/1 via SETCC, matching spec.md's "comparisons -> SETCC,
// zero-extended to i32".
func (c *Compiler) compileEqz(size machine.Size) error {
	v := c.popValue()
	r := c.materializeGPR(v.Loc, size)
	cmpOp := amd64.CMPL
	if size == machine.Size64 {
		cmpOp = amd64.CMPQ
	}
	c.asm.EmitALURI(cmpOp, r, 0)

	out := c.requireTempGPR()
	c.asm.EmitMovRI32(out, 0)
	c.asm.EmitSETCC(amd64.CondEQ, out)
	if !v.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(r)
	}
	c.releaseIfTemp(v.Loc)
	c.pushValue(machine.I32, machine.GPR(out))
	return nil
}

// compileIntCompare implements the 20 integer comparison opcodes via CMP +
// SETCC, choosing the signed or unsigned condition code family per the
// WASM opcode name.
func (c *Compiler) compileIntCompare(kind ir.OpcodeKind, size machine.Size) error {
	src := c.popValue()
	dst := c.popValue()

	dstReg := c.materializeGPR(dst.Loc, size)
	srcReg := c.materializeGPR(src.Loc, size)
	cmpOp := amd64.CMPL
	if size == machine.Size64 {
		cmpOp = amd64.CMPQ
	}
	c.asm.EmitALURR(cmpOp, dstReg, srcReg)

	cc, ok := intCompareCond(kind)
	if !ok {
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled int compare %d", kind)
	}

	out := c.requireTempGPR()
	c.asm.EmitMovRI32(out, 0)
	c.asm.EmitSETCC(cc, out)

	if !src.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(srcReg)
	}
	c.releaseIfTemp(src.Loc)
	if !dst.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(dstReg)
	}
	c.releaseIfTemp(dst.Loc)
	c.pushValue(machine.I32, machine.GPR(out))
	return nil
}

func intCompareCond(kind ir.OpcodeKind) (amd64.Condition, bool) {
	switch kind {
	case ir.OpI32Eq, ir.OpI64Eq:
		return amd64.CondEQ, true
	case ir.OpI32Ne, ir.OpI64Ne:
		return amd64.CondNE, true
	case ir.OpI32LtS, ir.OpI64LtS:
		return amd64.CondLT, true
	case ir.OpI32LtU, ir.OpI64LtU:
		return amd64.CondBL, true
	case ir.OpI32GtS, ir.OpI64GtS:
		return amd64.CondGT, true
	case ir.OpI32GtU, ir.OpI64GtU:
		return amd64.CondAB, true
	case ir.OpI32LeS, ir.OpI64LeS:
		return amd64.CondLE, true
	case ir.OpI32LeU, ir.OpI64LeU:
		return amd64.CondBE, true
	case ir.OpI32GeS, ir.OpI64GeS:
		return amd64.CondGE, true
	case ir.OpI32GeU, ir.OpI64GeU:
		return amd64.CondAE, true
	default:
		return 0, false
	}
}
