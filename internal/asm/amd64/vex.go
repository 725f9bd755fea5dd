package amd64

import "github.com/onepass-dev/onepass/internal/asm"

// VEX encoding for the scalar AVX float instructions spec.md §4.1 requires
// ("Float arith always routed through AVX triples"). The teacher's own
// encoder (impl.go) only implements legacy REX-prefixed SSE forms and has
// no VEX path at all, so this file has no teacher original to adapt from;
// it is grounded directly in the Intel SDM's VEX.128.66/F2/F3.0F encoding
// tables, using the 2-byte VEX form (C5) only when no R or B extension bit
// is needed, the opcode map is 0F and VEX.W is clear, and the 3-byte form
// (C4) otherwise.
//
// Every one of these instructions is a 3-operand form: VOP dst, src1, src2
// computes dst = src1 OP src2, matching the VEX.vvvv "non-destructive
// source" encoding AVX adds over legacy SSE's 2-operand destructive forms.

type vexOp struct {
	escape byte // 0F=1, 0F38=2, 0F3A=3 (map_select)
	prefix byte // mandatory prefix: none=0, 66=1, F3=2, F2=3
	opcode byte
	wide   bool // VEX.W
}

var vexOps = map[asm.Instruction]vexOp{
	VADDSS: {1, 2, 0x58, false}, VADDSD: {1, 3, 0x58, false},
	VSUBSS: {1, 2, 0x5C, false}, VSUBSD: {1, 3, 0x5C, false},
	VMULSS: {1, 2, 0x59, false}, VMULSD: {1, 3, 0x59, false},
	VDIVSS: {1, 2, 0x5E, false}, VDIVSD: {1, 3, 0x5E, false},
	VMAXSS: {1, 2, 0x5F, false}, VMAXSD: {1, 3, 0x5F, false},
	VMINSS: {1, 2, 0x5D, false}, VMINSD: {1, 3, 0x5D, false},
	VCMPSS: {1, 2, 0xC2, false}, VCMPSD: {1, 3, 0xC2, false},
	VANDPS: {1, 0, 0x54, false}, VANDPD: {1, 1, 0x54, false},
	VANDNPS: {1, 0, 0x55, false}, VANDNPD: {1, 1, 0x55, false},
	VORPS: {1, 0, 0x56, false}, VORPD: {1, 1, 0x56, false},
	VXORPS: {1, 0, 0x57, false}, VXORPD: {1, 1, 0x57, false},
}

// writeVEX emits a VEX prefix for a 3-operand reg/reg/reg instruction,
// followed by its opcode byte and register-direct ModRM byte. `r` is the
// ModRM.reg field's register (the destination for most forms), `vvvv` is
// the VEX-encoded first source, `rm` is the ModRM.rm field's register (the
// second source). Callers with a trailing immediate (EmitVCMP) append it
// after this call.
func (a *Assembler) writeVEX(op vexOp, r, vvvv, rm asm.Register) {
	rNum, rExt := encoding(r)
	vNum, _ := encoding(vvvv)
	rmNum, rmExt := encoding(rm)
	_ = rNum
	needs3Byte := rExt || rmExt || op.escape != 1 || op.wide
	if !needs3Byte {
		// 2-byte VEX: C5 [R.vvvv.L.pp]
		byte1 := byte(0)
		if !rExt {
			byte1 |= 0x80
		}
		byte1 |= (^vNum & 0xF) << 3
		byte1 |= op.prefix & 0x3
		a.buf.WriteByte(0xC5)
		a.buf.WriteByte(byte1)
	} else {
		// 3-byte VEX: C4 [R.X.B.map_select] [W.vvvv.L.pp]
		byte1 := byte(0x1F & 0xFF)
		byte1 = 0
		if !rExt {
			byte1 |= 0x80
		}
		byte1 |= 0x40 // X: no index register ever used here, so always 1 (inverted)
		if !rmExt {
			byte1 |= 0x20
		}
		byte1 |= op.escape & 0x1F
		byte2 := byte(0)
		if op.wide {
			byte2 |= 0x80
		}
		byte2 |= (^vNum & 0xF) << 3
		byte2 |= op.prefix & 0x3
		a.buf.WriteByte(0xC4)
		a.buf.WriteByte(byte1)
		a.buf.WriteByte(byte2)
	}
	a.buf.WriteByte(op.opcode)
	a.buf.WriteByte(modRM(0b11, rNum, rmNum))
}

// EmitVEX3 emits `vop dst, src1, src2` (dst = src1 OP src2) for one of the
// 3-operand AVX scalar/packed-logical instructions.
func (a *Assembler) EmitVEX3(op asm.Instruction, dst, src1, src2 asm.Register) {
	enc, ok := vexOps[op]
	must(ok, "%s is not a 3-operand VEX instruction", Name(op))
	a.writeVEX(enc, dst, src1, src2)
}

// EmitVCMP emits VCMPSS/VCMPSD dst, src1, src2, imm8 - the comparison
// predicate (one of VCmpEQ/VCmpLT/...) rides as a trailing immediate byte.
func (a *Assembler) EmitVCMP(op asm.Instruction, dst, src1, src2 asm.Register, predicate byte) {
	enc, ok := vexOps[op]
	must(ok && (op == VCMPSS || op == VCMPSD), "%s is not VCMPSS/VCMPSD", Name(op))
	a.writeVEX(enc, dst, src1, src2)
	a.buf.WriteByte(predicate)
}

// 2-operand VEX forms (no vvvv source; dst and src only): VSQRT, VROUND,
// format conversions, and UCOMISS/SD. These still carry a VEX prefix with
// vvvv forced to "1111" (unused) per the SDM.
type vex2Op struct {
	escape byte
	prefix byte
	opcode byte
	wide   bool
}

var vex2Ops = map[asm.Instruction]vex2Op{
	VSQRTSS: {1, 2, 0x51, false}, VSQRTSD: {1, 3, 0x51, false},
	VCVTSS2SD: {1, 2, 0x5A, false}, VCVTSD2SS: {1, 3, 0x5A, false},
	UCOMISS: {1, 0, 0x2E, false}, UCOMISD: {1, 1, 0x2E, false},
}

var vexNoSrcReg = asm.Register(0) // placeholder: vvvv field unused, encodes as 1111

func (a *Assembler) writeVEX2(op vex2Op, r, rm asm.Register) {
	enc := vexOp{escape: op.escape, prefix: op.prefix, opcode: op.opcode, wide: op.wide}
	rNum, rExt := encoding(r)
	rmNum, rmExt := encoding(rm)
	needs3Byte := rExt || rmExt || enc.escape != 1 || enc.wide
	if !needs3Byte {
		byte1 := byte(0)
		if !rExt {
			byte1 |= 0x80
		}
		byte1 |= 0x78 // vvvv = 1111 (unused), L=0
		byte1 |= enc.prefix & 0x3
		a.buf.WriteByte(0xC5)
		a.buf.WriteByte(byte1)
	} else {
		byte1 := byte(0)
		if !rExt {
			byte1 |= 0x80
		}
		byte1 |= 0x40
		if !rmExt {
			byte1 |= 0x20
		}
		byte1 |= enc.escape & 0x1F
		byte2 := byte(0)
		if enc.wide {
			byte2 |= 0x80
		}
		byte2 |= 0x78
		byte2 |= enc.prefix & 0x3
		a.buf.WriteByte(0xC4)
		a.buf.WriteByte(byte1)
		a.buf.WriteByte(byte2)
	}
	a.buf.WriteByte(enc.opcode)
	a.buf.WriteByte(modRM(0b11, rNum, rmNum))
}

// EmitVEX2 emits a 2-operand VEX instruction (VSQRT*, VCVTSS2SD/VCVTSD2SS,
// UCOMISS/SD).
func (a *Assembler) EmitVEX2(op asm.Instruction, dst, src asm.Register) {
	enc, ok := vex2Ops[op]
	must(ok, "%s is not a 2-operand VEX instruction", Name(op))
	a.writeVEX2(enc, dst, src)
}

// EmitVROUND emits VROUNDSS/VROUNDSD dst, src, mode - a 2-operand VEX form
// (src1==src2, both the single input) with a trailing rounding-mode
// immediate (RoundNearest/RoundFloor/RoundCeil/RoundTrunc).
func (a *Assembler) EmitVROUND(op asm.Instruction, dst, src asm.Register, mode byte) {
	var opcode byte = 0x0A // VROUNDSS
	if op == VROUNDSD {
		opcode = 0x0B
	} else if op != VROUNDSS {
		must(false, "%s is not VROUNDSS/VROUNDSD", Name(op))
	}
	enc := vexOp{escape: 3, prefix: 1, opcode: opcode, wide: false} // 0F3A map, 66 prefix
	a.writeVEX(enc, dst, src, src)
	a.buf.WriteByte(mode)
}

// EmitVCVTSI2 converts an integer GPR src into a float in dst, preserving
// the untouched half of the destination as dst itself (VEX.vvvv = dst),
// matching the SDM's VCVTSI2SS/SD merge-with-vvvv semantics.
func (a *Assembler) EmitVCVTSI2(op asm.Instruction, dst, src asm.Register) {
	var prefix, opcode byte
	var wide bool
	switch op {
	case VCVTSI2SSL:
		prefix, opcode, wide = 2, 0x2A, false
	case VCVTSI2SSQ:
		prefix, opcode, wide = 2, 0x2A, true
	case VCVTSI2SDL:
		prefix, opcode, wide = 3, 0x2A, false
	case VCVTSI2SDQ:
		prefix, opcode, wide = 3, 0x2A, true
	default:
		must(false, "%s is not VCVTSI2SS/SD", Name(op))
	}
	enc := vexOp{escape: 1, prefix: prefix, opcode: opcode, wide: wide}
	a.writeVEX(enc, dst, dst, src)
}

// EmitVMOVGPRToXMM moves a GPR's raw bit pattern into an XMM register
// (VMOVD for 32-bit, VMOVQX for 64-bit) - used to materialize float
// constants and to implement F32ReinterpretI32/F64ReinterpretI64.
func (a *Assembler) EmitVMOVGPRToXMM(op asm.Instruction, dst asm.Register, src asm.Register) {
	wide := op == VMOVQX
	enc := vex2Op{escape: 1, prefix: 1, opcode: 0x6E, wide: wide}
	a.writeVEX2(enc, dst, src)
}

// EmitVMOVXMMToGPR moves an XMM register's low 64 bits into a GPR
// (VMOVQG) - used to implement I32ReinterpretF32/I64ReinterpretF64.
func (a *Assembler) EmitVMOVXMMToGPR(dst asm.Register, src asm.Register) {
	enc := vex2Op{escape: 1, prefix: 1, opcode: 0x7E, wide: true}
	// 66.REX.W.0F 7E /r encodes "MOVQ r/m64, xmm": ModRM.reg carries the
	// xmm source, ModRM.rm carries the GPR destination.
	a.writeVEX2(enc, src, dst)
}

// EmitVCVTT truncates a float src into an integer GPR dst.
func (a *Assembler) EmitVCVTT(op asm.Instruction, dst, src asm.Register) {
	var prefix, opcode byte
	var wide bool
	switch op {
	case VCVTTSS2SIL:
		prefix, opcode, wide = 2, 0x2C, false
	case VCVTTSS2SIQ:
		prefix, opcode, wide = 2, 0x2C, true
	case VCVTTSD2SIL:
		prefix, opcode, wide = 3, 0x2C, false
	case VCVTTSD2SIQ:
		prefix, opcode, wide = 3, 0x2C, true
	default:
		must(false, "%s is not VCVTTSS2SI/VCVTTSD2SI", Name(op))
	}
	a.writeVEX2(vex2Op{escape: 1, prefix: prefix, opcode: opcode, wide: wide}, dst, src)
}
