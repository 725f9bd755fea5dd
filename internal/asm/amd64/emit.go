package amd64

import (
	"encoding/binary"

	"github.com/onepass-dev/onepass/internal/asm"
)

// aluOpcode carries the legacy opcode encoding for one of the eight
// "group 1" ALU instructions (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP), identified by
// their shared /digit ModRM extension, plus the one-byte r/m-reg and
// reg-r/m opcodes used when neither operand is an immediate.
type aluOpcode struct {
	digit    byte // ModRM.reg extension used by the imm forms (group 1 /digit)
	mrOpcode byte // opcode for "op r/m, reg" (reads reg, writes r/m)
	rmOpcode byte // opcode for "op reg, r/m" (reads r/m, writes reg)
}

var aluOpcodes = map[asm.Instruction]aluOpcode{
	ADDL: {0, 0x01, 0x03}, ADDQ: {0, 0x01, 0x03},
	ORL: {1, 0x09, 0x0B}, ORQ: {1, 0x09, 0x0B},
	ANDL: {4, 0x21, 0x23}, ANDQ: {4, 0x21, 0x23},
	SUBL: {5, 0x29, 0x2B}, SUBQ: {5, 0x29, 0x2B},
	XORL: {6, 0x31, 0x33}, XORQ: {6, 0x31, 0x33},
	CMPL: {7, 0x39, 0x3B}, CMPQ: {7, 0x39, 0x3B},
}

func is64(i asm.Instruction) bool {
	switch i {
	case ADDQ, SUBQ, IMULQ, DIVQ, IDIVQ, ANDQ, ORQ, XORQ, CMPQ, TESTQ,
		SHLQ, SHRQ, SARQ, ROLQ, RORQ, LZCNTQ, TZCNTQ, POPCNTQ, BTCQ,
		MOVQ, MOVBQZX, MOVBQSX, MOVWQZX, MOVWQSX, MOVLQZX, MOVLQSX,
		LEAQ, PUSHQ, POPQ, CQO, CMOVQCC,
		VCVTSI2SSQ, VCVTSI2SDQ, VCVTTSS2SIQ, VCVTTSD2SIQ:
		return true
	}
	return false
}

// EmitALURR emits `op dst, src` for a group-1 instruction with both
// operands in registers (AT&T order: src then dst; Intel semantics dst op= src).
func (a *Assembler) EmitALURR(op asm.Instruction, dst, src asm.Register) {
	enc, ok := aluOpcodes[op]
	must(ok, "%s is not a group-1 ALU instruction", Name(op))
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	a.maybeRex(is64(op), srcExt, false, dstExt)
	a.buf.WriteByte(enc.mrOpcode)
	a.buf.WriteByte(modRM(0b11, srcNum, dstNum))
}

// EmitALUMR emits `op dst_mem, src_reg`: read src, combine into memory.
func (a *Assembler) EmitALUMR(op asm.Instruction, dstBase asm.Register, dstOff int32, src asm.Register) {
	enc, ok := aluOpcodes[op]
	must(ok, "%s is not a group-1 ALU instruction", Name(op))
	baseNum, baseExt := encoding(dstBase)
	srcNum, srcExt := encoding(src)
	_ = baseNum
	a.maybeRex(is64(op), srcExt, false, baseExt)
	a.buf.WriteByte(enc.mrOpcode)
	a.writeMemOperand(srcNum, dstBase, dstOff)
}

// EmitALURM emits `op dst_reg, src_mem`.
func (a *Assembler) EmitALURM(op asm.Instruction, dst asm.Register, srcBase asm.Register, srcOff int32) {
	enc, ok := aluOpcodes[op]
	must(ok, "%s is not a group-1 ALU instruction", Name(op))
	dstNum, dstExt := encoding(dst)
	_, baseExt := encoding(srcBase)
	a.maybeRex(is64(op), dstExt, false, baseExt)
	a.buf.WriteByte(enc.rmOpcode)
	a.writeMemOperand(dstNum, srcBase, srcOff)
}

// EmitALURI emits `op dst, imm32` (sign-extended for the Q form).
func (a *Assembler) EmitALURI(op asm.Instruction, dst asm.Register, imm int32) {
	enc, ok := aluOpcodes[op]
	must(ok, "%s is not a group-1 ALU instruction", Name(op))
	dstNum, dstExt := encoding(dst)
	a.maybeRex(is64(op), false, false, dstExt)
	if fitsInt8(int64(imm)) {
		a.buf.WriteByte(0x83)
		a.buf.WriteByte(modRM(0b11, enc.digit, dstNum))
		a.buf.WriteByte(byte(int8(imm)))
		return
	}
	a.buf.WriteByte(0x81)
	a.buf.WriteByte(modRM(0b11, enc.digit, dstNum))
	a.write32(uint32(imm))
}

func (a *Assembler) write32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf.Write(tmp[:])
}

func (a *Assembler) write64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf.Write(tmp[:])
}

// --- MOV family ---

// EmitMovRR emits a register-to-register MOV of the given instruction's size.
func (a *Assembler) EmitMovRR(op asm.Instruction, dst, src asm.Register) {
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	switch op {
	case MOVB:
		a.maybeRex(false, srcExt, false, dstExt)
		a.buf.WriteByte(0x88)
	case MOVW:
		a.buf.WriteByte(0x66)
		a.maybeRex(false, srcExt, false, dstExt)
		a.buf.WriteByte(0x89)
	case MOVL:
		a.maybeRex(false, srcExt, false, dstExt)
		a.buf.WriteByte(0x89)
	case MOVQ:
		a.maybeRex(true, srcExt, false, dstExt)
		a.buf.WriteByte(0x89)
	default:
		must(false, "%s is not a plain MOV", Name(op))
	}
	a.buf.WriteByte(modRM(0b11, srcNum, dstNum))
}

// EmitMovRM loads dst <- [srcBase+off], at the size implied by op.
func (a *Assembler) EmitMovRM(op asm.Instruction, dst asm.Register, srcBase asm.Register, off int32) {
	dstNum, dstExt := encoding(dst)
	_, baseExt := encoding(srcBase)
	switch op {
	case MOVB:
		a.maybeRex(false, dstExt, false, baseExt)
		a.buf.WriteByte(0x8A)
	case MOVW:
		a.buf.WriteByte(0x66)
		a.maybeRex(false, dstExt, false, baseExt)
		a.buf.WriteByte(0x8B)
	case MOVL:
		a.maybeRex(false, dstExt, false, baseExt)
		a.buf.WriteByte(0x8B)
	case MOVQ:
		a.maybeRex(true, dstExt, false, baseExt)
		a.buf.WriteByte(0x8B)
	case MOVBLZX, MOVBQZX:
		a.maybeRex(op == MOVBQZX, dstExt, false, baseExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xB6)
	case MOVBLSX, MOVBQSX:
		a.maybeRex(op == MOVBQSX, dstExt, false, baseExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xBE)
	case MOVWLZX, MOVWQZX:
		a.maybeRex(op == MOVWQZX, dstExt, false, baseExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xB7)
	case MOVWLSX, MOVWQSX:
		a.maybeRex(op == MOVWQSX, dstExt, false, baseExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xBF)
	case MOVLQZX:
		// Implemented by a plain 32-bit MOV: writing a 32-bit register
		// destination always zeroes the upper 32 bits on amd64.
		a.maybeRex(false, dstExt, false, baseExt)
		a.buf.WriteByte(0x8B)
	case MOVLQSX:
		a.maybeRex(true, dstExt, false, baseExt)
		a.buf.WriteByte(0x63)
	default:
		must(false, "%s is not a load", Name(op))
	}
	a.writeMemOperand(dstNum, srcBase, off)
}

// EmitMovExtRR performs a register-to-register sign/zero-extending move
// (MOVBLZX/SX, MOVWLZX/SX, MOVLQZX/SX and their 64-bit-dest siblings) -
// the reg,reg counterpart to EmitMovRM's reg,mem forms, needed by the
// WASM extend family when the source is already register-resident.
func (a *Assembler) EmitMovExtRR(op asm.Instruction, dst, src asm.Register) {
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	switch op {
	case MOVBLZX, MOVBQZX:
		a.maybeRex(op == MOVBQZX, dstExt, false, srcExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xB6)
	case MOVBLSX, MOVBQSX:
		a.maybeRex(op == MOVBQSX, dstExt, false, srcExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xBE)
	case MOVWLZX, MOVWQZX:
		a.maybeRex(op == MOVWQZX, dstExt, false, srcExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xB7)
	case MOVWLSX, MOVWQSX:
		a.maybeRex(op == MOVWQSX, dstExt, false, srcExt)
		a.buf.WriteByte(0x0F)
		a.buf.WriteByte(0xBF)
	case MOVLQZX:
		a.maybeRex(false, dstExt, false, srcExt)
		a.buf.WriteByte(0x8B)
	case MOVLQSX:
		a.maybeRex(true, dstExt, false, srcExt)
		a.buf.WriteByte(0x63)
	default:
		must(false, "%s is not a sign/zero-extending move", Name(op))
	}
	a.buf.WriteByte(modRM(0b11, dstNum, srcNum))
}

// EmitMovMR stores [dstBase+off] <- src, at the size implied by op.
func (a *Assembler) EmitMovMR(op asm.Instruction, dstBase asm.Register, off int32, src asm.Register) {
	srcNum, srcExt := encoding(src)
	_, baseExt := encoding(dstBase)
	switch op {
	case MOVB:
		a.maybeRex(false, srcExt, false, baseExt)
		a.buf.WriteByte(0x88)
	case MOVW:
		a.buf.WriteByte(0x66)
		a.maybeRex(false, srcExt, false, baseExt)
		a.buf.WriteByte(0x89)
	case MOVL:
		a.maybeRex(false, srcExt, false, baseExt)
		a.buf.WriteByte(0x89)
	case MOVQ:
		a.maybeRex(true, srcExt, false, baseExt)
		a.buf.WriteByte(0x89)
	default:
		must(false, "%s is not a store", Name(op))
	}
	a.writeMemOperand(srcNum, dstBase, off)
}

// EmitMovRI32 and EmitMovRI64 load an immediate into a register.
// EmitMovRI64 uses the full MOVQ-imm64 form (REX.W + B8+r); EmitMovRI32
// writes a 32-bit immediate (zero-extended into the 64-bit register by the
// CPU).
func (a *Assembler) EmitMovRI32(dst asm.Register, imm int32) {
	dstNum, dstExt := encoding(dst)
	a.maybeRex(false, false, false, dstExt)
	a.buf.WriteByte(0xB8 + (dstNum & 7))
	a.write32(uint32(imm))
}

func (a *Assembler) EmitMovRI64(dst asm.Register, imm uint64) {
	dstNum, dstExt := encoding(dst)
	a.maybeRex(true, false, false, dstExt)
	a.buf.WriteByte(0xB8 + (dstNum & 7))
	a.write64(imm)
}

// EmitLEA computes dst = base + offset without a memory access.
func (a *Assembler) EmitLEA(dst asm.Register, base asm.Register, offset int32) {
	dstNum, dstExt := encoding(dst)
	_, baseExt := encoding(base)
	a.maybeRex(true, dstExt, false, baseExt)
	a.buf.WriteByte(0x8D)
	a.writeMemOperand(dstNum, base, offset)
	_ = base
}

// EmitLEALabel computes l's runtime address into dst via a RIP-relative LEA
// (ModRM mod=00, rm=101), reusing writeRel32Jump's end-of-instruction-
// relative patch for the displacement - a jump-table base address is the
// only thing in this Emitter that needs a label's address as a value
// rather than as a jump target.
func (a *Assembler) EmitLEALabel(dst asm.Register, l *Label) {
	dstNum, dstExt := encoding(dst)
	a.maybeRex(true, dstExt, false, false)
	a.writeRel32Jump([]byte{0x8D, modRM(0b00, dstNum, 0b101)}, l)
}

// --- NEG/NOT via XOR, per spec.md §4.1 ("NEG/NOT via XOR") ---

// EmitNotViaXor flips all bits of r by XORing with an all-ones immediate.
func (a *Assembler) EmitNotViaXor(size Size, r asm.Register) {
	op := XORL
	if size == Size64 {
		op = XORQ
	}
	a.EmitALURI(op, r, -1)
}

// --- Shifts (group 2) ---

var shiftDigit = map[asm.Instruction]byte{
	SHLL: 4, SHLQ: 4, SHRL: 5, SHRQ: 5, SARL: 7, SARQ: 7, ROLL: 0, ROLQ: 0, RORL: 1, RORQ: 1,
}

// EmitShiftCL emits `op dst, CL`: shift count taken from CL, matching
// spec.md §4.1 ("shifts SHL/SHR/SAR/ROL/ROR with CL" - the count is moved
// into RegShiftCount by internal/codegen before this is emitted).
func (a *Assembler) EmitShiftCL(op asm.Instruction, dst asm.Register) {
	digit, ok := shiftDigit[op]
	must(ok, "%s is not a shift", Name(op))
	dstNum, dstExt := encoding(dst)
	a.maybeRex(is64(op), false, false, dstExt)
	a.buf.WriteByte(0xD3)
	a.buf.WriteByte(modRM(0b11, digit, dstNum))
}

// EmitShiftImm emits `op dst, imm8`.
func (a *Assembler) EmitShiftImm(op asm.Instruction, dst asm.Register, count byte) {
	digit, ok := shiftDigit[op]
	must(ok, "%s is not a shift", Name(op))
	dstNum, dstExt := encoding(dst)
	a.maybeRex(is64(op), false, false, dstExt)
	a.buf.WriteByte(0xC1)
	a.buf.WriteByte(modRM(0b11, digit, dstNum))
	a.buf.WriteByte(count)
}

// --- CDQ/CQO (sign-extend AX into DX:AX, required ahead of IDIV) ---

func (a *Assembler) EmitCDQ() { a.buf.WriteByte(0x99) }
func (a *Assembler) EmitCQO() {
	a.maybeRex(true, false, false, false)
	a.buf.WriteByte(0x99)
}

// --- TEST ---

func (a *Assembler) EmitTestRR(op asm.Instruction, a0, a1 asm.Register) {
	n0, e0 := encoding(a0)
	n1, e1 := encoding(a1)
	a.maybeRex(is64(op), e1, false, e0)
	switch op {
	case TESTL, TESTQ:
		a.buf.WriteByte(0x85)
	default:
		must(false, "%s is not TEST", Name(op))
	}
	a.buf.WriteByte(modRM(0b11, n1, n0))
}

// --- IMUL (two-operand reg,reg form; 0F AF) and DIV/IDIV (group 3) ---

func (a *Assembler) EmitIMulRR(op asm.Instruction, dst, src asm.Register) {
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	a.maybeRex(is64(op), dstExt, false, srcExt)
	a.buf.WriteByte(0x0F)
	a.buf.WriteByte(0xAF)
	a.buf.WriteByte(modRM(0b11, dstNum, srcNum))
}

// EmitDivR emits the one-operand form of DIV/IDIV: (R)DX:(R)AX is divided
// by r, quotient to (R)AX, remainder to (R)DX. Matches spec.md §4.4's
// division sketch, which moves the dividend into the ISA-mandated
// AX/DX pair ahead of this emission.
func (a *Assembler) EmitDivR(op asm.Instruction, r asm.Register) {
	rNum, rExt := encoding(r)
	var digit byte
	switch op {
	case DIVL, DIVQ:
		digit = 6
	case IDIVL, IDIVQ:
		digit = 7
	default:
		must(false, "%s is not DIV/IDIV", Name(op))
	}
	a.maybeRex(is64(op), false, false, rExt)
	a.buf.WriteByte(0xF7)
	a.buf.WriteByte(modRM(0b11, digit, rNum))
}

// --- Bit-scan group: LZCNT/TZCNT/POPCNT (mandatory 0xF3 prefix) and BTC ---

func (a *Assembler) EmitBitScanRR(op asm.Instruction, dst, src asm.Register) {
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	a.buf.WriteByte(0xF3)
	a.maybeRex(is64(op), dstExt, false, srcExt)
	a.buf.WriteByte(0x0F)
	switch op {
	case LZCNTL, LZCNTQ:
		a.buf.WriteByte(0xBD)
	case TZCNTL, TZCNTQ:
		a.buf.WriteByte(0xBC)
	case POPCNTL, POPCNTQ:
		a.buf.WriteByte(0xB8)
	default:
		must(false, "%s is not a bit-scan instruction", Name(op))
	}
	a.buf.WriteByte(modRM(0b11, dstNum, srcNum))
}

// EmitBTCImm tests and complements bit `bit` of dst (0F BA /7 ib).
// internal/codegen does not call it; its unsigned-to-float conversion
// uses a compare-and-branch sequence instead.
func (a *Assembler) EmitBTCImm(op asm.Instruction, dst asm.Register, bit byte) {
	dstNum, dstExt := encoding(dst)
	a.maybeRex(is64(op), false, false, dstExt)
	a.buf.WriteByte(0x0F)
	a.buf.WriteByte(0xBA)
	a.buf.WriteByte(modRM(0b11, 7, dstNum))
	a.buf.WriteByte(bit)
}

// --- Control flow ---

// Condition is the 11-entry condition list of spec.md §4.1.
type Condition byte

const (
	CondEQ Condition = iota
	CondNE
	CondAB
	CondAE
	CondBL
	CondBE
	CondGT
	CondGE
	CondLT
	CondLE
	CondSG
)

var ccBits = map[Condition]byte{
	CondEQ: 0x4, CondNE: 0x5, CondAB: 0x7, CondAE: 0x3, CondBL: 0x2, CondBE: 0x6,
	CondGT: 0xF, CondGE: 0xD, CondLT: 0xC, CondLE: 0xE, CondSG: 0x8,
}

// EmitJMP emits an unconditional near jump to target (rel32 form, always).
func (a *Assembler) EmitJMP(target *Label) {
	a.writeRel32Jump([]byte{0xE9}, target)
}

// EmitJCC emits a conditional near jump.
func (a *Assembler) EmitJCC(cc Condition, target *Label) {
	bits, ok := ccBits[cc]
	must(ok, "unknown condition %d", cc)
	a.writeRel32Jump([]byte{0x0F, 0x80 | bits}, target)
}

// EmitCALL emits a direct near call to target.
func (a *Assembler) EmitCALL(target *Label) {
	a.writeRel32Jump([]byte{0xE8}, target)
}

// EmitCALLReg emits an indirect call through a register (used for indirect
// WASM calls, where the callee address is computed at runtime).
func (a *Assembler) EmitCALLReg(r asm.Register) {
	rNum, rExt := encoding(r)
	a.maybeRex(false, false, false, rExt)
	a.buf.WriteByte(0xFF)
	a.buf.WriteByte(modRM(0b11, 2, rNum))
}

// EmitJMPReg emits an indirect jump through a register (FF /4) - used by
// br_table's computed jump table, where the target address is not known
// until runtime.
func (a *Assembler) EmitJMPReg(r asm.Register) {
	rNum, rExt := encoding(r)
	a.maybeRex(false, false, false, rExt)
	a.buf.WriteByte(0xFF)
	a.buf.WriteByte(modRM(0b11, 4, rNum))
}

func (a *Assembler) EmitRET() { a.buf.WriteByte(0xC3) }

// EmitSETCC sets dst (a byte register) to 0 or 1 per the condition.
func (a *Assembler) EmitSETCC(cc Condition, dst asm.Register) {
	bits, ok := ccBits[cc]
	must(ok, "unknown condition %d", cc)
	dstNum, dstExt := encoding(dst)
	a.maybeRex(false, false, false, dstExt)
	a.buf.WriteByte(0x0F)
	a.buf.WriteByte(0x90 | bits)
	a.buf.WriteByte(modRM(0b11, 0, dstNum))
}

// EmitCMOVCC conditionally moves src into dst.
func (a *Assembler) EmitCMOVCC(op asm.Instruction, cc Condition, dst, src asm.Register) {
	bits, ok := ccBits[cc]
	must(ok, "unknown condition %d", cc)
	dstNum, dstExt := encoding(dst)
	srcNum, srcExt := encoding(src)
	a.maybeRex(op == CMOVQCC, dstExt, false, srcExt)
	a.buf.WriteByte(0x0F)
	a.buf.WriteByte(0x40 | bits)
	a.buf.WriteByte(modRM(0b11, dstNum, srcNum))
}

// EmitUD2 emits the trap-on-execute instruction used for every unreachable
// and runtime-fault site in spec.md §4.4/§7.
func (a *Assembler) EmitUD2() {
	a.buf.WriteByte(0x0F)
	a.buf.WriteByte(0x0B)
}

func (a *Assembler) EmitINT3() { a.buf.WriteByte(0xCC) }

// --- Stack ---

func (a *Assembler) EmitPUSHQ(r asm.Register) {
	rNum, rExt := encoding(r)
	a.maybeRex(false, false, false, rExt)
	a.buf.WriteByte(0x50 + (rNum & 7))
}

func (a *Assembler) EmitPOPQ(r asm.Register) {
	rNum, rExt := encoding(r)
	a.maybeRex(false, false, false, rExt)
	a.buf.WriteByte(0x58 + (rNum & 7))
}
