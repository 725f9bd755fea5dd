package amd64

import "github.com/onepass-dev/onepass/internal/asm"

// Instruction is the closed set of x86-64 mnemonics spec.md §4.1 requires.
// Naming follows the teacher's Go-asm-derived convention in
// internal/asm/amd64/consts.go (operand size as a trailing L/Q/W/B letter),
// extended with the V-prefixed AVX forms the teacher's SSE-only encoder
// does not have.
const (
	NONE asm.Instruction = iota

	// Data movement.
	MOVB
	MOVW
	MOVL
	MOVQ
	MOVBLZX
	MOVBLSX
	MOVBQZX
	MOVBQSX
	MOVWLZX
	MOVWLSX
	MOVWQZX
	MOVWQSX
	MOVLQZX
	MOVLQSX
	LEAQ

	// Integer ALU.
	ADDL
	ADDQ
	SUBL
	SUBQ
	IMULL
	IMULQ
	DIVL
	DIVQ
	IDIVL
	IDIVQ
	ANDL
	ANDQ
	ORL
	ORQ
	XORL
	XORQ
	CMPL
	CMPQ
	TESTL
	TESTQ
	SHLL
	SHLQ
	SHRL
	SHRQ
	SARL
	SARQ
	ROLL
	ROLQ
	RORL
	RORQ
	CDQ
	CQO

	// Bit ops.
	LZCNTL
	LZCNTQ
	TZCNTL
	TZCNTQ
	POPCNTL
	POPCNTQ
	BTCL
	BTCQ

	// Control flow.
	JMP
	JCC // conditional jump; the specific condition is EmitJCC's Condition argument
	CALL
	RET
	SETCC
	CMOVQCC
	CMOVLCC
	UD2
	INT3

	// Stack.
	PUSHQ
	POPQ

	// Scalar AVX float arithmetic.
	VADDSS
	VADDSD
	VSUBSS
	VSUBSD
	VMULSS
	VMULSD
	VDIVSS
	VDIVSD
	VMAXSS
	VMAXSD
	VMINSS
	VMINSD
	VSQRTSS
	VSQRTSD
	VCMPSS
	VCMPSD
	VROUNDSS
	VROUNDSD
	VCVTSS2SD
	VCVTSD2SS
	VCVTSI2SSL
	VCVTSI2SSQ
	VCVTSI2SDL
	VCVTSI2SDQ
	VCVTTSS2SIL
	VCVTTSS2SIQ
	VCVTTSD2SIL
	VCVTTSD2SIQ
	UCOMISS
	UCOMISD

	// Bitwise float (used to implement f32/f64 abs/neg/copysign via mask ops).
	VANDPS
	VANDPD
	VANDNPS
	VANDNPD
	VORPS
	VORPD
	VXORPS
	VXORPD

	// GPR<->XMM bit-pattern moves (used to materialize float constants
	// and to implement the reinterpret family).
	VMOVD
	VMOVQX // GPR -> XMM, 64-bit
	VMOVQG // XMM -> GPR, 64-bit

	instructionEnd
)

var instructionNames = [...]string{
	NONE: "NONE", MOVB: "MOVB", MOVW: "MOVW", MOVL: "MOVL", MOVQ: "MOVQ",
	MOVBLZX: "MOVBLZX", MOVBLSX: "MOVBLSX", MOVBQZX: "MOVBQZX", MOVBQSX: "MOVBQSX",
	MOVWLZX: "MOVWLZX", MOVWLSX: "MOVWLSX", MOVWQZX: "MOVWQZX", MOVWQSX: "MOVWQSX",
	MOVLQZX: "MOVLQZX", MOVLQSX: "MOVLQSX", LEAQ: "LEAQ",
	ADDL: "ADDL", ADDQ: "ADDQ", SUBL: "SUBL", SUBQ: "SUBQ",
	IMULL: "IMULL", IMULQ: "IMULQ", DIVL: "DIVL", DIVQ: "DIVQ",
	IDIVL: "IDIVL", IDIVQ: "IDIVQ", ANDL: "ANDL", ANDQ: "ANDQ",
	ORL: "ORL", ORQ: "ORQ", XORL: "XORL", XORQ: "XORQ",
	CMPL: "CMPL", CMPQ: "CMPQ", TESTL: "TESTL", TESTQ: "TESTQ",
	SHLL: "SHLL", SHLQ: "SHLQ", SHRL: "SHRL", SHRQ: "SHRQ",
	SARL: "SARL", SARQ: "SARQ", ROLL: "ROLL", ROLQ: "ROLQ",
	RORL: "RORL", RORQ: "RORQ", CDQ: "CDQ", CQO: "CQO",
	LZCNTL: "LZCNTL", LZCNTQ: "LZCNTQ", TZCNTL: "TZCNTL", TZCNTQ: "TZCNTQ",
	POPCNTL: "POPCNTL", POPCNTQ: "POPCNTQ", BTCL: "BTCL", BTCQ: "BTCQ",
	JMP: "JMP", JCC: "JCC", CALL: "CALL", RET: "RET",
	SETCC: "SETCC", CMOVQCC: "CMOVQCC", CMOVLCC: "CMOVLCC", UD2: "UD2", INT3: "INT3",
	PUSHQ: "PUSHQ", POPQ: "POPQ",
	VADDSS: "VADDSS", VADDSD: "VADDSD", VSUBSS: "VSUBSS", VSUBSD: "VSUBSD",
	VMULSS: "VMULSS", VMULSD: "VMULSD", VDIVSS: "VDIVSS", VDIVSD: "VDIVSD",
	VMAXSS: "VMAXSS", VMAXSD: "VMAXSD", VMINSS: "VMINSS", VMINSD: "VMINSD",
	VSQRTSS: "VSQRTSS", VSQRTSD: "VSQRTSD", VCMPSS: "VCMPSS", VCMPSD: "VCMPSD",
	VROUNDSS: "VROUNDSS", VROUNDSD: "VROUNDSD",
	VCVTSS2SD: "VCVTSS2SD", VCVTSD2SS: "VCVTSD2SS",
	VCVTSI2SSL: "VCVTSI2SSL", VCVTSI2SSQ: "VCVTSI2SSQ",
	VCVTSI2SDL: "VCVTSI2SDL", VCVTSI2SDQ: "VCVTSI2SDQ",
	VCVTTSS2SIL: "VCVTTSS2SIL", VCVTTSS2SIQ: "VCVTTSS2SIQ",
	VCVTTSD2SIL: "VCVTTSD2SIL", VCVTTSD2SIQ: "VCVTTSD2SIQ",
	UCOMISS: "UCOMISS", UCOMISD: "UCOMISD",
	VANDPS: "VANDPS", VANDPD: "VANDPD", VANDNPS: "VANDNPS", VANDNPD: "VANDNPD",
	VORPS: "VORPS", VORPD: "VORPD", VXORPS: "VXORPS", VXORPD: "VXORPD",
	VMOVD: "VMOVD", VMOVQX: "VMOVQX", VMOVQG: "VMOVQG",
}

// Name returns the mnemonic's assembly name, for disassembly/debug logging.
func Name(i asm.Instruction) string {
	if int(i) < len(instructionNames) {
		if n := instructionNames[i]; n != "" {
			return n
		}
	}
	return "UNKNOWN"
}

// VCMP predicates, used as the immediate operand to VCMPSS/VCMPSD.
const (
	VCmpEQ  = 0x00
	VCmpLT  = 0x01
	VCmpLE  = 0x02
	VCmpNEQ = 0x04
	VCmpNLT = 0x05 // i.e. GE with operands in order
	VCmpNLE = 0x06 // i.e. GT with operands in order
)

// VROUND rounding-mode immediates (bits 0-1 select mode, bit 3 suppresses
// the inexact-result exception - set for all four WASM rounding ops).
const (
	RoundNearest = 0x00 | 0x08
	RoundFloor   = 0x01 | 0x08
	RoundCeil    = 0x02 | 0x08
	RoundTrunc   = 0x03 | 0x08
)
