package amd64

import "github.com/onepass-dev/onepass/internal/asm"

// General-purpose registers, numbered exactly as the x86-64 ModRM/SIB/REX.{R,X,B}
// encoding expects (0=RAX ... 15=R15), offset by one to keep 0 free for
// asm.NilRegister. Naming follows the teacher's REG_XX convention in
// internal/asm/amd64/consts.go.
const (
	RegAX asm.Register = asm.NilRegister + 1 + iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	RegX0
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15
)

// encoding returns the 4-bit x86 register number (0-15) and whether the
// REX.{R,X,B} extension bit must be set.
func encoding(r asm.Register) (num byte, ext bool) {
	var base asm.Register
	switch {
	case r >= RegAX && r <= RegR15:
		base = RegAX
	case r >= RegX0 && r <= RegX15:
		base = RegX0
	default:
		panic("amd64: not a physical register")
	}
	n := byte(r - base)
	return n & 0x7, n&0x8 != 0
}

// IsGPR reports whether r is one of RegAX..RegR15.
func IsGPR(r asm.Register) bool { return r >= RegAX && r <= RegR15 }

// IsXMM reports whether r is one of RegX0..RegX15.
func IsXMM(r asm.Register) bool { return r >= RegX0 && r <= RegX15 }

// Reserved registers. These are never handed out by internal/machine's free
// pool: the context pointer register is live for the whole function body,
// RCX is reserved because SHL/SHR/SAR/ROL/ROR force the shift count into CL,
// and RSP/RBP are the stack machinery itself.
const (
	RegVMContext = RegR15
	RegShiftCount = RegCX
)

// UnreservedGPRs is the free pool of general-purpose registers handed out by
// internal/machine, in allocation-preference order. Grounded on the
// teacher's unreservedGeneralPurposeRegisters package var
// (compiler_value_location.go), generalized from "value-stack entries" to
// "any acquired Location" per spec.md §4.2.
var UnreservedGPRs = []asm.Register{
	RegAX, RegDX, RegBX, RegSI, RegDI,
	RegR8, RegR9, RegR10, RegR11, RegR12, RegR13, RegR14,
}

// UnreservedXMMs is the free pool of vector registers. All 16 are available:
// none are reserved for ABI or ISA reasons on the callee side.
var UnreservedXMMs = []asm.Register{
	RegX0, RegX1, RegX2, RegX3, RegX4, RegX5, RegX6, RegX7,
	RegX8, RegX9, RegX10, RegX11, RegX12, RegX13, RegX14, RegX15,
}

// The flag-comparison conditions a SETcc/Jcc/CMOVcc tests live as the
// Condition type in emit.go (CondEQ/CondNE/CondAB/...), not here - this
// package's own hand-rolled emitter never needed the teacher's
// ConditionalRegisterState abstraction (internal/asm/asm.go), which existed
// to let the teacher's compiler defer a flag set and consume it later via
// an interface method; this Emitter always both sets and consumes flags in
// the same EmitJCC/EmitSETCC/EmitCMOVCC call.
