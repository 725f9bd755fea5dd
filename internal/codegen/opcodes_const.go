package codegen

import (
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// compileI32Const pushes an Imm32 Location with no code emitted, per
// spec.md §4.4: "i32.const pushes Imm32 no code emitted."
func (c *Compiler) compileI32Const(op ir.Opcode) error {
	c.pushValue(machine.I32, machine.Imm32(op.I32Const))
	return nil
}

func (c *Compiler) compileI64Const(op ir.Opcode) error {
	if fitsInt32(op.I64Const) {
		c.pushValue(machine.I64, machine.Imm32(int32(op.I64Const)))
	} else {
		c.pushValue(machine.I64, machine.Imm64(op.I64Const))
	}
	return nil
}

// Float constants carry no useful immediate-operand encoding on their own
// (there is no VADDSS-with-immediate form), so they are materialized into
// an XMM register immediately via a GPR bit-pattern load + move, rather
// than deferred like integer constants.
func (c *Compiler) compileF32Const(op ir.Opcode) error {
	loc := c.materializeFloatConst32(op.F32Const)
	c.pushValue(machine.F32, loc)
	return nil
}

func (c *Compiler) compileF64Const(op ir.Opcode) error {
	loc := c.materializeFloatConst64(op.F64Const)
	c.pushValue(machine.F64, loc)
	return nil
}

func fitsInt32(v int64) bool { return v >= -(1<<31) && v < (1<<31) }
