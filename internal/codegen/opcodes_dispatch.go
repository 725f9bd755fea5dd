package codegen

import (
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
)

// compileOpcode is spec.md §4.4's per-opcode dispatch. Families are split
// across opcodes_*.go; this file only routes.
func (c *Compiler) compileOpcode(op ir.Opcode) error {
	switch op.Kind {
	case ir.OpUnreachable:
		return c.compileUnreachable()
	case ir.OpNop:
		return nil
	case ir.OpBlock:
		return c.compileBlock(op)
	case ir.OpLoop:
		return c.compileLoop(op)
	case ir.OpIf:
		return c.compileIf(op)
	case ir.OpElse:
		return c.compileElse()
	case ir.OpEnd:
		return c.compileEnd()
	case ir.OpBr:
		return c.compileBr(op)
	case ir.OpBrIf:
		return c.compileBrIf(op)
	case ir.OpBrTable:
		return c.compileBrTable(op)
	case ir.OpReturn:
		return c.compileReturn()
	case ir.OpCall:
		return c.compileCall(op)
	case ir.OpCallIndirect:
		return c.compileCallIndirect(op)
	case ir.OpDrop:
		return c.compileDrop()
	case ir.OpSelect:
		return c.compileSelect()

	case ir.OpLocalGet:
		return c.compileLocalGet(op)
	case ir.OpLocalSet:
		return c.compileLocalSet(op)
	case ir.OpLocalTee:
		return c.compileLocalTee(op)
	case ir.OpGlobalGet:
		return c.compileGlobalGet(op)
	case ir.OpGlobalSet:
		return c.compileGlobalSet(op)

	case ir.OpI32Const:
		return c.compileI32Const(op)
	case ir.OpI64Const:
		return c.compileI64Const(op)
	case ir.OpF32Const:
		return c.compileF32Const(op)
	case ir.OpF64Const:
		return c.compileF64Const(op)

	case ir.OpI32Add, ir.OpI32Sub, ir.OpI32And, ir.OpI32Or, ir.OpI32Xor:
		return c.compileIntBinOp(op.Kind, machine.Size32)
	case ir.OpI64Add, ir.OpI64Sub, ir.OpI64And, ir.OpI64Or, ir.OpI64Xor:
		return c.compileIntBinOp(op.Kind, machine.Size64)

	case ir.OpI32Mul:
		return c.compileIMul(machine.Size32)
	case ir.OpI64Mul:
		return c.compileIMul(machine.Size64)

	case ir.OpI32DivS, ir.OpI32DivU, ir.OpI32RemS, ir.OpI32RemU:
		return c.compileDivRem(op.Kind, machine.Size32)
	case ir.OpI64DivS, ir.OpI64DivU, ir.OpI64RemS, ir.OpI64RemU:
		return c.compileDivRem(op.Kind, machine.Size64)

	case ir.OpI32Shl, ir.OpI32ShrS, ir.OpI32ShrU, ir.OpI32Rotl, ir.OpI32Rotr:
		return c.compileShift(op.Kind, machine.Size32)
	case ir.OpI64Shl, ir.OpI64ShrS, ir.OpI64ShrU, ir.OpI64Rotl, ir.OpI64Rotr:
		return c.compileShift(op.Kind, machine.Size64)

	case ir.OpI32Clz, ir.OpI32Ctz, ir.OpI32Popcnt:
		return c.compileBitCount(op.Kind, machine.Size32)
	case ir.OpI64Clz, ir.OpI64Ctz, ir.OpI64Popcnt:
		return c.compileBitCount(op.Kind, machine.Size64)

	case ir.OpI32Eqz:
		return c.compileEqz(machine.Size32)
	case ir.OpI64Eqz:
		return c.compileEqz(machine.Size64)

	case ir.OpI32Eq, ir.OpI32Ne, ir.OpI32LtS, ir.OpI32LtU, ir.OpI32GtS, ir.OpI32GtU,
		ir.OpI32LeS, ir.OpI32LeU, ir.OpI32GeS, ir.OpI32GeU:
		return c.compileIntCompare(op.Kind, machine.Size32)
	case ir.OpI64Eq, ir.OpI64Ne, ir.OpI64LtS, ir.OpI64LtU, ir.OpI64GtS, ir.OpI64GtU,
		ir.OpI64LeS, ir.OpI64LeU, ir.OpI64GeS, ir.OpI64GeU:
		return c.compileIntCompare(op.Kind, machine.Size64)

	case ir.OpF32Eq, ir.OpF32Ne, ir.OpF32Lt, ir.OpF32Gt, ir.OpF32Le, ir.OpF32Ge:
		return c.compileFloatCompare(op.Kind, machine.F32)
	case ir.OpF64Eq, ir.OpF64Ne, ir.OpF64Lt, ir.OpF64Gt, ir.OpF64Le, ir.OpF64Ge:
		return c.compileFloatCompare(op.Kind, machine.F64)

	case ir.OpF32Add, ir.OpF32Sub, ir.OpF32Mul, ir.OpF32Div, ir.OpF32Min, ir.OpF32Max:
		return c.compileFloatBinOp(op.Kind, machine.F32)
	case ir.OpF64Add, ir.OpF64Sub, ir.OpF64Mul, ir.OpF64Div, ir.OpF64Min, ir.OpF64Max:
		return c.compileFloatBinOp(op.Kind, machine.F64)

	case ir.OpF32Copysign:
		return c.compileCopysign(machine.F32)
	case ir.OpF64Copysign:
		return c.compileCopysign(machine.F64)

	case ir.OpF32Abs, ir.OpF32Neg, ir.OpF32Sqrt, ir.OpF32Ceil, ir.OpF32Floor, ir.OpF32Trunc, ir.OpF32Nearest:
		return c.compileFloatUnOp(op.Kind, machine.F32)
	case ir.OpF64Abs, ir.OpF64Neg, ir.OpF64Sqrt, ir.OpF64Ceil, ir.OpF64Floor, ir.OpF64Trunc, ir.OpF64Nearest:
		return c.compileFloatUnOp(op.Kind, machine.F64)

	case ir.OpI32WrapI64:
		return c.compileWrap()
	case ir.OpI64ExtendI32S, ir.OpI64ExtendI32U:
		return c.compileExtend32To64(op.Kind == ir.OpI64ExtendI32S)
	case ir.OpI32Extend8S, ir.OpI32Extend16S, ir.OpI64Extend8S, ir.OpI64Extend16S, ir.OpI64Extend32S:
		return c.compileSignExtend(op.Kind)

	case ir.OpI32TruncF32S, ir.OpI32TruncF32U, ir.OpI32TruncF64S, ir.OpI32TruncF64U,
		ir.OpI64TruncF32S, ir.OpI64TruncF32U, ir.OpI64TruncF64S, ir.OpI64TruncF64U:
		return c.compileTrunc(op.Kind)

	case ir.OpF32ConvertI32S, ir.OpF32ConvertI32U, ir.OpF32ConvertI64S, ir.OpF32ConvertI64U,
		ir.OpF64ConvertI32S, ir.OpF64ConvertI32U, ir.OpF64ConvertI64S, ir.OpF64ConvertI64U:
		return c.compileConvert(op.Kind)

	case ir.OpF32DemoteF64:
		return c.compileDemote()
	case ir.OpF64PromoteF32:
		return c.compilePromote()

	case ir.OpI32ReinterpretF32, ir.OpI64ReinterpretF64, ir.OpF32ReinterpretI32, ir.OpF64ReinterpretI64:
		return c.compileReinterpret(op.Kind)

	case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
		ir.OpI32Load8S, ir.OpI32Load8U, ir.OpI32Load16S, ir.OpI32Load16U,
		ir.OpI64Load8S, ir.OpI64Load8U, ir.OpI64Load16S, ir.OpI64Load16U, ir.OpI64Load32S, ir.OpI64Load32U:
		return c.compileLoad(op)
	case ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
		ir.OpI32Store8, ir.OpI32Store16, ir.OpI64Store8, ir.OpI64Store16, ir.OpI64Store32:
		return c.compileStore(op)
	case ir.OpMemorySize:
		return c.compileMemorySize()
	case ir.OpMemoryGrow:
		return c.compileMemoryGrow()

	default:
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unsupported opcode kind %d", op.Kind)
	}
}
