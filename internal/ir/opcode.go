package ir

// ValType is a WASM value type, reused verbatim by every Opcode field that
// names one (block/if result types, select's mandated type in the
// reference-types proposal's typed form, etc).
type ValType byte

const (
	ValI32 ValType = iota
	ValI64
	ValF32
	ValF64
)

// OpcodeKind is the closed set of WASM 1.0 MVP instructions this compiler
// accepts, named after the teacher's wasm.OpcodeXxx constants
// (internal/wasm/instruction.go, confirmed via its use throughout the kept
// wazeroir compiler_test.go) but collapsed into one Go enum rather than
// split across the teacher's raw-byte Opcode and OpcodeMisc/OpcodeVec
// prefix bytes, since this compiler has no SIMD/bulk-memory scope beyond
// what spec.md names.
type OpcodeKind uint16

const (
	OpUnreachable OpcodeKind = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpDrop
	OpSelect

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
	OpMemorySize
	OpMemoryGrow

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr

	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr

	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign

	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64

	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S

	opcodeKindEnd
)

// MemArg is the (alignment hint, static offset) pair every memory
// instruction carries.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Opcode is one decoded WASM instruction: the closed OpcodeKind tag plus
// whichever immediate fields that kind uses. Unused fields are simply
// zero - this mirrors the teacher's UnionOperation "one struct, many
// kinds" shape rather than a Go interface with one type per opcode, which
// spec.md §9 explicitly calls for ("Opcode as closed tagged variant, not
// interface").
type Opcode struct {
	Kind OpcodeKind

	I32Const int32
	I64Const int64
	F32Const uint32 // raw bits, to keep NaN payloads exact
	F64Const uint64

	LocalIndex  uint32
	GlobalIndex uint32
	FuncIndex   uint32
	TypeIndex   uint32
	TableIndex  uint32

	// Depth is br/br_if's relative target depth: 0 names the innermost
	// open ControlFrame, counting outward.
	Depth uint32

	Mem MemArg

	// Labels/Default back br_table: Labels[0..n) are the jump-table
	// entries and Default is used when the index is out of range.
	Labels  []uint32
	Default uint32

	// ResultTypes names a block/loop/if's result arity/types, or (for
	// OpCall/OpCallIndirect) the callee's return arity/types.
	ResultTypes []ValType

	// ParamTypes names OpCall/OpCallIndirect's callee parameter
	// arity/types, in left-to-right order - the decoder already knows
	// this from the callee's declared function type (or, for
	// call_indirect, the type immediate TypeIndex names), so it is
	// carried on the event rather than requiring Codegen to hold a
	// whole-module signature table itself (spec.md §1: "the WASM decoder
	// ... [is] orthogonal plumbing that feeds this core").
	ParamTypes []ValType
}
