package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/statemap"
	"github.com/onepass-dev/onepass/internal/vmctx"
)

// intArgGPRs/floatArgXMMs are the System-V integer/SSE argument streams
// this port's call sequence fills after the context pointer (spec.md
// §4.4.1 step 7: "move the context pointer into the first-parameter
// register" - RDI here, leaving the rest of the integer stream and all of
// the XMM stream for the callee's own WASM parameters). Both compileCall/
// compileCallIndirect (outgoing arguments) and Compiler.initLocals
// (incoming arguments) index into these same two slices, since a
// generated function's own calling convention is this port's to define
// and both ends must agree.
var intArgGPRs = []asm.Register{amd64.RegSI, amd64.RegDX, amd64.RegCX, amd64.RegR8, amd64.RegR9}
var floatArgXMMs = []asm.Register{
	amd64.RegX0, amd64.RegX1, amd64.RegX2, amd64.RegX3,
	amd64.RegX4, amd64.RegX5, amd64.RegX6, amd64.RegX7,
}

// valTypeToMachine maps the decoder's ir.ValType (used for block/call
// result-type immediates) onto machine.ValueType (used everywhere a
// Location needs a width/register-file tag).
func valTypeToMachine(t ir.ValType) machine.ValueType {
	switch t {
	case ir.ValI64:
		return machine.I64
	case ir.ValF32:
		return machine.F32
	case ir.ValF64:
		return machine.F64
	default:
		return machine.I32
	}
}

// callParam is one argument to emitCallSequence: its source Location and
// WASM type (the type decides the int-arg or float-arg register stream).
type callParam struct {
	Loc machine.Location
	Typ machine.ValueType
}

// emitCallSequence implements spec.md §4.4.1's twelve-step System-V call
// sequence around whatever loadTarget leaves in RAX. One deliberate
// adaptation: steps 2-3's register saves go through internal/machine's
// frame-slot mechanism (SpillUsedRegisters/RestoreSpilledRegisters)
// instead of raw SP-relative PUSH, keeping every Location in this port
// frame-pointer-relative rather than introducing a second, transient
// addressing mode alongside it (see DESIGN.md). A side effect: spilling
// every live register before shuffling arguments means no argument
// source is ever itself a register another argument's move could
// clobber, so step 6's topological-sort requirement never arises here -
// by the time the moves are emitted every source is a frame slot or an
// immediate.
func (c *Compiler) emitCallSequence(params []callParam, resultType machine.ValueType, hasResult bool, loadTarget func()) machine.Location {
	spilled := c.mach.SpillUsedRegisters(c.asm)
	spillMap := make(map[asm.Register]machine.Location, len(spilled))
	for _, e := range spilled {
		spillMap[e.Reg] = e.Slot
	}

	resolved := make([]callParam, len(params))
	for i, p := range params {
		if p.Loc.IsGPR() || p.Loc.IsXMM() {
			if slot, ok := spillMap[p.Loc.Reg]; ok {
				resolved[i] = callParam{Loc: slot, Typ: p.Typ}
				continue
			}
		}
		resolved[i] = p
	}

	var regInt, regFloat, stackParams []callParam
	for _, p := range resolved {
		switch {
		case p.Typ.IsFloat() && len(regFloat) < len(floatArgXMMs):
			regFloat = append(regFloat, p)
		case p.Typ.IsFloat():
			stackParams = append(stackParams, p)
		case !p.Typ.IsFloat() && len(regInt) < len(intArgGPRs):
			regInt = append(regInt, p)
		default:
			stackParams = append(stackParams, p)
		}
	}

	pad := len(stackParams)%2 != 0
	if pad {
		c.asm.EmitALURI(amd64.SUBQ, amd64.RegSP, 8)
	}
	for i := len(stackParams) - 1; i >= 0; i-- {
		c.pushCallParam(stackParams[i])
	}

	for i, p := range regInt {
		c.moveParamIntoGPR(p, intArgGPRs[i])
	}
	for i, p := range regFloat {
		c.moveParamIntoXMM(p, floatArgXMMs[i])
	}

	c.asm.EmitMovRR(amd64.MOVQ, amd64.RegDI, c.mach.VMContextRegister())

	loadTarget()
	c.asm.EmitCALLReg(amd64.RegAX)
	c.recordSuspend(statemap.Call)

	if n := len(stackParams) * 8; n > 0 || pad {
		if pad {
			n += 8
		}
		c.asm.EmitALURI(amd64.ADDQ, amd64.RegSP, int32(n))
	}

	c.mach.RestoreSpilledRegisters(c.asm, spilled)

	if !hasResult {
		return machine.Location{}
	}
	if resultType.IsFloat() {
		x := c.requireTempXMM()
		c.emitXMMMove(x, amd64.RegX0, resultType)
		return machine.XMM(x)
	}
	out := c.requireTempGPR()
	movOp := amd64.MOVL
	if resultType.Size() == machine.Size64 {
		movOp = amd64.MOVQ
	}
	c.asm.EmitMovRR(movOp, out, amd64.RegAX)
	return machine.GPR(out)
}

// pushCallParam pushes one stack-passed argument's raw 8-byte value
// (spec.md §4.4.1 step 5's "two-GPR workaround that does not involve SP
// as an operand of MOV" - EmitPUSHQ only ever takes a register operand in
// this Emitter, so every source funnels through one). Every resolved
// source here is Memory or Imm (never a live GPR/XMM - emitCallSequence
// already redirected those through spillMap), and a frame slot's 8 bytes
// are the value's exact bit pattern regardless of int or float type, so
// one code path serves both.
func (c *Compiler) pushCallParam(p callParam) {
	g := c.requireTempGPR()
	switch {
	case p.Loc.IsMemory():
		c.asm.EmitMovRM(amd64.MOVQ, g, p.Loc.Base, p.Loc.Offset)
	case p.Loc.Kind == machine.LocationImm64:
		c.asm.EmitMovRI64(g, uint64(p.Loc.Imm))
	case p.Loc.IsImm():
		c.asm.EmitMovRI32(g, int32(p.Loc.Imm))
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable call-stack argument kind %d", p.Loc.Kind))
	}
	c.asm.EmitPUSHQ(g)
	c.mach.ReleaseTempGPR(g)
}

func (c *Compiler) moveParamIntoGPR(p callParam, reg asm.Register) {
	movOp := amd64.MOVL
	if p.Typ.Size() == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch {
	case p.Loc.IsMemory():
		c.asm.EmitMovRM(movOp, reg, p.Loc.Base, p.Loc.Offset)
	case p.Loc.IsImm():
		c.materializeInto(reg, p.Typ.Size(), p.Loc)
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable integer call argument kind %d", p.Loc.Kind))
	}
}

// moveParamIntoXMM loads a resolved argument's raw bit pattern into a
// float argument register. Floats never reach the value stack as a raw
// Imm Location (compileF32Const/F64Const materialize into XMM
// immediately), so after spilling every live source here is Memory.
func (c *Compiler) moveParamIntoXMM(p callParam, reg asm.Register) {
	c.emitFloatLoad(reg, p.Loc.Base, p.Loc.Offset, p.Typ.Size())
}

// collectCallParams pops the last len(paramTypes) value-stack entries,
// left-to-right (spec.md §4.4: "Collect the last N value-stack entries as
// params").
func (c *Compiler) collectCallParams(paramTypes []ir.ValType) []callParam {
	params := make([]callParam, len(paramTypes))
	for i := len(paramTypes) - 1; i >= 0; i-- {
		v := c.popValue()
		params[i] = callParam{Loc: v.Loc, Typ: v.Type}
	}
	return params
}

// callResultType returns the single result's machine.ValueType plus
// whether the callee returns a value at all - this compiler only targets
// WASM 1.0's single-return-value functions (spec.md's Non-goals exclude
// the multi-value proposal).
func callResultType(resultTypes []ir.ValType) (machine.ValueType, bool) {
	if len(resultTypes) == 0 {
		return machine.I32, false
	}
	return valTypeToMachine(resultTypes[0]), true
}

// importedFuncPtr loads vmctx.ImportedFuncs[index] - the code pointer
// table the host populates for both imported and (once the whole module
// finishes compiling) local functions alike: spec.md §6's Output contract
// only promises "a list of entry offsets, one per local function" after
// the whole module compiles, which is outside any single function's
// streaming Codegen pass, so a direct call cannot resolve its target as
// an intra-segment Label the way a branch does (internal/asm/amd64's
// Assembler/Label are scoped to one function body - see
// internal/asm/amd64/assembler.go's Offset doc). Routing every direct
// call through this same host-populated table, exactly like an imported
// call, sidesteps that scoping limit entirely.
func (c *Compiler) importedFuncPtr(dst asm.Register, index uint32) {
	c.asm.EmitMovRM(amd64.MOVQ, dst, c.mach.VMContextRegister(), vmctx.OffsetImportedFuncs)
	c.asm.EmitMovRM(amd64.MOVQ, dst, dst, int32(index)*8)
}

// compileCall implements spec.md §4.4's direct-call sketch.
func (c *Compiler) compileCall(op ir.Opcode) error {
	params := c.collectCallParams(op.ParamTypes)
	resultType, hasResult := callResultType(op.ResultTypes)

	funcIndex := op.FuncIndex
	result := c.emitCallSequence(params, resultType, hasResult, func() {
		c.importedFuncPtr(amd64.RegAX, funcIndex)
	})

	for _, p := range params {
		c.releaseIfTemp(p.Loc)
	}
	if hasResult {
		c.pushValue(resultType, result)
	}
	return nil
}

// compileCallIndirect implements spec.md §4.4's indirect-call sketch:
// "Load the table base from the context, check the function index
// against table length (trap-if-above-equal), multiply by element size,
// add base, load the signature id, compare against the expected id
// (trap-if-not-equal), then call through the function pointer."
func (c *Compiler) compileCallIndirect(op ir.Opcode) error {
	funcIdxVal := c.popValue()
	params := c.collectCallParams(op.ParamTypes)
	resultType, hasResult := callResultType(op.ResultTypes)

	idxReg := c.materializeGPR(funcIdxVal.Loc, machine.Size32)
	idxSlot := c.mach.AcquireScratchSlot(c.asm, idxReg)
	if !funcIdxVal.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(idxReg)
	}
	c.releaseIfTemp(funcIdxVal.Loc)

	expectedSig := op.TypeIndex

	result := c.emitCallSequence(params, resultType, hasResult, func() {
		idx := c.requireTempGPR()
		c.asm.EmitMovRM(amd64.MOVQ, idx, idxSlot.Base, idxSlot.Offset)

		tableBase := c.requireTempGPR()
		c.asm.EmitMovRM(amd64.MOVQ, tableBase, c.mach.VMContextRegister(), vmctx.OffsetTables)

		// vmctx.Tables is a Go slice; its header's length word sits right
		// after the data pointer (spec.md's "base, count" per-table
		// record, generalized to this port's single-table-0 MVP scope -
		// multi-table reference-types support is a Non-goal).
		count := c.requireTempGPR()
		c.asm.EmitMovRM(amd64.MOVQ, count, c.mach.VMContextRegister(), vmctx.OffsetTables+8)
		c.asm.EmitALURR(amd64.CMPQ, idx, count)
		inBounds := c.asm.NewLabel()
		c.asm.EmitJCC(amd64.CondBL, inBounds)
		c.asm.EmitUD2()
		c.asm.BindLabel(inBounds)
		c.mach.ReleaseTempGPR(count)

		// TableEntry is 16 bytes: {CodePtr uintptr, SignatureIndex uint32, _ uint32}.
		c.asm.EmitShiftImm(amd64.SHLQ, idx, 4)
		c.asm.EmitALURR(amd64.ADDQ, tableBase, idx)
		c.mach.ReleaseTempGPR(idx)

		sigReg := c.requireTempGPR()
		c.asm.EmitMovRM(amd64.MOVL, sigReg, tableBase, 8)
		c.asm.EmitALURI(amd64.CMPL, sigReg, int32(expectedSig))
		c.mach.ReleaseTempGPR(sigReg)
		sigOK := c.asm.NewLabel()
		c.asm.EmitJCC(amd64.CondEQ, sigOK)
		c.asm.EmitUD2()
		c.asm.BindLabel(sigOK)

		c.asm.EmitMovRM(amd64.MOVQ, amd64.RegAX, tableBase, 0)
		c.mach.ReleaseTempGPR(tableBase)
	})

	c.mach.ReleaseScratchSlot(idxSlot)
	for _, p := range params {
		c.releaseIfTemp(p.Loc)
	}
	if hasResult {
		c.pushValue(resultType, result)
	}
	return nil
}

// emitIntrinsicCall routes a single-argument, single-i32-result call
// through vmctx.Intrinsics (spec.md §6: "offsets for memory_size,
// memory_grow, ..."), reusing the same call machinery as a WASM call -
// memory.grow is this compiler's only intrinsic caller today.
func (c *Compiler) emitIntrinsicCall(idx int, args ...asm.Register) machine.Location {
	params := make([]callParam, len(args))
	for i, r := range args {
		params[i] = callParam{Loc: machine.GPR(r), Typ: machine.I32}
	}
	return c.emitCallSequence(params, machine.I32, true, func() {
		c.asm.EmitMovRM(amd64.MOVQ, amd64.RegAX, c.mach.VMContextRegister(), vmctx.OffsetIntrinsics)
		c.asm.EmitMovRM(amd64.MOVQ, amd64.RegAX, amd64.RegAX, int32(idx)*8)
	})
}
