package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/vmctx"
)

// memAccessInfo describes one load/store opcode's width, sign/zero
// extension, and result type, so compileLoad/compileStore can stay a
// single table-driven body instead of one function per variant.
type memAccessInfo struct {
	accessSize int32 // bytes actually touched in linear memory
	movOp      asm.Instruction
	resultType machine.ValueType
	isFloat    bool
}

func loadInfo(kind ir.OpcodeKind) (memAccessInfo, bool) {
	switch kind {
	case ir.OpI32Load:
		return memAccessInfo{4, amd64.MOVL, machine.I32, false}, true
	case ir.OpI64Load:
		return memAccessInfo{8, amd64.MOVQ, machine.I64, false}, true
	case ir.OpF32Load:
		return memAccessInfo{4, amd64.MOVL, machine.F32, true}, true
	case ir.OpF64Load:
		return memAccessInfo{8, amd64.MOVQ, machine.F64, true}, true
	case ir.OpI32Load8S:
		return memAccessInfo{1, amd64.MOVBLSX, machine.I32, false}, true
	case ir.OpI32Load8U:
		return memAccessInfo{1, amd64.MOVBLZX, machine.I32, false}, true
	case ir.OpI32Load16S:
		return memAccessInfo{2, amd64.MOVWLSX, machine.I32, false}, true
	case ir.OpI32Load16U:
		return memAccessInfo{2, amd64.MOVWLZX, machine.I32, false}, true
	case ir.OpI64Load8S:
		return memAccessInfo{1, amd64.MOVBQSX, machine.I64, false}, true
	case ir.OpI64Load8U:
		return memAccessInfo{1, amd64.MOVBQZX, machine.I64, false}, true
	case ir.OpI64Load16S:
		return memAccessInfo{2, amd64.MOVWQSX, machine.I64, false}, true
	case ir.OpI64Load16U:
		return memAccessInfo{2, amd64.MOVWQZX, machine.I64, false}, true
	case ir.OpI64Load32S:
		return memAccessInfo{4, amd64.MOVLQSX, machine.I64, false}, true
	case ir.OpI64Load32U:
		return memAccessInfo{4, amd64.MOVLQZX, machine.I64, false}, true
	default:
		return memAccessInfo{}, false
	}
}

func storeInfo(kind ir.OpcodeKind) (memAccessInfo, bool) {
	switch kind {
	case ir.OpI32Store:
		return memAccessInfo{4, amd64.MOVL, machine.I32, false}, true
	case ir.OpI64Store:
		return memAccessInfo{8, amd64.MOVQ, machine.I64, false}, true
	case ir.OpF32Store:
		return memAccessInfo{4, amd64.MOVL, machine.F32, true}, true
	case ir.OpF64Store:
		return memAccessInfo{8, amd64.MOVQ, machine.F64, true}, true
	case ir.OpI32Store8:
		return memAccessInfo{1, amd64.MOVB, machine.I32, false}, true
	case ir.OpI32Store16:
		return memAccessInfo{2, amd64.MOVW, machine.I32, false}, true
	case ir.OpI64Store8:
		return memAccessInfo{1, amd64.MOVB, machine.I64, false}, true
	case ir.OpI64Store16:
		return memAccessInfo{2, amd64.MOVW, machine.I64, false}, true
	case ir.OpI64Store32:
		return memAccessInfo{4, amd64.MOVL, machine.I64, false}, true
	default:
		return memAccessInfo{}, false
	}
}

// prepareAddress implements spec.md §4.4's memory-access helper: pops the
// WASM i32 address operand, optionally bounds-checks it against
// vmctx.MemoryBound, and leaves `addr` holding the final effective
// address (memory_base + address + static_offset) ready for a load/store
// at displacement 0. Caller is responsible for releasing the returned
// register and, via releaseIfTemp, the popped operand's original Location.
func (c *Compiler) prepareAddress(mem ir.MemArg, accessSize int32) (addr asm.Register, orig machine.Location) {
	v := c.popValue()
	orig = v.Loc
	addr = c.materializeGPR(v.Loc, machine.Size32)
	if v.Loc.IsGPR() {
		// The popped operand aliases a live register; prepareAddress
		// mutates it in place (it is about to be released anyway, and
		// nothing else acquires a temp GPR before the mutation below).
	}

	if c.cfg.needsBoundsCheck() {
		bound := c.requireTempGPR()
		c.asm.EmitMovRM(amd64.MOVQ, bound, c.mach.VMContextRegister(), vmctx.OffsetMemoryBound)

		c.emitAddImm64(addr, uint64(mem.Offset)+uint64(accessSize))
		c.asm.EmitALURR(amd64.CMPQ, addr, bound)
		c.mach.ReleaseTempGPR(bound)

		ok := c.asm.NewLabel()
		c.asm.EmitJCC(amd64.CondBE, ok)
		c.asm.EmitUD2()
		c.asm.BindLabel(ok)

		c.asm.EmitALURI(amd64.SUBQ, addr, accessSize)
	} else if mem.Offset != 0 {
		c.emitAddImm64(addr, uint64(mem.Offset))
	}

	base := c.requireTempGPR()
	c.asm.EmitMovRM(amd64.MOVQ, base, c.mach.VMContextRegister(), vmctx.OffsetMemoryBase)
	c.asm.EmitALURR(amd64.ADDQ, addr, base)
	c.mach.ReleaseTempGPR(base)

	return addr, orig
}

// releaseAddress releases the effective-address register and, if the
// original address operand was itself a temp, its backing Location -
// mirroring the release pattern every other opcodes_*.go family uses.
func (c *Compiler) releaseAddress(addr asm.Register, orig machine.Location) {
	if !orig.IsGPR() || orig.Reg != addr {
		c.mach.ReleaseTempGPR(addr)
	}
	c.releaseIfTemp(orig)
}

// emitAddImm64 emits `dst += v`, routing through a scratch GPR when v
// does not fit the Emitter's 32-bit sign-extended ALU-immediate form
// (WASM memarg offsets are a full u32, so this matters for offsets above
// 0x7fffffff).
func (c *Compiler) emitAddImm64(dst asm.Register, v uint64) {
	if v <= 0x7fffffff {
		c.asm.EmitALURI(amd64.ADDQ, dst, int32(v))
		return
	}
	tmp := c.requireTempGPR()
	c.asm.EmitMovRI64(tmp, v)
	c.asm.EmitALURR(amd64.ADDQ, dst, tmp)
	c.mach.ReleaseTempGPR(tmp)
}

// compileLoad implements the full i32/i64/f32/f64 load family, including
// the narrow sign/zero-extending variants (spec.md §4.4 "Memory access").
func (c *Compiler) compileLoad(op ir.Opcode) error {
	info, ok := loadInfo(op.Kind)
	if !ok {
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled load opcode %d", op.Kind)
	}

	addr, orig := c.prepareAddress(op.Mem, info.accessSize)

	if info.isFloat {
		x := c.requireTempXMM()
		c.emitFloatLoad(x, addr, 0, info.resultType.Size())
		c.releaseAddress(addr, orig)
		c.pushValue(info.resultType, machine.XMM(x))
		return nil
	}

	out := c.requireTempGPR()
	c.asm.EmitMovRM(info.movOp, out, addr, 0)
	c.releaseAddress(addr, orig)
	c.pushValue(info.resultType, machine.GPR(out))
	return nil
}

// compileStore implements the full store family symmetrically with
// compileLoad, truncating narrow stores via the plain-width MOV forms
// (MOVB/MOVW/MOVL write only their low bytes, which is exactly WASM's
// store8/store16/store32 truncation semantics).
func (c *Compiler) compileStore(op ir.Opcode) error {
	info, ok := storeInfo(op.Kind)
	if !ok {
		return cerr.New(cerr.UnsupportedOpcode, c.vmInstIndex, "unhandled store opcode %d", op.Kind)
	}

	value := c.popValue()

	addr, orig := c.prepareAddress(op.Mem, info.accessSize)

	if info.isFloat {
		xs := c.toXMM(value.Loc, info.resultType.Size())
		c.emitFloatStore(addr, 0, xs.Reg, info.resultType.Size())
		if !value.Loc.IsXMM() {
			c.mach.ReleaseTempXMM(xs.Reg)
		}
	} else {
		g := c.materializeGPR(value.Loc, info.resultType.Size())
		c.asm.EmitMovMR(info.movOp, addr, 0, g)
		if !value.Loc.IsGPR() {
			c.mach.ReleaseTempGPR(g)
		}
	}

	c.releaseAddress(addr, orig)
	c.releaseIfTemp(value.Loc)
	return nil
}

// compileMemorySize implements memory.size: the current size in pages is
// a pure function of vmctx.MemoryBound, so unlike memory.grow it needs no
// host intrinsic call.
func (c *Compiler) compileMemorySize() error {
	out := c.requireTempGPR()
	c.asm.EmitMovRM(amd64.MOVQ, out, c.mach.VMContextRegister(), vmctx.OffsetMemoryBound)
	c.asm.EmitShiftImm(amd64.SHRQ, out, 16) // bytes -> pages (PageSize == 1<<16)
	c.pushValue(machine.I32, machine.GPR(out))
	return nil
}

// compileMemoryGrow implements memory.grow: it may remap the linear
// memory region, so unlike every other memory op it is routed through
// the host intrinsic table (spec.md §6: "offsets for memory_size,
// memory_grow, ...") via the same call machinery compileCall uses.
func (c *Compiler) compileMemoryGrow() error {
	delta := c.popValue()
	deltaReg := c.materializeGPR(delta.Loc, machine.Size32)

	result := c.emitIntrinsicCall(vmctx.IntrinsicMemoryGrow, deltaReg)

	if !delta.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(deltaReg)
	}
	c.releaseIfTemp(delta.Loc)

	c.pushValue(machine.I32, result)
	return nil
}
