// Package codegen is the Codegen of spec.md §4.4: the driver that walks
// the internal/ir event stream and, for each event, asks internal/machine
// for Locations, internal/statemap to record suspend points, and
// internal/asm/amd64 to emit the bytes.
//
// Grounded on the teacher's compiler interface method set
// (internal/engine/compiler/compiler.go: one compileXxx method per
// wazeroir operation kind, a single running Compiler holding the
// in-progress function's state) for the overall per-opcode dispatch
// shape, but reimplemented around System-V frame-pointer-relative
// Locations and explicit suspend-point bookkeeping throughout, following
// original_source's codegen_x64.rs instead of the teacher's Go-slice
// value stack - the one place this repo replaces the teacher's WHAT
// (its runtime calling convention) while keeping its HOW (one compileXxx
// per opcode, driven by a single top-level dispatch loop).
package codegen

import (
	"github.com/rs/zerolog"

	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/clog"
	"github.com/onepass-dev/onepass/internal/codeseg"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/statemap"
	"github.com/onepass-dev/onepass/internal/vmctx"
)

// valueStackEntry is one live WASM operand-stack value: its type and
// current Location, as handed out by internal/machine.
type valueStackEntry struct {
	Type machine.ValueType
	Loc  machine.Location
}

// Compiler is one function body's worth of Codegen state. A fresh Compiler
// is created per function (spec.md §5: "not reentrant per function").
type Compiler struct {
	cfg *Config
	log zerolog.Logger

	asm  *amd64.Assembler
	mach *machine.Machine
	sm   *statemap.FunctionStateMap

	frames frameStack
	values []valueStackEntry

	localTypes []machine.ValueType
	localLocs  []machine.Location

	funcIndex   uint32
	vmInstIndex int

	unreachableDepth int

	bodyStartLabel *amd64.Label
	epilogueLabel  *amd64.Label

	resultTypes []ir.ValType
	numParams   int
}

// NewCompiler begins compiling funcIndex into seg, starting at seg's
// current write position. localTypes lists every local in declaration
// order with parameters first (the WASM convention), numParams says how
// many of those are parameters rather than plain locals. resultTypes names
// the function's own return arity/types, the same shape compileBlock/
// compileLoop/compileIf already take from their own opcode immediates -
// the outermost ControlFrame Prologue pushes carries these, so a
// top-level `return`/fallthrough `end` knows whether (and how) to move a
// result into RAX/XMM0.
func NewCompiler(seg *codeseg.Segment, cfg *Config, baseLog zerolog.Logger, funcIndex uint32, localTypes []machine.ValueType, numParams int, resultTypes []ir.ValType) *Compiler {
	if cfg == nil {
		cfg = NewConfig()
	}
	a := amd64.NewAssembler(seg)
	c := &Compiler{
		cfg:         cfg,
		log:         clog.ForFunction(baseLog, funcIndex),
		asm:         a,
		mach:        machine.New(),
		funcIndex:   funcIndex,
		localTypes:  localTypes,
		numParams:   numParams,
		resultTypes: resultTypes,
	}
	c.sm = statemap.New(c.mach.State().Clone(), a.Offset())
	return c
}

// Prologue emits spec.md §4.4's function entry sequence: push FP, set FP,
// an optional stack-bound check, init_locals, record the Vmctx
// MachineValue, reserve the shadow area, record the initial diff, push the
// outermost ControlFrame, and emit the first interrupt-poll suspend
// point.
func (c *Compiler) Prologue() error {
	c.asm.EmitPUSHQ(amd64.RegBP)
	c.asm.EmitMovRR(amd64.MOVQ, amd64.RegBP, amd64.RegSP)

	if c.cfg.stackBoundCheck {
		c.emitStackBoundCheck()
	}

	c.initLocals()

	if c.cfg.shadowSpaceBytes > 0 {
		c.asm.EmitALURI(amd64.SUBQ, amd64.RegSP, c.cfg.shadowSpaceBytes)
	}

	outer := &ControlFrame{
		Kind:            FramePlain,
		Label:           c.asm.NewLabel(),
		ResultTypes:     c.resultTypes,
		EntryStackDepth: 0,
		StateSnapshot:   c.mach.State().Clone(),
		DiffID:          -1,
	}
	c.frames.push(outer)
	c.epilogueLabel = outer.Label

	c.emitInterruptPoll()
	return nil
}

// initLocals reserves a Location for every declared local. Non-parameter
// locals are zero-initialized per the WASM spec; parameters instead
// receive the incoming argument the caller placed in the mirror-image
// register/stack slot emitCallSequence uses (spec.md §4.4.1 step 7's
// "first-parameter register" is vmctx; WASM params follow it through the
// same intArgGPRs/floatArgXMMs streams every call site fills).
func (c *Compiler) initLocals() {
	reqs := make([]machine.Request, len(c.localTypes))
	for i, t := range c.localTypes {
		reqs[i] = machine.Request{Type: t, Value: machine.MVWasmLocal(uint32(i)), Zeroed: i >= c.numParams}
	}
	c.localLocs = c.mach.AcquireLocations(c.asm, reqs)

	// Two passes, not one: localLocs was just allocated from the same free
	// pool intArgGPRs/floatArgXMMs draw from, so a parameter's destination
	// register can alias a later parameter's source register. Snapshotting
	// every source into a scratch first (guaranteed disjoint from every
	// dst, since the dsts already came out of the free pool) avoids
	// clobbering an argument before it's been read - the same hazard
	// spec.md §4.4.1 step 6 calls out for the caller side, mirrored here
	// for the callee side.
	type incomingParam struct {
		dst machine.Location
		typ machine.ValueType
		tmp machine.Location
	}
	var incoming []incomingParam
	intIdx, floatIdx, stackIdx := 0, 0, 0
	for i := 0; i < c.numParams; i++ {
		t := c.localTypes[i]
		var src machine.Location
		switch {
		case t.IsFloat() && floatIdx < len(floatArgXMMs):
			src = machine.XMM(floatArgXMMs[floatIdx])
			floatIdx++
		case t.IsFloat():
			src = machine.Memory(amd64.RegBP, 16+int32(stackIdx)*8)
			stackIdx++
		case !t.IsFloat() && intIdx < len(intArgGPRs):
			src = machine.GPR(intArgGPRs[intIdx])
			intIdx++
		default:
			src = machine.Memory(amd64.RegBP, 16+int32(stackIdx)*8)
			stackIdx++
		}
		incoming = append(incoming, incomingParam{dst: c.localLocs[i], typ: t, tmp: c.copyLocation(src, t)})
	}
	for _, p := range incoming {
		c.storeInto(p.dst, p.typ, p.tmp)
		c.releaseIfTemp(p.tmp)
	}
}

// emitStackBoundCheck compares SP against vmctx.StackLowerBound and traps
// if execution has grown the frame past the host-provided limit.
func (c *Compiler) emitStackBoundCheck() {
	tmp, ok := c.mach.AcquireTempGPR()
	if !ok {
		panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp GPR for stack bound check"))
	}
	c.asm.EmitMovRM(amd64.MOVQ, tmp, c.mach.VMContextRegister(), vmctx.OffsetStackLowerBound)
	c.asm.EmitALURR(amd64.CMPQ, amd64.RegSP, tmp)
	ok2 := c.asm.NewLabel()
	c.asm.EmitJCC(amd64.CondAE, ok2)
	c.asm.EmitUD2()
	c.asm.BindLabel(ok2)
	c.mach.ReleaseTempGPR(tmp)
}

// emitInterruptPoll emits a loop-header-style suspend point: load the
// interrupt signal word and branch-free fall through, trusting the host to
// unmap that page to request a pause (spec.md §5).
func (c *Compiler) emitInterruptPoll() {
	tmp, ok := c.mach.AcquireTempGPR()
	if !ok {
		panic(cerr.New(cerr.AllocatorExhausted, c.vmInstIndex, "no temp GPR for interrupt poll"))
	}
	c.asm.EmitMovRM(amd64.MOVQ, tmp, c.mach.VMContextRegister(), vmctx.OffsetInterruptSignalMem)
	c.asm.EmitMovRM(amd64.MOVQ, tmp, tmp, 0)
	c.mach.ReleaseTempGPR(tmp)
	c.recordSuspend(statemap.Loop)
}

// recordSuspend files a suspend point of the given kind at the assembler's
// current offset against the innermost enclosing ControlFrame, and
// advances that frame's diff chain.
func (c *Compiler) recordSuspend(kind statemap.SuspendKind) {
	f := c.frames.top()
	off := c.asm.Offset()
	cur := c.mach.State().Clone()
	cur.VMInstructionIndex = c.vmInstIndex
	id := c.sm.Record(kind, off, off, f.StateSnapshot, f.DiffID, cur)
	f.StateSnapshot = cur
	f.DiffID = id
}

// Epilogue emits spec.md §4.4's function exit sequence: restore frame
// slots, pop FP, return, and a trailing UD2 safety net that should never
// execute (any fall-through past RET is an internal-invariant violation).
func (c *Compiler) Epilogue() {
	c.asm.BindLabel(c.epilogueLabel)
	c.asm.EmitMovRR(amd64.MOVQ, amd64.RegSP, amd64.RegBP)
	c.asm.EmitPOPQ(amd64.RegBP)
	c.asm.EmitRET()
	c.asm.EmitUD2()
}

// Finalize resolves every label and returns the completed StateMap.
func (c *Compiler) Finalize() *statemap.FunctionStateMap {
	c.asm.Finalize()
	return c.sm
}

// Compile dispatches one event. See opcodes_*.go for the per-family
// implementations.
func (c *Compiler) Compile(ev ir.Event) error {
	defer func() { c.vmInstIndex++ }()

	if ev.Kind == ir.EventInternal {
		return c.compileInternal(ev.Internal)
	}

	if c.frames.len() > 0 && c.frames.top().Unreachable {
		return c.compileUnreachableTracking(ev.Opcode)
	}

	return c.compileOpcode(ev.Opcode)
}

func (c *Compiler) compileInternal(ev ir.InternalEvent) error {
	switch ev.Kind {
	case ir.FunctionBegin:
		c.funcIndex = ev.FunctionIndex
		return c.Prologue()
	case ir.FunctionEnd:
		c.Epilogue()
		return nil
	case ir.Breakpoint:
		// Filed into the global breakpoint map by the caller once this
		// function's native offset is known (spec.md §9): here we only
		// mark the current offset as a Trappable suspend point so the
		// host can resolve "which breakpoint fired" after the fact.
		c.recordSuspend(statemap.Trappable)
		return nil
	case ir.GetInternal:
		return c.compileGetInternal(ev.InternalSlotIndex)
	case ir.SetInternal:
		return c.compileSetInternal(ev.InternalSlotIndex)
	default:
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unknown internal event kind %d", ev.Kind)
	}
}

// compileUnreachableTracking consumes (but does not emit code for) an
// event while the innermost frame is past an `unreachable`, except for the
// control-flow events that still affect frame bookkeeping (spec.md §4.4:
// "skip emission while positive but still consume events").
func (c *Compiler) compileUnreachableTracking(op ir.Opcode) error {
	switch op.Kind {
	case ir.OpBlock, ir.OpLoop, ir.OpIf:
		c.unreachableDepth++
		c.frames.push(&ControlFrame{
			Kind:            controlKindOf(op.Kind),
			Unreachable:     true,
			EntryStackDepth: len(c.values),
		})
		return nil
	case ir.OpElse:
		return nil
	case ir.OpEnd:
		if c.unreachableDepth > 0 {
			c.unreachableDepth--
			c.frames.pop()
			if c.frames.len() == 0 {
				return nil
			}
			c.frames.top().Unreachable = false
			return nil
		}
		return c.compileEnd()
	default:
		return nil
	}
}

func controlKindOf(k ir.OpcodeKind) ControlFrameKind {
	switch k {
	case ir.OpLoop:
		return FrameLoop
	case ir.OpIf:
		return FrameIf
	default:
		return FramePlain
	}
}

func (c *Compiler) pushValue(t machine.ValueType, loc machine.Location) {
	c.values = append(c.values, valueStackEntry{Type: t, Loc: loc})
}

func (c *Compiler) popValue() valueStackEntry {
	n := len(c.values)
	v := c.values[n-1]
	c.values = c.values[:n-1]
	return v
}

func (c *Compiler) peekValue() valueStackEntry {
	return c.values[len(c.values)-1]
}
