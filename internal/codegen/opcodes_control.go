package codegen

import (
	"github.com/onepass-dev/onepass/internal/asm/amd64"
	"github.com/onepass-dev/onepass/internal/cerr"
	"github.com/onepass-dev/onepass/internal/ir"
	"github.com/onepass-dev/onepass/internal/machine"
	"github.com/onepass-dev/onepass/internal/statemap"
)

// compileUnreachable emits an explicit trap and marks the innermost frame
// unreachable: spec.md §4.4's unreachable-depth counter starts here, so
// every event up to the matching `end` is consumed but not codegen'd.
func (c *Compiler) compileUnreachable() error {
	c.asm.EmitUD2()
	c.recordSuspend(statemap.Trappable)
	c.frames.top().Unreachable = true
	return nil
}

// compileBlock pushes a forward-labeled frame with no entry-time code -
// spec.md's sketch gives block no special entry sequence beyond the frame
// push itself.
func (c *Compiler) compileBlock(op ir.Opcode) error {
	parent := c.frames.top()
	f := &ControlFrame{
		Kind:            FramePlain,
		Label:           c.asm.NewLabel(),
		ResultTypes:     op.ResultTypes,
		EntryStackDepth: len(c.values),
		StateSnapshot:   c.mach.State().Clone(),
		DiffID:          parent.DiffID,
	}
	c.frames.push(f)
	return nil
}

// compileLoop pushes a frame whose ContinueLabel is bound immediately,
// right before the loop-header interrupt poll - a `br` back to this frame
// re-enters at the poll, so every iteration still observes it.
func (c *Compiler) compileLoop(op ir.Opcode) error {
	parent := c.frames.top()
	f := &ControlFrame{
		Kind:            FrameLoop,
		ContinueLabel:   c.asm.NewLabel(),
		ResultTypes:     op.ResultTypes,
		EntryStackDepth: len(c.values),
		StateSnapshot:   c.mach.State().Clone(),
		DiffID:          parent.DiffID,
	}
	c.frames.push(f)
	c.asm.BindLabel(f.ContinueLabel)
	c.emitInterruptPoll()
	return nil
}

// compileIf pops the condition, jumps to an else/end label on false, and
// pushes an If frame carrying both labels - grounded on original_source's
// Operator::If (codegen_x64.rs): the false-jump target and the frame's
// end label are allocated together up front, since the decoder cannot
// tell us yet whether an `else` will appear.
func (c *Compiler) compileIf(op ir.Opcode) error {
	cond := c.popValue()
	condReg := c.materializeGPR(cond.Loc, machine.Size32)

	elseLabel := c.asm.NewLabel()
	endLabel := c.asm.NewLabel()

	c.asm.EmitALURI(amd64.CMPL, condReg, 0)
	c.asm.EmitJCC(amd64.CondEQ, elseLabel)

	if !cond.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(condReg)
	}
	c.releaseIfTemp(cond.Loc)

	parent := c.frames.top()
	f := &ControlFrame{
		Kind:            FrameIf,
		Label:           endLabel,
		ElseLabel:       elseLabel,
		If:              IfPending,
		ResultTypes:     op.ResultTypes,
		EntryStackDepth: len(c.values),
		StateSnapshot:   c.mach.State().Clone(),
		DiffID:          parent.DiffID,
	}
	c.frames.push(f)
	return nil
}

// compileElse closes the then-arm of an If frame: moves its result (if
// any) into the ABI result slot, releases the then-arm's values, jumps
// over the else-arm to the frame's end label, then binds the else label
// the original `if` jumped to on a false condition.
func (c *Compiler) compileElse() error {
	f := c.frames.top()
	if f.If != IfPending {
		return cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "else without a pending if")
	}

	if len(f.ResultTypes) > 0 {
		v := c.peekValue()
		c.moveIntoABIResult(v.Loc, valTypeToMachine(f.ResultTypes[0]))
	}
	c.releaseValuesAbove(f.EntryStackDepth)

	c.asm.EmitJMP(f.Label)
	c.asm.BindLabel(f.ElseLabel)
	f.If = IfElse
	return nil
}

// compileEnd pops the innermost frame, binds its end label (loop frames
// have none - nothing ever branches to a loop's end by depth), finishes
// an else-less If's else label, and, if the frame carries a result,
// materializes it from the ABI result slot into a fresh stack Location.
func (c *Compiler) compileEnd() error {
	f := c.frames.pop()
	wasUnreachable := f.Unreachable

	if !wasUnreachable && len(f.ResultTypes) > 0 {
		v := c.peekValue()
		c.moveIntoABIResult(v.Loc, valTypeToMachine(f.ResultTypes[0]))
	}

	if c.frames.len() == 0 {
		// The function body's own outermost frame: Epilogue (triggered by
		// the following FunctionEnd internal event) does the rest,
		// including binding f.Label, which is c.epilogueLabel.
		return nil
	}

	c.releaseValuesAbove(f.EntryStackDepth)

	if f.Kind != FrameLoop {
		c.asm.BindLabel(f.Label)
	}
	if f.If == IfPending {
		c.asm.BindLabel(f.ElseLabel)
	}

	if len(f.ResultTypes) > 0 {
		t := valTypeToMachine(f.ResultTypes[0])
		loc := c.mach.AcquireLocations(c.asm, []machine.Request{
			{Type: t, Value: machine.MVWasmStack(len(c.values))},
		})[0]
		c.moveFromABIResult(loc, t)
		c.pushValue(t, loc)
	}
	return nil
}

// releaseValuesAbove fully releases every value-stack entry above depth
// and truncates the value stack to it - spec.md invariant 4's "ControlFrame
// depth is a lower bound" enforced at the one point a frame's scope closes.
func (c *Compiler) releaseValuesAbove(depth int) {
	if depth > len(c.values) {
		return
	}
	tail := make([]machine.Location, 0, len(c.values)-depth)
	for _, v := range c.values[depth:] {
		tail = append(tail, v.Loc)
	}
	c.mach.ReleaseLocations(tail)
	c.values = c.values[:depth]
}

// releaseValuesAboveKeepState is releaseValuesAbove's branch-edge sibling:
// the allocator bookkeeping is freed (so fallthrough code can reuse the
// registers/slots) but MachineState is left alone, since a suspend point
// recorded at the jump itself must still reconstruct the pre-branch state
// (spec.md §4.2: "release_locations_keep_state ... used on branches: the
// taken path still sees the values").
func (c *Compiler) releaseValuesAboveKeepState(depth int) {
	if depth > len(c.values) {
		return
	}
	tail := make([]machine.Location, 0, len(c.values)-depth)
	for _, v := range c.values[depth:] {
		tail = append(tail, v.Loc)
	}
	c.mach.ReleaseLocationsKeepState(tail)
}

// moveIntoABIResult moves loc's value into this port's fixed single-result
// convention register (RAX for integers, XMM0 for floats - the same one
// emitCallSequence reads a callee's result out of), for a branch or
// function exit carrying a value.
func (c *Compiler) moveIntoABIResult(loc machine.Location, t machine.ValueType) {
	if t.IsFloat() {
		xs := c.toXMM(loc, t.Size())
		c.emitXMMMove(amd64.RegX0, xs.Reg, t)
		if !loc.IsXMM() {
			c.mach.ReleaseTempXMM(xs.Reg)
		}
		return
	}
	movOp := amd64.MOVL
	if t.Size() == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch {
	case loc.IsGPR():
		c.asm.EmitMovRR(movOp, amd64.RegAX, loc.Reg)
	case loc.IsMemory():
		c.asm.EmitMovRM(movOp, amd64.RegAX, loc.Base, loc.Offset)
	case loc.IsImm():
		c.materializeInto(amd64.RegAX, t.Size(), loc)
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable branch result kind %d", loc.Kind))
	}
}

// moveFromABIResult is moveIntoABIResult's mirror, used once control
// reaches a frame's end label and the carried value needs a real stack
// Location again.
func (c *Compiler) moveFromABIResult(dst machine.Location, t machine.ValueType) {
	if t.IsFloat() {
		switch dst.Kind {
		case machine.LocationXMM:
			c.emitXMMMove(dst.Reg, amd64.RegX0, t)
		case machine.LocationMemory:
			c.emitFloatStore(dst.Base, dst.Offset, amd64.RegX0, t.Size())
		default:
			panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "float result in non-float location kind %d", dst.Kind))
		}
		return
	}
	movOp := amd64.MOVL
	if t.Size() == machine.Size64 {
		movOp = amd64.MOVQ
	}
	switch dst.Kind {
	case machine.LocationGPR:
		c.asm.EmitMovRR(movOp, dst.Reg, amd64.RegAX)
	case machine.LocationMemory:
		c.asm.EmitMovMR(movOp, dst.Base, dst.Offset, amd64.RegAX)
	default:
		panic(cerr.New(cerr.IllFormedSequence, c.vmInstIndex, "unencodable result destination kind %d", dst.Kind))
	}
}

// emitBranchTo implements the shared tail of br/br_if/br_table targeting
// frame f: move a carried result into the ABI slot (skipped for a loop
// target - branching to a loop re-enters it, it never "returns" a value),
// release every value above the target's entry depth keeping MachineState
// intact, then jump to the frame's continuation.
func (c *Compiler) emitBranchTo(f *ControlFrame) {
	if f.Kind != FrameLoop && len(f.ResultTypes) > 0 && len(c.values) > 0 {
		v := c.peekValue()
		c.moveIntoABIResult(v.Loc, valTypeToMachine(f.ResultTypes[0]))
	}
	c.releaseValuesAboveKeepState(f.EntryStackDepth)

	target := f.Label
	if f.Kind == FrameLoop {
		target = f.ContinueLabel
	}
	c.asm.EmitJMP(target)
}

// compileBr implements an unconditional branch: spec.md §4.4's "br d
// resolves depth-d frame ... release locations (keep-state variant);
// jump." Unreachable past this point, like compileUnreachable.
func (c *Compiler) compileBr(op ir.Opcode) error {
	f := c.frames.at(op.Depth)
	c.emitBranchTo(f)
	c.frames.top().Unreachable = true
	return nil
}

// compileBrIf brackets compileBr's sequence in a compare-jump-around:
// fallthrough ("after") is taken when the condition is zero, otherwise the
// branch fires. Reachable either way, unlike br.
func (c *Compiler) compileBrIf(op ir.Opcode) error {
	cond := c.popValue()
	condReg := c.materializeGPR(cond.Loc, machine.Size32)

	after := c.asm.NewLabel()
	c.asm.EmitALURI(amd64.CMPL, condReg, 0)
	c.asm.EmitJCC(amd64.CondEQ, after)

	if !cond.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(condReg)
	}
	c.releaseIfTemp(cond.Loc)

	f := c.frames.at(op.Depth)
	c.emitBranchTo(f)

	c.asm.BindLabel(after)
	return nil
}

// compileBrTable implements spec.md §4.4's br_table sketch: a bound check
// (trap-free; out-of-range falls to the default target, never traps),
// then an indexed jump through a table of fixed-size JMP stubs computed
// via a RIP-relative LEA - grounded on original_source's BrTable arm
// (emit_lea_label + emit_jmp_location), adapted to this Emitter's
// always-5-byte rel32 JMP encoding.
func (c *Compiler) compileBrTable(op ir.Opcode) error {
	idxVal := c.popValue()
	idx := c.materializeGPR(idxVal.Loc, machine.Size32)

	n := len(op.Labels)
	defaultBr := c.asm.NewLabel()
	c.asm.EmitALURI(amd64.CMPL, idx, int32(n))
	c.asm.EmitJCC(amd64.CondAE, defaultBr)

	tableLabel := c.asm.NewLabel()
	tableBase := c.requireTempGPR()
	c.asm.EmitLEALabel(tableBase, tableLabel)
	// idx *= 5 (stub size): idx*4 via shift, + idx once more.
	scaled := c.requireTempGPR()
	c.asm.EmitMovRR(amd64.MOVL, scaled, idx)
	c.asm.EmitShiftImm(amd64.SHLL, scaled, 2)
	c.asm.EmitALURR(amd64.ADDL, scaled, idx)
	c.asm.EmitALURR(amd64.ADDQ, tableBase, scaled)
	c.mach.ReleaseTempGPR(scaled)
	c.asm.EmitJMPReg(tableBase)
	c.mach.ReleaseTempGPR(tableBase)

	if !idxVal.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(idx)
	}
	c.releaseIfTemp(idxVal.Loc)

	stubs := make([]*amd64.Label, n)
	for i, depth := range op.Labels {
		stubs[i] = c.asm.NewLabel()
		c.asm.BindLabel(stubs[i])
		c.emitBranchTo(c.frames.at(depth))
	}

	c.asm.BindLabel(defaultBr)
	c.emitBranchTo(c.frames.at(op.Default))

	c.asm.BindLabel(tableLabel)
	for _, s := range stubs {
		c.asm.EmitJMP(s)
	}

	c.frames.top().Unreachable = true
	return nil
}

// compileReturn implements a branch to the function's outermost frame -
// the same release/jump sequence as br, targeting depth
// len(frames)-1 (the frame Prologue pushed).
func (c *Compiler) compileReturn() error {
	f := c.frames.at(uint32(c.frames.len() - 1))
	c.emitBranchTo(f)
	c.frames.top().Unreachable = true
	return nil
}

// compileDrop discards the top value, releasing its Location.
func (c *Compiler) compileDrop() error {
	v := c.popValue()
	c.releaseIfTemp(v.Loc)
	return nil
}

// compileSelect implements spec.md §4.4's select sketch: "pop condition,
// two values; emit compare-against-zero, conditional jump over a mov;
// label; mov the other; end label."
func (c *Compiler) compileSelect() error {
	cond := c.popValue()
	vb := c.popValue()
	va := c.popValue()

	condReg := c.materializeGPR(cond.Loc, machine.Size32)
	c.asm.EmitALURI(amd64.CMPL, condReg, 0)
	if !cond.Loc.IsGPR() {
		c.mach.ReleaseTempGPR(condReg)
	}
	c.releaseIfTemp(cond.Loc)

	t := va.Type
	isFloat := t.IsFloat()

	var out machine.Location
	zeroLabel := c.asm.NewLabel()
	endLabel := c.asm.NewLabel()

	if isFloat {
		x := c.requireTempXMM()
		xa := c.toXMM(va.Loc, t.Size())
		c.asm.EmitJCC(amd64.CondEQ, zeroLabel)
		c.emitXMMMove(x, xa.Reg, t)
		c.asm.EmitJMP(endLabel)
		c.asm.BindLabel(zeroLabel)
		xb := c.toXMM(vb.Loc, t.Size())
		c.emitXMMMove(x, xb.Reg, t)
		c.asm.BindLabel(endLabel)
		if !va.Loc.IsXMM() {
			c.mach.ReleaseTempXMM(xa.Reg)
		}
		if !vb.Loc.IsXMM() {
			c.mach.ReleaseTempXMM(xb.Reg)
		}
		out = machine.XMM(x)
	} else {
		g := c.requireTempGPR()
		c.asm.EmitJCC(amd64.CondEQ, zeroLabel)
		c.storeInto(machine.GPR(g), t, va.Loc)
		c.asm.EmitJMP(endLabel)
		c.asm.BindLabel(zeroLabel)
		c.storeInto(machine.GPR(g), t, vb.Loc)
		c.asm.BindLabel(endLabel)
		out = machine.GPR(g)
	}

	c.releaseIfTemp(va.Loc)
	c.releaseIfTemp(vb.Loc)
	c.pushValue(t, out)
	return nil
}
