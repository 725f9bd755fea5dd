// Package amd64 is the Emitter of spec.md §4.1: it turns the closed set of
// x86-64 mnemonics into correct machine bytes, and owns the label/offset
// API used to resolve forward jumps.
//
// Grounded on the REX/ModRM encoding helpers and instruction-name
// conventions of the teacher's internal/asm/amd64/impl.go and consts.go,
// rebuilt around direct (immediate) byte emission with in-place patch
// resolution rather than the teacher's deferred linked-list-of-nodes
// encoder, because this spec's Emitter does not need the teacher's NOP
// padding / short-vs-long jump relaxation (spec.md never asks for shortest-
// encoding jumps, only for "correct" ones) - every near jump here is
// encoded as the rel32 form from the start, which keeps label resolution a
// single in-place 4-byte patch instead of an iterative fixed-point pass.
package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/onepass-dev/onepass/internal/asm"
	"github.com/onepass-dev/onepass/internal/codeseg"
)

// Size is the operand width in bits, matching spec.md §3's Size type.
type Size byte

const (
	Size8 Size = 8
	Size16 Size = 16
	Size32 Size = 32
	Size64 Size = 64
)

// Assembler is the Emitter: a single function body's worth of machine code,
// plus the labels used to resolve its internal jumps.
type Assembler struct {
	buf    asm.Buffer
	labels []*Label
}

// NewAssembler starts emitting into seg at its current end-of-buffer.
func NewAssembler(seg *codeseg.Segment) *Assembler {
	return &Assembler{buf: asm.NewBuffer(seg)}
}

// Offset returns the current write position, relative to the start of this
// Assembler's buffer (i.e. the start of the function body).
func (a *Assembler) Offset() int32 { return int32(a.buf.Len()) }

// NewLabel allocates a fresh, unbound label.
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// BindLabel binds l to the current offset and resolves every pending patch
// recorded against it.
func (a *Assembler) BindLabel(l *Label) {
	if l.bound {
		panic("amd64: label already bound")
	}
	l.offset = a.Offset()
	l.bound = true
	for _, patchAt := range l.pending {
		a.patchRel32(patchAt, l.offset)
	}
	l.pending = nil
}

// Finalize verifies every allocated label was bound. spec.md §4.1: "any
// unbound label at finalize is an internal error." Because patches are
// resolved eagerly in BindLabel, Finalize's only remaining job is this
// completeness check (spec.md §8 property 5).
func (a *Assembler) Finalize() {
	for _, l := range a.labels {
		if !l.bound {
			panic("amd64: unbound label at finalize")
		}
	}
}

// patchRel32 overwrites the rel32 field at byte offset patchAt (relative to
// this buffer) so that it points at targetOffset.
func (a *Assembler) patchRel32(patchAt int32, targetOffset int32) {
	rel := targetOffset - (patchAt + 4)
	a.buf.PatchUint32(int(patchAt), uint32(rel))
}

// writeRel32Jump writes a near jump/call opcode sequence, followed by an
// immediately-resolved or pending rel32 displacement to target.
func (a *Assembler) writeRel32Jump(opcode []byte, target *Label) {
	a.buf.Write(opcode)
	placeholderAt := a.Offset()
	if target.bound {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(target.offset-(placeholderAt+4)))
		a.buf.Write(tmp[:])
	} else {
		a.buf.Write([]byte{0, 0, 0, 0})
		target.pending = append(target.pending, placeholderAt)
	}
}

// --- REX / ModRM / SIB ---

const (
	rexBase byte = 0x40
	rexW    byte = 0x48
	rexR    byte = 0x44
	rexX    byte = 0x42
	rexB    byte = 0x41
)

// maybeRex writes a REX prefix if w is set or either operand needs the
// REX.R/X/B extension bit, and writes nothing otherwise. w must be true for
// all 64-bit-operand instructions.
func (a *Assembler) maybeRex(w bool, regExt, idxExt, rmExt bool) {
	rex := byte(0)
	if w {
		rex |= rexW
	}
	if regExt {
		rex |= rexR
	}
	if idxExt {
		rex |= rexX
	}
	if rmExt {
		rex |= rexB
	}
	if rex != 0 {
		a.buf.WriteByte(rexBase | (rex &^ rexBase))
	}
}

func modRM(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// writeMemOperand writes the ModRM(+SIB)(+disp) bytes addressing
// [baseReg + offset], matching spec.md's Location.Memory(base_gpr, offset)
// shape (no scaled index - the spec's Memory variant carries none). reg is
// the ModRM.reg field (either the other operand's register number, or an
// opcode-extension digit for group instructions).
func (a *Assembler) writeMemOperand(reg byte, baseReg asm.Register, offset int32) {
	baseNum, baseExt := encoding(baseReg)
	needsSIB := baseNum == 4 // RSP/R12 require a SIB byte to address [base]
	var mod byte
	switch {
	case offset == 0 && baseNum != 5: // RBP/R13 can't use mod=00 (it means RIP-relative/disp32-only)
		mod = 0b00
	case offset >= -128 && offset <= 127:
		mod = 0b01
	default:
		mod = 0b10
	}
	rm := baseNum
	if needsSIB {
		rm = 0b100
	}
	a.buf.WriteByte(modRM(mod, reg, rm))
	if needsSIB {
		// scale=00, index=100 (none), base=baseNum
		a.buf.WriteByte((0 << 6) | (0b100 << 3) | (baseNum & 7))
		_ = baseExt
	}
	switch mod {
	case 0b00:
		// no displacement, unless RBP/R13 forced mod=01 path below
	case 0b01:
		a.buf.WriteByte(byte(int8(offset)))
	case 0b10:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(offset))
		a.buf.Write(tmp[:])
	}
}

func fitsInt8(v int64) bool { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

func must(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("amd64: "+format, args...))
	}
}
