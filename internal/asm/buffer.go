package asm

import (
	"encoding/binary"

	"github.com/onepass-dev/onepass/internal/codeseg"
)

// Buffer is a growable byte buffer backing one function body inside a
// codeseg.Segment. It is append-only during codegen: bytes are written at
// the end, and already-written bytes are only ever overwritten in place to
// patch a previously-recorded forward jump (see Label).
//
// Grounded on the teacher's internal/asm.Buffer/CodeSegment pair, collapsed
// to the single-segment, single-writer use this spec needs (one sealed
// buffer per compiled function, appended to by exactly one Codegen).
type Buffer struct {
	seg *codeseg.Segment
	off int
}

// NewBuffer starts writing at the current end of seg.
func NewBuffer(seg *codeseg.Segment) Buffer {
	return Buffer{seg: seg, off: seg.Len()}
}

// Len returns the number of bytes written since the buffer was created.
func (b Buffer) Len() int { return b.seg.Len() - b.off }

// Bytes returns the bytes written to this buffer so far.
func (b Buffer) Bytes() []byte { return b.seg.Bytes()[b.off:] }

// WriteByte appends a single byte.
func (b Buffer) WriteByte(c byte) { b.seg.Append([]byte{c}) }

// Write appends p.
func (b Buffer) Write(p []byte) { b.seg.Append(p) }

// PatchUint32 overwrites the 4 bytes at the given buffer-relative offset.
// Used to resolve a forward jump once its target label is bound.
func (b Buffer) PatchUint32(atOffset int, v uint32) {
	binary.LittleEndian.PutUint32(b.seg.Bytes()[b.off+atOffset:], v)
}

// PatchByte overwrites a single byte at the given buffer-relative offset.
func (b Buffer) PatchByte(atOffset int, v byte) {
	b.seg.Bytes()[b.off+atOffset] = v
}
