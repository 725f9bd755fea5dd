// Package codeseg owns the growable-then-sealed executable memory region
// that backs the code generated by internal/codegen. During codegen it is a
// plain read/write byte slice; once sealed it becomes a read+execute memory
// mapping, published for invocation through internal/trampoline.
//
// Grounded on the teacher's internal/asm.CodeSegment (the non-test half of
// that file survived in the pack), adapted to use golang.org/x/sys/unix
// directly rather than an internal platform-abstraction package, since this
// spec targets x86-64/Linux-and-Darwin only (spec.md Non-goals: "any target
// other than x86-64").
package codeseg

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Segment is a single growable region of RW memory that is sealed into RX
// memory exactly once, by Seal.
type Segment struct {
	code   []byte // mmap'd RW region while building, RX after Seal
	size   int    // bytes written so far
	sealed bool
}

// New allocates an empty segment. The backing mapping is created lazily on
// first write.
func New() *Segment { return &Segment{} }

// Len returns the number of bytes written so far.
func (s *Segment) Len() int { return s.size }

// Bytes returns the written prefix of the segment.
func (s *Segment) Bytes() []byte { return s.code[:s.size:s.size] }

// Addr returns the address of byte 0, valid only after Seal.
func (s *Segment) Addr() uintptr {
	if len(s.code) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.code[0]))
}

// Append writes p at the end of the segment, growing the mapping if needed.
func (s *Segment) Append(p []byte) {
	if s.sealed {
		panic("codeseg: write to sealed segment")
	}
	n := len(p)
	if s.size+n > len(s.code) {
		s.grow(s.size + n)
	}
	copy(s.code[s.size:s.size+n], p)
	s.size += n
}

func (s *Segment) grow(want int) {
	newSize := pageRound(want)
	if len(s.code) >= newSize {
		return
	}
	for len(s.code) < newSize {
		if len(s.code) == 0 {
			newSize = pageRound(max(want, 65536))
			break
		}
		newSize *= 2
	}
	mapped, err := unix.Mmap(-1, 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		panic(fmt.Errorf("codeseg: mmap %d bytes: %w", newSize, err))
	}
	copy(mapped, s.code)
	if s.code != nil {
		_ = unix.Munmap(s.code[:cap(s.code)])
	}
	s.code = mapped
}

// Seal makes the written prefix of the segment executable and read-only,
// and forbids further writes. It must be called exactly once per segment,
// matching spec.md's "executable buffer is created empty, appended-only
// during codegen, and sealed exactly once" lifecycle invariant.
func (s *Segment) Seal() error {
	if s.sealed {
		return fmt.Errorf("codeseg: already sealed")
	}
	if len(s.code) == 0 {
		s.sealed = true
		return nil
	}
	if err := unix.Mprotect(s.code, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("codeseg: mprotect RX: %w", err)
	}
	s.sealed = true
	return nil
}

// Unmap releases the underlying mapping. Safe to call on a sealed or
// unsealed segment.
func (s *Segment) Unmap() error {
	if s.code == nil {
		return nil
	}
	err := unix.Munmap(s.code[:cap(s.code)])
	s.code = nil
	s.size = 0
	s.sealed = false
	return err
}

func pageRound(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
