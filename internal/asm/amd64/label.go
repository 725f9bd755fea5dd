package amd64

// Label is an opaque forward-reference target, matching spec.md §4.1's
// Label policy verbatim: NewLabel returns it unbound, BindLabel binds it at
// the assembler's current offset, and any jump emitted against it while
// still unbound is recorded as a patch site resolved the instant it binds.
// Grounded on the `a.get_label()`/`a.emit_label(label)` API visible
// throughout original_source/.../codegen_x64.rs (the dynasm-style label
// convention spec.md is describing).
type Label struct {
	bound   bool
	offset  int32
	pending []int32 // buffer-relative offsets of rel32 fields awaiting this label
}

// Bound reports whether the label has been placed in the instruction stream.
func (l *Label) Bound() bool { return l.bound }
