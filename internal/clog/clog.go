// Package clog wraps zerolog with the fields internal/codegen attaches to
// every diagnostic: which function, which native offset, which position in
// the input event stream. Grounded on the wider example pack's adoption of
// zerolog as its structured-logging library of record (seen throughout its
// services); the teacher's own compiler package logs
// nothing at all (a JIT's hot path has no logging in it), so this
// package's shape follows the pack's general "one sub-logger per
// long-lived component, fields attached once via With()" convention
// rather than any specific teacher file.
package clog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns the base logger every Compiler derives its per-function
// sub-logger from. Output goes to os.Stderr; NewWithWriter takes any other
// writer.
func New() zerolog.Logger {
	return NewWithWriter(os.Stderr)
}

func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// ForFunction returns a sub-logger scoped to one function's compilation,
// tagging every subsequent event with its index.
func ForFunction(base zerolog.Logger, funcIndex uint32) zerolog.Logger {
	return base.With().Uint32("func_index", funcIndex).Logger()
}

// WithSite returns a sub-logger additionally tagging the native code
// offset and input-stream position a diagnostic pertains to, matching the
// two coordinates spec.md's StateMap indexes suspend points by.
func WithSite(l zerolog.Logger, nativeOffset int32, vmInstIndex int) zerolog.Logger {
	return l.With().
		Int32("native_offset", nativeOffset).
		Int("vm_inst_index", vmInstIndex).
		Logger()
}
