// Package trampoline is the collaborator spec.md §1 scopes as "out of
// scope: host-call trampoline (ABI only)." It implements only the
// direction spec.md §6 actually specifies the ABI for - invoking a
// compiled function from the host - via a small Go-assembly stub
// (trampoline_amd64.s) that marshals a host-side argument slice into the
// System V AMD64 calling convention the rest of this compiler assumes.
package trampoline

import (
	"unsafe"

	"github.com/onepass-dev/onepass/internal/vmctx"
)

// rawInvoke is implemented in trampoline_amd64.s.
func rawInvoke(entry uintptr, vmctxPtr uintptr, argv *uint64, argc int32) uint64

// Invoke calls the compiled function at entry with the given VMContext and
// argument words, per spec.md §6's Invocation ABI: "host trampoline stub
// receives (arg_vec_ptr, arg_vec_end, vmctx_ptr, target_fn_ptr), loads ≤6
// args into regs + pushes rest right-to-left (SysV), aligns SP to 16,
// calls target, returns result word."
func Invoke(entry uintptr, ctx *vmctx.VMContext, args []uint64) uint64 {
	var argvPtr *uint64
	if len(args) > 0 {
		argvPtr = &args[0]
	}
	return rawInvoke(entry, uintptr(unsafe.Pointer(ctx)), argvPtr, int32(len(args)))
}
