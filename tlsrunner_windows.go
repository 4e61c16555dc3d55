// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package pe

import "syscall"

const dllProcessAttach = 1

// Run invokes every TLS callback found in mi with (base, DLL_PROCESS_ATTACH,
// null), in array order. A callback panicking (the Windows equivalent of an
// unhandled SEH exception escaping it) aborts the remaining callbacks and
// propagates to the caller of Run.
func (r TlsRunner) Run(mi *MappedImage) {
	callbacks := r.Callbacks(mi.mem, mi.Base, mi.TLSDirRVA, mi.TLSDirSize)
	for _, cb := range callbacks {
		syscall.SyscallN(uintptr(cb), mi.Base, dllProcessAttach, 0)
	}
}
