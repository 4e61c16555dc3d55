// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package pe

import "syscall"

const (
	dllProcessDetach = 0
)

// runTLS invokes every TLS callback in order. A callback panicking escapes
// to the caller of Load, consistent with the "any exception propagated out
// terminates loading" rule; there is nothing to recover here on purpose.
func (m *Module) runTLS(mi *MappedImage, r TlsRunner) error {
	r.Run(mi)
	return nil
}

// attach invokes DllMain with DLL_PROCESS_ATTACH and returns its boolean
// result.
func (m *Module) attach(mi *MappedImage) (bool, error) {
	entry := mi.Base + uintptr(mi.EntryPointRVA)
	ret, _, _ := syscall.SyscallN(entry, mi.Base, dllProcessAttach, 0)
	return ret != 0, nil
}

// detach invokes DllMain with DLL_PROCESS_DETACH; its result is ignored by
// the caller per the teardown contract.
func (m *Module) detach(mi *MappedImage) (bool, error) {
	entry := mi.Base + uintptr(mi.EntryPointRVA)
	ret, _, _ := syscall.SyscallN(entry, mi.Base, dllProcessDetach, 0)
	return ret != 0, nil
}

// callEntryRaw invokes an EXE entry point with no arguments and returns its
// 32-bit result.
func (m *Module) callEntryRaw(mi *MappedImage) (int32, error) {
	entry := mi.Base + uintptr(mi.EntryPointRVA)
	ret, _, _ := syscall.SyscallN(entry)
	return int32(ret), nil
}
