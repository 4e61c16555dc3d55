// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package pe

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// winPlatform implements PlatformOps over golang.org/x/sys/windows.
type winPlatform struct{}

// NewPlatformOps returns the real Windows-backed PlatformOps.
func NewPlatformOps() PlatformOps {
	return winPlatform{}
}

func (winPlatform) Reserve(preferred uintptr, size uint32) (uintptr, error) {
	base, err := windows.VirtualAlloc(preferred, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return base, nil
}

func (winPlatform) Free(base uintptr) error {
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}

func (winPlatform) Protect(addr uintptr, size uint32, prot Protection) error {
	var old uint32
	err := windows.VirtualProtect(addr, uintptr(size), uint32(prot), &old)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtectionFailed, err)
	}
	return nil
}

func (winPlatform) Decommit(addr uintptr, size uint32) error {
	return windows.VirtualFree(addr, uintptr(size), windows.MEM_DECOMMIT)
}

func (winPlatform) SystemInfo() SystemInfo {
	var info windows.SystemInfo
	windows.GetNativeSystemInfo(&info)
	return SystemInfo{
		PageSize:              info.PageSize,
		AllocationGranularity: info.AllocationGranularity,
	}
}

func (winPlatform) LoadLibrary(name string) (uintptr, error) {
	h, err := windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_SEARCH_SYSTEM32)
	if err != nil {
		return 0, fmt.Errorf("%w: loading %q: %v", ErrImportResolution, name, err)
	}
	return uintptr(h), nil
}

func (winPlatform) FreeLibrary(handle uintptr) error {
	if InvalidHandle(handle) {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(handle))
}

// ProcAddressByName resolves handle's export table itself rather than
// asking the OS: the HMODULE LoadLibraryEx returns is the module's own base
// address, so its export directory is read straight out of process memory
// and walked with ExportWalker the same way any other in-memory PE view is.
func (winPlatform) ProcAddressByName(handle uintptr, name string) (uintptr, error) {
	mem, edtRVA, edtSize, err := loadedModuleView(handle)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrImportResolution, name, err)
	}
	w := ExportWalker{CaseInsensitive: true}
	addr, err := w.ByName(mem, handle, edtRVA, edtSize, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrImportResolution, name, err)
	}
	return addr, nil
}

func (winPlatform) ProcAddressByOrdinal(handle uintptr, ordinal uint16) (uintptr, error) {
	mem, edtRVA, edtSize, err := loadedModuleView(handle)
	if err != nil {
		return 0, fmt.Errorf("%w: ordinal %d: %v", ErrImportResolution, ordinal, err)
	}
	var w ExportWalker
	addr, err := w.ByOrdinal(mem, handle, edtRVA, edtSize, ordinal)
	if err != nil {
		return 0, fmt.Errorf("%w: ordinal %d: %v", ErrImportResolution, ordinal, err)
	}
	return addr, nil
}
