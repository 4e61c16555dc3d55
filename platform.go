// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// Protection is a platform page-protection constant. Values mirror the
// Windows PAGE_* constants so PlatformOps implementations can pass them
// through without translation.
type Protection uint32

// Page protection constants, matching the Win32 PAGE_* family.
const (
	PageNoAccess         Protection = 0x01
	PageReadOnly         Protection = 0x02
	PageReadWrite        Protection = 0x04
	PageWriteCopy        Protection = 0x08
	PageExecute          Protection = 0x10
	PageExecuteRead      Protection = 0x20
	PageExecuteReadWrite Protection = 0x40
	PageExecuteWriteCopy Protection = 0x80
	PageNoCache          Protection = 0x200
)

// PlatformOps is the thin set of OS primitives the loader needs: reserving
// and protecting virtual memory, and loading/resolving/freeing system
// libraries. Every method here corresponds to one row of the platform
// calls table: alloc/protect/decommit/free virtual memory, query page
// size, load a library by name, resolve a symbol by name or ordinal, and
// free a library handle.
type PlatformOps interface {
	// Reserve reserves and commits size bytes as PAGE_READWRITE, preferably
	// at preferred. A preferred of 0 lets the OS choose the address. Returns
	// the actual base or an error wrapping ErrOutOfMemory.
	Reserve(preferred uintptr, size uint32) (uintptr, error)

	// Free releases a reservation made by Reserve.
	Free(base uintptr) error

	// Protect changes protection over [addr, addr+size) and returns an
	// error wrapping ErrProtectionFailed on failure.
	Protect(addr uintptr, size uint32, prot Protection) error

	// Decommit releases the physical backing of [addr, addr+size) while
	// keeping the address range reserved.
	Decommit(addr uintptr, size uint32) error

	// SystemInfo reports the page size and allocation granularity.
	SystemInfo() SystemInfo

	// LoadLibrary loads a system library by its ANSI name and returns a
	// platform-native handle.
	LoadLibrary(name string) (uintptr, error)

	// FreeLibrary releases a reference obtained from LoadLibrary.
	FreeLibrary(handle uintptr) error

	// ProcAddressByName resolves an exported symbol by name.
	ProcAddressByName(handle uintptr, name string) (uintptr, error)

	// ProcAddressByOrdinal resolves an exported symbol by ordinal.
	ProcAddressByOrdinal(handle uintptr, ordinal uint16) (uintptr, error)
}

// InvalidHandle reports whether h is a platform-invalid module handle: the
// external interface treats both the zero handle and all-ones as invalid.
func InvalidHandle(h uintptr) bool {
	return h == 0 || h == ^uintptr(0)
}
