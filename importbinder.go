// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "fmt"

// SymbolResolver is the subset of PlatformOps the ImportBinder needs to
// load modules and resolve symbols against them. Kept separate from
// PlatformOps so import binding can be exercised with a fake resolver
// independent of virtual-memory concerns.
type SymbolResolver interface {
	LoadLibrary(name string) (uintptr, error)
	FreeLibrary(handle uintptr) error
	ProcAddressByName(handle uintptr, name string) (uintptr, error)
	ProcAddressByOrdinal(handle uintptr, ordinal uint16) (uintptr, error)
}

// bindOrdinalFlag32/64 is the high bit marking a thunk value as an ordinal
// rather than a name-table RVA. Kept distinct from imports.go's
// imageOrdinalFlag32/64 (same bits; the 32-bit one is a uint32 there) since that pair belongs to
// the descriptive import-table parser and this one to live thunk binding.
const (
	bindOrdinalFlag32 = uint64(0x80000000)
	bindOrdinalFlag64 = uint64(0x8000000000000000)
)

// ImportBinder walks the import descriptor table of a mapped image and
// binds every thunk slot to a resolved function address.
type ImportBinder struct {
	Resolver SymbolResolver
	Is64     bool
}

// Bind iterates import descriptors at [dirRVA, dirRVA+dirSize) against mem,
// loading each referenced module and resolving every thunk. It returns the
// ordered list of loaded module handles. On any resolution failure it
// unwinds: every handle loaded during this call is freed, in insertion
// order, before returning the wrapped error and a nil handle list.
func (b ImportBinder) Bind(mem []byte, dirRVA, dirSize uint32) ([]uintptr, error) {
	var handles []uintptr

	unwind := func(err error) ([]uintptr, error) {
		for _, h := range handles {
			_ = b.Resolver.FreeLibrary(h)
		}
		return nil, err
	}

	descSize := uint32(20) // sizeof(IMAGE_IMPORT_DESCRIPTOR)
	maxDescs := uint32(0x10000)
	if dirSize > 0 {
		maxDescs = dirSize / descSize
	}

	for i := uint32(0); i < maxDescs; i++ {
		base := dirRVA + i*descSize
		nameRVA, ok := readU32(mem, base+12)
		if !ok {
			return unwind(fmt.Errorf("%w: truncated import descriptor", ErrBadImageFormat))
		}
		if nameRVA == 0 {
			break
		}

		originalFirstThunk, _ := readU32(mem, base+0)
		firstThunk, _ := readU32(mem, base+16)

		name := readCString(mem, nameRVA, 256)
		handle, err := b.Resolver.LoadLibrary(name)
		if err != nil {
			return unwind(fmt.Errorf("%w: %v", ErrImportResolution, err))
		}
		handles = append(handles, handle)

		thunkRVA := originalFirstThunk
		if thunkRVA == 0 {
			thunkRVA = firstThunk
		}

		stride := uint32(4)
		if b.Is64 {
			stride = 8
		}

		for slot := uint32(0); ; slot += stride {
			var thunk uint64
			var ok bool
			if b.Is64 {
				thunk, ok = readU64(mem, thunkRVA+slot)
			} else {
				var v uint32
				v, ok = readU32(mem, thunkRVA+slot)
				thunk = uint64(v)
			}
			if !ok {
				return unwind(fmt.Errorf("%w: truncated thunk array", ErrBadImageFormat))
			}
			if thunk == 0 {
				break
			}

			var addr uintptr
			ordFlag := bindOrdinalFlag32
			if b.Is64 {
				ordFlag = bindOrdinalFlag64
			}

			if thunk&ordFlag != 0 {
				addr, err = b.Resolver.ProcAddressByOrdinal(handle, uint16(thunk&0xFFFF))
			} else {
				// thunk is an RVA to IMAGE_IMPORT_BY_NAME: a 2-byte hint
				// followed by the ANSI name.
				fnName := readCString(mem, uint32(thunk)+2, 256)
				addr, err = b.Resolver.ProcAddressByName(handle, fnName)
			}
			if err != nil {
				return unwind(fmt.Errorf("%w: %v", ErrImportResolution, err))
			}

			writeSlot := firstThunk + slot
			if b.Is64 {
				if !writeU64(mem, writeSlot, uint64(addr)) {
					return unwind(fmt.Errorf("%w: thunk write out of bounds", ErrBadImageFormat))
				}
			} else {
				if !writeU32(mem, writeSlot, uint32(addr)) {
					return unwind(fmt.Errorf("%w: thunk write out of bounds", ErrBadImageFormat))
				}
			}
		}
	}

	return handles, nil
}
