// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"fmt"
	"unsafe"
)

// moduleHeaderPeekSize is read first to discover a loaded module's own
// SizeOfImage and export directory location: one page, the smallest region
// the OS loader ever commits for a mapped module, comfortably covering the
// DOS header, NT headers and optional header of any real-world PE image.
const moduleHeaderPeekSize = 0x1000

// loadedModuleView locates an already-loaded module's export directory by
// reading the module's own PE headers directly out of process memory at
// base, the HMODULE/base address LoadLibrary returns. It runs the same
// RawImage header parsing used on file buffers against a live memory view
// instead, so resolving a system-library export never has to ask the OS's
// own GetProcAddress: ExportWalker walks the export table this returns.
func loadedModuleView(base uintptr) (mem []byte, edtRVA, edtSize uint32, err error) {
	if base == 0 {
		return nil, 0, 0, ErrExportLookupFailed
	}

	// Only the DOS/NT headers are needed here, not the section table or
	// data directories Parse would also decode: those reach past
	// moduleHeaderPeekSize on some images and parseImportDirectory et al.
	// have no use against a module's own headers anyway.
	peek := unsafe.Slice((*byte)(unsafe.Pointer(base)), moduleHeaderPeekSize)
	raw, err := NewRaw(peek, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrExportLookupFailed, err)
	}
	if err := raw.ParseDOSHeader(); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrExportLookupFailed, err)
	}
	if err := raw.ParseNTHeader(); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrExportLookupFailed, err)
	}

	var sizeOfImage uint32
	var exportDir DataDirectory
	if raw.Is64 {
		oh := raw.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		sizeOfImage = oh.SizeOfImage
		exportDir = oh.DataDirectory[ImageDirectoryEntryExport]
	} else {
		oh := raw.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		sizeOfImage = oh.SizeOfImage
		exportDir = oh.DataDirectory[ImageDirectoryEntryExport]
	}
	if sizeOfImage == 0 || exportDir.Size == 0 {
		return nil, 0, 0, ErrExportLookupFailed
	}

	full := unsafe.Slice((*byte)(unsafe.Pointer(base)), sizeOfImage)
	return full, exportDir.VirtualAddress, exportDir.Size, nil
}
