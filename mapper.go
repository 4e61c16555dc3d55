// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"fmt"
	"unsafe"
)

// MappedImage is an owned virtual-memory region sized to the optional
// header's SizeOfImage, backed by an OS reservation. mem is a byte-slice
// view over that live memory (via unsafe.Slice once mapped), so every
// byte-oriented helper written for RawImage's decode logic also applies to
// a MappedImage.
type MappedImage struct {
	Base          uintptr
	Size          uint32
	mem           []byte
	Is64          bool
	IsDLL         bool
	PreferredBase uint64
	Delta         int64
	SizeOfHeaders uint32
	EntryPointRVA uint32

	ImportDirRVA, ImportDirSize   uint32
	RelocDirRVA, RelocDirSize     uint32
	TLSDirRVA, TLSDirSize         uint32
	exportDirRVA, exportDirSize   uint32

	// sectionDest holds each section's actual destination VA, indexed the
	// same as Sections. A side table rather than reusing the section
	// header's union field, since this package's ImageSectionHeader does
	// not carry a PhysicalAddress slot distinct from VirtualSize.
	Sections    []ImageSectionHeader
	sectionDest []uintptr

	SectionAlignment        uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32

	platform PlatformOps
}

// alignUp rounds x up to the next multiple of a, which must be a power of
// two.
func alignUp(x, a uint32) uint32 {
	return (x + a - 1) &^ (a - 1)
}

// Mapper reserves image memory and copies section bytes, honoring the
// 4 GiB-boundary constraint that 64-bit hosts require.
type Mapper struct {
	Platform PlatformOps
}

// Map validates raw's headers and produces a MappedImage: memory reserved,
// headers and section bytes copied in, ready for relocation and import
// binding.
func (m Mapper) Map(raw *RawImage) (*MappedImage, error) {
	if !raw.HasNTHdr {
		return nil, fmt.Errorf("%w: NT headers not parsed", ErrBadImageFormat)
	}
	if want := HostMachine(); raw.NtHeader.FileHeader.Machine != want {
		return nil, fmt.Errorf("%w: machine %s, host requires %s",
			ErrBadImageFormat, raw.NtHeader.FileHeader.Machine, want)
	}

	sysInfo := m.Platform.SystemInfo()
	pageSize := sysInfo.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}

	var sizeOfImage, sizeOfHeaders, entryRVA, sectionAlignment uint32
	var sizeOfInitData, sizeOfUninitData uint32
	var preferredBase uint64
	var importDir, relocDir, tlsDir, exportDir DataDirectory

	if raw.Is64 {
		oh := raw.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		sizeOfImage = oh.SizeOfImage
		sizeOfHeaders = oh.SizeOfHeaders
		entryRVA = oh.AddressOfEntryPoint
		sectionAlignment = oh.SectionAlignment
		sizeOfInitData = oh.SizeOfInitializedData
		sizeOfUninitData = oh.SizeOfUninitializedData
		preferredBase = oh.ImageBase
		importDir = oh.DataDirectory[ImageDirectoryEntryImport]
		relocDir = oh.DataDirectory[ImageDirectoryEntryBaseReloc]
		tlsDir = oh.DataDirectory[ImageDirectoryEntryTLS]
		exportDir = oh.DataDirectory[ImageDirectoryEntryExport]
	} else {
		oh := raw.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		sizeOfImage = oh.SizeOfImage
		sizeOfHeaders = oh.SizeOfHeaders
		entryRVA = oh.AddressOfEntryPoint
		sectionAlignment = oh.SectionAlignment
		sizeOfInitData = oh.SizeOfInitializedData
		sizeOfUninitData = oh.SizeOfUninitializedData
		preferredBase = uint64(oh.ImageBase)
		importDir = oh.DataDirectory[ImageDirectoryEntryImport]
		relocDir = oh.DataDirectory[ImageDirectoryEntryBaseReloc]
		tlsDir = oh.DataDirectory[ImageDirectoryEntryTLS]
		exportDir = oh.DataDirectory[ImageDirectoryEntryExport]
	}

	if sectionAlignment%2 != 0 {
		return nil, fmt.Errorf("%w: odd SectionAlignment", ErrBadImageFormat)
	}
	if entryRVA == 0 {
		return nil, ErrNoEntryPoint
	}

	var endOfImage uint32
	for _, s := range raw.Sections {
		size := s.Header.VirtualSize
		if size == 0 {
			size = sectionAlignment
		}
		end := alignUp(s.Header.VirtualAddress+size, pageSize)
		if end > endOfImage {
			endOfImage = end
		}
	}
	if alignUp(sizeOfImage, pageSize) != endOfImage {
		return nil, fmt.Errorf("%w: SizeOfImage does not match section layout", ErrBadImageFormat)
	}

	// Allocate: try the preferred base first, then let the OS choose.
	base, err := m.Platform.Reserve(uintptr(preferredBase), sizeOfImage)
	if err != nil {
		base, err = m.Platform.Reserve(0, sizeOfImage)
		if err != nil {
			return nil, err
		}
	}

	if raw.Is64 {
		var parked []uintptr
		for {
			start := uint64(base)
			end := start + uint64(alignUp(sizeOfImage, pageSize)) - 1
			if (start >> 32) == (end >> 32) {
				break
			}
			parked = append(parked, base)
			base, err = m.Platform.Reserve(0, sizeOfImage)
			if err != nil {
				for _, p := range parked {
					_ = m.Platform.Free(p)
				}
				return nil, err
			}
		}
		for _, p := range parked {
			_ = m.Platform.Free(p)
		}
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), sizeOfImage)

	headerEnd := sizeOfHeaders
	if uint64(headerEnd) > uint64(len(raw.data)) {
		headerEnd = uint32(len(raw.data))
	}
	copy(mem[:sizeOfHeaders], raw.data[:headerEnd])

	delta := int64(base) - int64(preferredBase)
	if delta != 0 {
		writeImageBase(mem, raw.Is64, raw.DOSHeader.AddressOfNewEXEHeader, uint64(base))
	}

	sectionDest := make([]uintptr, len(raw.Sections))
	for i, s := range raw.Sections {
		h := s.Header
		dest := base + uintptr(h.VirtualAddress)
		sectionDest[i] = dest
		destMem := unsafe.Slice((*byte)(unsafe.Pointer(dest)), maxU32(h.SizeOfRawData, sectionAlignment))

		if h.SizeOfRawData == 0 {
			if sectionAlignment > 0 {
				for j := range destMem[:sectionAlignment] {
					destMem[j] = 0
				}
			}
			continue
		}

		raw.copySectionInto(h, destMem)
	}

	return &MappedImage{
		Base:                    base,
		Size:                    sizeOfImage,
		mem:                     mem,
		Is64:                    raw.Is64,
		IsDLL:                   raw.NtHeader.FileHeader.Characteristics&ImageFileDLL != 0,
		PreferredBase:           preferredBase,
		Delta:                   delta,
		SizeOfHeaders:           sizeOfHeaders,
		EntryPointRVA:           entryRVA,
		ImportDirRVA:            importDir.VirtualAddress,
		ImportDirSize:           importDir.Size,
		RelocDirRVA:             relocDir.VirtualAddress,
		RelocDirSize:            relocDir.Size,
		TLSDirRVA:               tlsDir.VirtualAddress,
		TLSDirSize:              tlsDir.Size,
		exportDirRVA:            exportDir.VirtualAddress,
		exportDirSize:           exportDir.Size,
		Sections:                sectionHeadersOf(raw.Sections),
		sectionDest:             sectionDest,
		SectionAlignment:        sectionAlignment,
		SizeOfInitializedData:   sizeOfInitData,
		SizeOfUninitializedData: sizeOfUninitData,
		platform:                m.Platform,
	}, nil
}

// finalizePlan builds the per-section input SectionFinalizer.Plan needs,
// using this image's actual section destinations and the page/alignment
// geometry it was mapped with.
func (mi *MappedImage) finalizePlan(pageSize uint32) []pageAction {
	inputs := make([]finalizeSection, len(mi.Sections))
	for i, h := range mi.Sections {
		size := finalizeSectionSize(h, mi.SizeOfInitializedData, mi.SizeOfUninitializedData)
		addr := mi.sectionDest[i]
		inputs[i] = finalizeSection{
			addr:        addr,
			alignedAddr: addr &^ uintptr(pageSize-1),
			size:        size,
			chars:       h.Characteristics,
		}
	}
	f := SectionFinalizer{PageSize: pageSize, SectionAlignment: mi.SectionAlignment}
	return f.Plan(inputs)
}

func sectionHeadersOf(sections []Section) []ImageSectionHeader {
	out := make([]ImageSectionHeader, len(sections))
	for i, s := range sections {
		out[i] = s.Header
	}
	return out
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// writeImageBase patches the ImageBase field inside the mapped headers so
// that a later reader of the live image (or a debugger) sees the base it
// actually got, not the preferred one from the file. The optional header
// starts at lfanew+4 (signature)+20 (COFF file header); ImageBase sits 28
// bytes into a PE32 optional header (after BaseOfData) or 24 bytes into a
// PE32+ one (BaseOfData does not exist in PE32+).
func writeImageBase(mem []byte, is64 bool, lfanew uint32, base uint64) {
	ohOffset := lfanew + 4 + 20
	if is64 {
		writeU64(mem, ohOffset+24, base)
	} else {
		writeU32(mem, ohOffset+28, uint32(base))
	}
}
