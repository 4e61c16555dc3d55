// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// unsafeSliceAddr returns the address backing b, for fakePlatform.Reserve to
// hand back as a uintptr "allocation" that Mapper can round-trip through
// unsafe.Slice exactly as it would a real VirtualAlloc result.
func unsafeSliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// testSection is one section's worth of input to buildImage: a name,
// section characteristics, and the raw file bytes that back it. VA and
// PointerToRawData are always equal and chosen by buildImage, so any RVA a
// caller embeds inside data must be computed with sectionVAs first.
type testSection struct {
	name  string
	chars uint32
	data  []byte
}

// testImageSpec is the full input to buildImage: enough of a PE32/PE32+
// layout to exercise RawImage.Parse, Mapper.Map and every pure component
// downstream of it, without needing a real compiler or linker.
type testImageSpec struct {
	is64      bool
	isDLL     bool
	imageBase uint64
	entryRVA  uint32
	align     uint32
	sections  []testSection

	// machine overrides the IMAGE_FILE_HEADER.Machine value, which
	// buildImage otherwise sets to HostMachine(). Zero means "use that".
	machine uint16

	importDirSection int
	importDirOffset  uint32
	importDirSize    uint32

	exportDirSection int
	exportDirOffset  uint32
	exportDirSize    uint32

	relocDirSection int
	relocDirOffset  uint32
	relocDirSize    uint32

	tlsDirSection int
	tlsDirOffset  uint32
	tlsDirSize    uint32
}

const testLfanew = 0x80

// sectionVAs returns the VirtualAddress (equal to PointerToRawData) that
// buildImage will assign to each section, given the header size and each
// section's raw data length. Tests call this before constructing section
// payloads, so RVAs embedded in import/export/reloc/TLS tables can be
// computed up front.
func sectionVAs(headerSize, align uint32, dataLens []uint32) []uint32 {
	out := make([]uint32, len(dataLens))
	va := headerSize
	for i, l := range dataLens {
		out[i] = va
		raw := alignUp(l, align)
		if raw == 0 {
			raw = align
		}
		va += raw
	}
	return out
}

// buildImage assembles a minimal, structurally valid PE image from spec.
// Every section's VirtualAddress equals its PointerToRawData (both aligned
// to spec.align, used as both SectionAlignment and FileAlignment), which
// makes RVA-to-file-offset translation the identity shift a RawImage
// computes internally, so tests never need to hand-derive section offsets.
func buildImage(spec testImageSpec) []byte {
	align := spec.align
	headerSize := align

	dataLens := make([]uint32, len(spec.sections))
	for i, s := range spec.sections {
		dataLens[i] = uint32(len(s.data))
	}
	vas := sectionVAs(headerSize, align, dataLens)

	rawLens := make([]uint32, len(spec.sections))
	sizeOfImage := headerSize
	for i, l := range dataLens {
		raw := alignUp(l, align)
		if raw == 0 {
			raw = align
		}
		rawLens[i] = raw
		sizeOfImage = vas[i] + raw
	}

	var buf bytes.Buffer

	dos := ImageDOSHeader{Magic: ImageDOSSignature, AddressOfNewEXEHeader: testLfanew}
	binary.Write(&buf, binary.LittleEndian, dos)
	buf.Write(make([]byte, testLfanew-buf.Len()))

	binary.Write(&buf, binary.LittleEndian, uint32(ImageNTSignature))

	// Machine and the optional header's PE32/PE32+ shape are independent
	// fields on a real image; defaulting machine to HostMachine() (rather
	// than deriving it from is64) keeps every spec that doesn't care about
	// Mapper's machine-mismatch check passing regardless of which of is64's
	// two header shapes it exercises or which architecture runs the tests.
	machine := uint16(HostMachine())
	characteristics := uint16(ImageFileExecutableImage) | uint16(ImageFile32BitMachine)
	if spec.is64 {
		characteristics = uint16(ImageFileExecutableImage)
	}
	if spec.machine != 0 {
		machine = spec.machine
	}
	if spec.isDLL {
		characteristics |= uint16(ImageFileDLL)
	}

	var ohSize uint16
	if spec.is64 {
		ohSize = uint16(binary.Size(ImageOptionalHeader64{}))
	} else {
		ohSize = uint16(binary.Size(ImageOptionalHeader32{}))
	}

	fh := ImageFileHeader{
		Machine:              ImageFileHeaderMachineType(machine),
		NumberOfSections:     uint16(len(spec.sections)),
		SizeOfOptionalHeader: ohSize,
		Characteristics:      ImageFileHeaderCharacteristicsType(characteristics),
	}
	binary.Write(&buf, binary.LittleEndian, fh)

	var dirs [16]DataDirectory
	setDir := func(entry ImageDirectoryEntry, sectionIdx int, offset, size uint32) {
		if sectionIdx < 0 {
			return
		}
		dirs[entry] = DataDirectory{VirtualAddress: vas[sectionIdx] + offset, Size: size}
	}
	setDir(ImageDirectoryEntryImport, spec.importDirSection, spec.importDirOffset, spec.importDirSize)
	setDir(ImageDirectoryEntryExport, spec.exportDirSection, spec.exportDirOffset, spec.exportDirSize)
	setDir(ImageDirectoryEntryBaseReloc, spec.relocDirSection, spec.relocDirOffset, spec.relocDirSize)
	setDir(ImageDirectoryEntryTLS, spec.tlsDirSection, spec.tlsDirOffset, spec.tlsDirSize)

	var sizeOfInit, sizeOfUninit uint32
	for i, s := range spec.sections {
		if s.chars&ImageScnCntUninitializedData != 0 {
			sizeOfUninit += rawLens[i]
		} else {
			sizeOfInit += rawLens[i]
		}
	}

	if spec.is64 {
		oh := ImageOptionalHeader64{
			Magic:                   ImageNtOptionalHeader64Magic,
			SizeOfInitializedData:   sizeOfInit,
			SizeOfUninitializedData: sizeOfUninit,
			AddressOfEntryPoint:     spec.entryRVA,
			BaseOfCode:              headerSize,
			ImageBase:               spec.imageBase,
			SectionAlignment:        align,
			FileAlignment:           align,
			SizeOfImage:             sizeOfImage,
			SizeOfHeaders:           headerSize,
			Subsystem:               ImageSubsystemWindowsCUI,
			NumberOfRvaAndSizes:     16,
			DataDirectory:           dirs,
		}
		binary.Write(&buf, binary.LittleEndian, oh)
	} else {
		oh := ImageOptionalHeader32{
			Magic:                   ImageNtOptionalHeader32Magic,
			SizeOfInitializedData:   sizeOfInit,
			SizeOfUninitializedData: sizeOfUninit,
			AddressOfEntryPoint:     spec.entryRVA,
			BaseOfCode:              headerSize,
			ImageBase:               uint32(spec.imageBase),
			SectionAlignment:        align,
			FileAlignment:           align,
			SizeOfImage:             sizeOfImage,
			SizeOfHeaders:           headerSize,
			Subsystem:               ImageSubsystemWindowsCUI,
			NumberOfRvaAndSizes:     16,
			DataDirectory:           dirs,
		}
		binary.Write(&buf, binary.LittleEndian, oh)
	}

	for i, s := range spec.sections {
		var nameArr [8]uint8
		copy(nameArr[:], s.name)
		sh := ImageSectionHeader{
			Name:             nameArr,
			VirtualSize:      dataLens[i],
			VirtualAddress:   vas[i],
			SizeOfRawData:    rawLens[i],
			PointerToRawData: vas[i],
			Characteristics:  s.chars,
		}
		binary.Write(&buf, binary.LittleEndian, sh)
	}

	if uint32(buf.Len()) > headerSize {
		panic("test image headers exceed headerSize; shrink the section table or grow align")
	}
	buf.Write(make([]byte, int(headerSize)-buf.Len()))

	full := make([]byte, sizeOfImage)
	copy(full, buf.Bytes())
	for i, s := range spec.sections {
		copy(full[vas[i]:], s.data)
	}
	return full
}

// fakePlatform is an in-memory PlatformOps: Reserve/Free back onto plain Go
// byte slices kept alive by the map below, so Mapper and Module can be
// exercised without a Windows host. Protect/Decommit/LoadLibrary/
// ProcAddress* are recorded rather than acted on.
type fakePlatform struct {
	pageSize uint32

	reserved map[uintptr][]byte

	libraries map[string]uintptr
	exports   map[uintptr]map[string]uintptr
	ordinals  map[uintptr]map[uint16]uintptr

	nextHandle uintptr

	protectCalls  []fakeProtectCall
	decommitCalls []fakeDecommitCall
}

type fakeProtectCall struct {
	addr uintptr
	size uint32
	prot Protection
}

type fakeDecommitCall struct {
	addr uintptr
	size uint32
}

func newFakePlatform(pageSize uint32) *fakePlatform {
	return &fakePlatform{
		pageSize:  pageSize,
		reserved:  make(map[uintptr][]byte),
		libraries: make(map[string]uintptr),
		exports:   make(map[uintptr]map[string]uintptr),
		ordinals:  make(map[uintptr]map[uint16]uintptr),
	}
}

func (f *fakePlatform) Reserve(preferred uintptr, size uint32) (uintptr, error) {
	mem := make([]byte, size)
	base := uintptr(unsafeSliceAddr(mem))
	f.reserved[base] = mem
	return base, nil
}

func (f *fakePlatform) Free(base uintptr) error {
	delete(f.reserved, base)
	return nil
}

func (f *fakePlatform) Protect(addr uintptr, size uint32, prot Protection) error {
	f.protectCalls = append(f.protectCalls, fakeProtectCall{addr, size, prot})
	return nil
}

func (f *fakePlatform) Decommit(addr uintptr, size uint32) error {
	f.decommitCalls = append(f.decommitCalls, fakeDecommitCall{addr, size})
	return nil
}

func (f *fakePlatform) SystemInfo() SystemInfo {
	return SystemInfo{PageSize: f.pageSize, AllocationGranularity: f.pageSize}
}

func (f *fakePlatform) LoadLibrary(name string) (uintptr, error) {
	if h, ok := f.libraries[name]; ok {
		return h, nil
	}
	f.nextHandle++
	h := f.nextHandle
	f.libraries[name] = h
	return h, nil
}

func (f *fakePlatform) FreeLibrary(handle uintptr) error { return nil }

func (f *fakePlatform) ProcAddressByName(handle uintptr, name string) (uintptr, error) {
	if m, ok := f.exports[handle]; ok {
		if addr, ok := m[name]; ok {
			return addr, nil
		}
	}
	return 0, ErrImportResolution
}

func (f *fakePlatform) ProcAddressByOrdinal(handle uintptr, ordinal uint16) (uintptr, error) {
	if m, ok := f.ordinals[handle]; ok {
		if addr, ok := m[ordinal]; ok {
			return addr, nil
		}
	}
	return 0, ErrImportResolution
}
