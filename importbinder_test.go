// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"testing"
)

// buildImportTable lays out one module's import descriptor, ILT, IAT and
// name table at sectionVA, using absolute RVAs throughout (sectionVA is the
// caller's own address for this content, not a section-relative offset).
func buildImportTable(sectionVA uint32, dllName string, funcNames []string) (data []byte, dirOffset, dirSize uint32) {
	var buf []byte
	appendBytes := func(b []byte) uint32 {
		off := uint32(len(buf))
		buf = append(buf, b...)
		return off
	}
	putU32 := func(v uint32) uint32 {
		b := make([]byte, 4)
		writeU32(b, 0, v)
		return appendBytes(b)
	}
	putCString := func(s string) uint32 {
		return appendBytes(append([]byte(s), 0))
	}

	ibnRVAs := make([]uint32, len(funcNames))
	for i, name := range funcNames {
		hintOff := appendBytes([]byte{0, 0})
		putCString(name)
		ibnRVAs[i] = sectionVA + hintOff
	}

	iltOff := uint32(len(buf))
	for _, rva := range ibnRVAs {
		putU32(rva)
	}
	putU32(0)

	iatOff := uint32(len(buf))
	for _, rva := range ibnRVAs {
		putU32(rva)
	}
	putU32(0)

	dllNameOff := appendBytes(append([]byte(dllName), 0))

	descOff := uint32(len(buf))
	// IMAGE_IMPORT_DESCRIPTOR: OriginalFirstThunk, TimeDateStamp,
	// ForwarderChain, Name, FirstThunk.
	putU32(sectionVA + iltOff)
	putU32(0)
	putU32(0)
	putU32(sectionVA + dllNameOff)
	putU32(sectionVA + iatOff)
	// null terminator descriptor
	for i := 0; i < 5; i++ {
		putU32(0)
	}

	return buf, descOff, 40
}

func TestImportBinderBindResolvesByName(t *testing.T) {
	const sectionVA = 0x2000
	data, descOff, descSize := buildImportTable(sectionVA, "USER32.DLL", []string{"MessageBoxA"})

	mem := make([]byte, sectionVA+uint32(len(data))+0x100)
	copy(mem[sectionVA:], data)

	plat := newFakePlatform(4096)
	handle, _ := plat.LoadLibrary("USER32.DLL")
	plat.exports[handle] = map[string]uintptr{"MessageBoxA": 0xDEAD0001}

	binder := ImportBinder{Resolver: plat}
	handles, err := binder.Bind(mem, sectionVA+descOff, descSize)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(handles) != 1 || handles[0] != handle {
		t.Fatalf("handles = %v, want [%d]", handles, handle)
	}

	iatRVA, _ := readU32(mem, sectionVA+descOff+16) // FirstThunk field
	bound, ok := readU32(mem, iatRVA)
	if !ok {
		t.Fatal("could not read bound IAT slot")
	}
	if bound != 0xDEAD0001 {
		t.Errorf("bound address = %#x, want 0xDEAD0001", bound)
	}
}

func TestImportBinderBindUnwindsOnUnresolvedFunction(t *testing.T) {
	const sectionVA = 0x2000
	data, descOff, descSize := buildImportTable(sectionVA, "KERNEL32.DLL", []string{"MissingFunc"})

	mem := make([]byte, sectionVA+uint32(len(data))+0x100)
	copy(mem[sectionVA:], data)

	plat := newFakePlatform(4096)
	// No export registered for MissingFunc: ProcAddressByName fails.

	binder := ImportBinder{Resolver: plat}
	handles, err := binder.Bind(mem, sectionVA+descOff, descSize)
	if err == nil {
		t.Fatal("expected an error resolving an unknown function")
	}
	if !errors.Is(err, ErrImportResolution) {
		t.Errorf("error = %v, want wrapping %v", err, ErrImportResolution)
	}
	if handles != nil {
		t.Errorf("handles = %v, want nil on failure", handles)
	}
	if len(plat.libraries) != 1 {
		t.Fatalf("expected the library to have been loaded once before failing, got %d", len(plat.libraries))
	}
}

func TestImportBinderBind64BitOrdinal(t *testing.T) {
	const sectionVA = 0x3000
	mem := make([]byte, 0x4000)

	var buf []byte
	appendBytes := func(b []byte) uint32 {
		off := uint32(len(buf))
		buf = append(buf, b...)
		return off
	}
	putU64 := func(v uint64) uint32 {
		b := make([]byte, 8)
		writeU64(b, 0, v)
		return appendBytes(b)
	}
	putU32 := func(v uint32) uint32 {
		b := make([]byte, 4)
		writeU32(b, 0, v)
		return appendBytes(b)
	}

	iltOff := uint32(len(buf))
	putU64(bindOrdinalFlag64 | 5) // ordinal 5
	putU64(0)

	iatOff := uint32(len(buf))
	putU64(bindOrdinalFlag64 | 5)
	putU64(0)

	dllNameOff := appendBytes(append([]byte("NTDLL.DLL"), 0))

	descOff := uint32(len(buf))
	putU32(sectionVA + iltOff)
	putU32(0)
	putU32(0)
	putU32(sectionVA + dllNameOff)
	putU32(sectionVA + iatOff)
	for i := 0; i < 5; i++ {
		putU32(0)
	}

	copy(mem[sectionVA:], buf)

	plat := newFakePlatform(4096)
	handle, _ := plat.LoadLibrary("NTDLL.DLL")
	plat.ordinals[handle] = map[uint16]uintptr{5: 0xCAFE0005}

	binder := ImportBinder{Resolver: plat, Is64: true}
	_, err := binder.Bind(mem, sectionVA+descOff, 40)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	iatRVA, _ := readU32(mem, sectionVA+descOff+16)
	bound, _ := readU64(mem, iatRVA)
	if bound != 0xCAFE0005 {
		t.Errorf("bound ordinal address = %#x, want 0xCAFE0005", bound)
	}
}
