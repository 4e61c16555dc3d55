// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

// buildExportDirectory lays out an IMAGE_EXPORT_DIRECTORY plus its
// AddressOfFunctions/Names/NameOrdinals arrays and name strings at dirRVA,
// exporting the given (name, funcRVA) pairs under ordinals base, base+1, ...
func buildExportDirectory(mem []byte, dirRVA uint32, base uint32, entries []struct {
	name string
	rva  uint32
}) (edtRVA, edtSize uint32) {
	n := uint32(len(entries))
	funcsRVA := dirRVA + exportDirSize
	namesRVA := funcsRVA + n*4
	ordsRVA := namesRVA + n*4
	namesDataRVA := ordsRVA + n*2

	for i, e := range entries {
		writeU32(mem, funcsRVA+uint32(i)*4, e.rva)
	}

	off := namesDataRVA
	for i, e := range entries {
		writeU32(mem, namesRVA+uint32(i)*4, off)
		writeU16(mem, ordsRVA+uint32(i)*2, uint16(i))
		copy(mem[off:], e.name)
		mem[off+uint32(len(e.name))] = 0
		off += uint32(len(e.name)) + 1
	}

	writeU32(mem, dirRVA+16, base)
	writeU32(mem, dirRVA+20, n) // NumberOfFunctions
	writeU32(mem, dirRVA+24, n) // NumberOfNames
	writeU32(mem, dirRVA+28, funcsRVA)
	writeU32(mem, dirRVA+32, namesRVA)
	writeU32(mem, dirRVA+36, ordsRVA)

	return dirRVA, exportDirSize
}

func writeU16(mem []byte, off uint32, v uint16) bool {
	if uint64(off)+2 > uint64(len(mem)) {
		return false
	}
	mem[off] = byte(v)
	mem[off+1] = byte(v >> 8)
	return true
}

func TestExportWalkerWalkEnumeratesAllNamedExports(t *testing.T) {
	mem := make([]byte, 0x1000)
	dirRVA, dirSize := buildExportDirectory(mem, 0x100, 1, []struct {
		name string
		rva  uint32
	}{
		{"Alpha", 0x2000},
		{"Beta", 0x2010},
	})

	var w ExportWalker
	var names []string
	err := w.Walk(mem, 0x400000, dirRVA, dirSize, func(e ExportEntry) bool {
		names = append(names, e.Name)
		return false
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(names) != 2 || names[0] != "Alpha" || names[1] != "Beta" {
		t.Fatalf("names = %v, want [Alpha Beta]", names)
	}
}

func TestExportWalkerByNameCaseSensitiveByDefault(t *testing.T) {
	mem := make([]byte, 0x1000)
	dirRVA, dirSize := buildExportDirectory(mem, 0x100, 1, []struct {
		name string
		rva  uint32
	}{{"Alpha", 0x2000}})

	var w ExportWalker
	if _, err := w.ByName(mem, 0x400000, dirRVA, dirSize, "alpha"); err != ErrExportLookupFailed {
		t.Fatalf("ByName(\"alpha\") error = %v, want %v", err, ErrExportLookupFailed)
	}
	addr, err := w.ByName(mem, 0x400000, dirRVA, dirSize, "Alpha")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if addr != 0x400000+0x2000 {
		t.Errorf("addr = %#x, want %#x", addr, 0x400000+0x2000)
	}
}

func TestExportWalkerByNameCaseInsensitiveAndCached(t *testing.T) {
	mem := make([]byte, 0x1000)
	dirRVA, dirSize := buildExportDirectory(mem, 0x100, 1, []struct {
		name string
		rva  uint32
	}{{"Alpha", 0x2000}})

	w := ExportWalker{CaseInsensitive: true}
	addr, err := w.ByName(mem, 0x400000, dirRVA, dirSize, "ALPHA")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if addr != 0x400000+0x2000 {
		t.Errorf("addr = %#x, want %#x", addr, 0x400000+0x2000)
	}
	if _, ok := w.cache["alpha"]; !ok {
		t.Error("expected the lowercased key to be cached")
	}

	// Corrupt the backing export table; the cached lookup must still
	// succeed without re-walking it.
	writeU32(mem, dirRVA+20, 0)
	addr2, err := w.ByName(mem, 0x400000, dirRVA, dirSize, "Alpha")
	if err != nil {
		t.Fatalf("ByName (cached): %v", err)
	}
	if addr2 != addr {
		t.Errorf("cached addr = %#x, want %#x", addr2, addr)
	}
}

func TestExportWalkerByOrdinal(t *testing.T) {
	mem := make([]byte, 0x1000)
	dirRVA, dirSize := buildExportDirectory(mem, 0x100, 5, []struct {
		name string
		rva  uint32
	}{{"Alpha", 0x2000}, {"Beta", 0x2010}})

	w := ExportWalker{}
	addr, err := w.ByOrdinal(mem, 0x400000, dirRVA, dirSize, 6)
	if err != nil {
		t.Fatalf("ByOrdinal: %v", err)
	}
	if addr != 0x400000+0x2010 {
		t.Errorf("addr = %#x, want %#x", addr, 0x400000+0x2010)
	}

	if _, err := w.ByOrdinal(mem, 0x400000, dirRVA, dirSize, 4); err != ErrExportLookupFailed {
		t.Errorf("ByOrdinal(4) error = %v, want %v (below base)", err, ErrExportLookupFailed)
	}
	if _, err := w.ByOrdinal(mem, 0x400000, dirRVA, dirSize, 100); err != ErrExportLookupFailed {
		t.Errorf("ByOrdinal(100) error = %v, want %v (out of range)", err, ErrExportLookupFailed)
	}
}

func TestExportWalkerSkipsForwarders(t *testing.T) {
	mem := make([]byte, 0x1000)
	const dirRVA = 0x100
	// A forwarder's funcRVA points inside the export directory range
	// itself [dirRVA, dirRVA+edtSize) rather than at real code.
	forwardingRVA := dirRVA + 2
	gotDirRVA, dirSize := buildExportDirectory(mem, dirRVA, 1, []struct {
		name string
		rva  uint32
	}{{"Forwarded", forwardingRVA}, {"Real", 0x2000}})

	var w ExportWalker
	var seen []string
	_ = w.Walk(mem, 0x400000, gotDirRVA, dirSize, func(e ExportEntry) bool {
		seen = append(seen, e.Name)
		return false
	})
	if len(seen) != 1 || seen[0] != "Real" {
		t.Fatalf("seen = %v, want [Real] (forwarder skipped)", seen)
	}
}

func TestLoadedModuleExportByNameIsAlwaysCaseSensitive(t *testing.T) {
	mem := make([]byte, 0x1000)
	dirRVA, dirSize := buildExportDirectory(mem, 0x100, 1, []struct {
		name string
		rva  uint32
	}{{"Alpha", 0x2000}})

	if _, err := LoadedModuleExportByName(mem, 0x400000, dirRVA, dirSize, "alpha"); err != ErrExportLookupFailed {
		t.Errorf("error = %v, want %v for a case mismatch", err, ErrExportLookupFailed)
	}
	addr, err := LoadedModuleExportByName(mem, 0x400000, dirRVA, dirSize, "Alpha")
	if err != nil {
		t.Fatalf("LoadedModuleExportByName: %v", err)
	}
	if addr != 0x400000+0x2000 {
		t.Errorf("addr = %#x, want %#x", addr, 0x400000+0x2000)
	}
}
