// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "strings"

// exportDirSize is sizeof(IMAGE_EXPORT_DIRECTORY).
const exportDirSize = 40

// ExportEntry is one (name, ordinal, address) triple produced while walking
// a module's export directory.
type ExportEntry struct {
	Name    string
	Ordinal uint16
	Addr    uintptr
}

// ExportWalker resolves exports out of any module's in-memory export
// directory, the way a loader resolves kernel32-style system imports
// without going through the OS's own GetProcAddress. It is pure: mem is any
// byte-slice view over a module's image, at whatever base moduleBase
// represents.
type ExportWalker struct {
	// CaseInsensitive controls name comparisons during Walk/ByName. The
	// loaded module's own lookup (Module.GetFunction) always compares
	// case-sensitively and does not go through this type; ExportWalker
	// exists for resolving system libraries such as kernel32, where name
	// comparisons are conventionally case-insensitive.
	CaseInsensitive bool

	cache map[string]uintptr
}

func readExportDirectory(mem []byte, edtRVA, edtSize uint32) (ImageExportDirectory, bool) {
	var ed ImageExportDirectory
	if edtSize < exportDirSize {
		return ed, false
	}

	var ok bool
	if ed.Characteristics, ok = readU32(mem, edtRVA+0); !ok {
		return ed, false
	}
	ed.TimeDateStamp, _ = readU32(mem, edtRVA+4)
	if v, ok := readU16(mem, edtRVA+8); ok {
		ed.MajorVersion = v
	}
	if v, ok := readU16(mem, edtRVA+10); ok {
		ed.MinorVersion = v
	}
	ed.Name, _ = readU32(mem, edtRVA+12)
	ed.Base, ok = readU32(mem, edtRVA+16)
	if !ok {
		return ed, false
	}
	ed.NumberOfFunctions, ok = readU32(mem, edtRVA+20)
	if !ok {
		return ed, false
	}
	ed.NumberOfNames, ok = readU32(mem, edtRVA+24)
	if !ok {
		return ed, false
	}
	ed.AddressOfFunctions, ok = readU32(mem, edtRVA+28)
	if !ok {
		return ed, false
	}
	ed.AddressOfNames, ok = readU32(mem, edtRVA+32)
	if !ok {
		return ed, false
	}
	ed.AddressOfNameOrdinals, ok = readU32(mem, edtRVA+36)
	if !ok {
		return ed, false
	}
	return ed, true
}

// isForwarder reports whether funcRVA points inside the export directory
// itself, the in-file marker for a forwarded export ("DLL.Symbol"). Chasing
// forwarders into another module is out of scope; Walk/ByName/ByOrdinal
// skip forwarded entries entirely rather than resolve them.
func isForwarder(funcRVA, edtRVA, edtSize uint32) bool {
	return funcRVA >= edtRVA && funcRVA < edtRVA+edtSize
}

// Walk enumerates every named export in order, calling fn for each. It
// stops early when fn returns true. Ordinal-only exports are skipped, since
// every consumer of Walk (kernel32-style resolution) looks functions up by
// name.
func (w ExportWalker) Walk(mem []byte, moduleBase uintptr, edtRVA, edtSize uint32, fn func(ExportEntry) bool) error {
	ed, ok := readExportDirectory(mem, edtRVA, edtSize)
	if !ok {
		return ErrExportLookupFailed
	}
	if ed.NumberOfFunctions == 0 || ed.NumberOfNames == 0 {
		return ErrExportLookupFailed
	}

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, ok := readU32(mem, ed.AddressOfNames+i*4)
		if !ok {
			break
		}
		ordIndex, ok := readU16(mem, ed.AddressOfNameOrdinals+i*2)
		if !ok {
			break
		}
		if uint32(ordIndex) >= ed.NumberOfFunctions {
			continue
		}
		funcRVA, ok := readU32(mem, ed.AddressOfFunctions+uint32(ordIndex)*4)
		if !ok || funcRVA == 0 || isForwarder(funcRVA, edtRVA, edtSize) {
			continue
		}

		entry := ExportEntry{
			Name:    readCString(mem, nameRVA, 512),
			Ordinal: ordIndex + uint16(ed.Base),
			Addr:    moduleBase + uintptr(funcRVA),
		}
		if fn(entry) {
			return nil
		}
	}
	return nil
}

// ByName resolves a single export by name, honoring CaseInsensitive.
func (w *ExportWalker) ByName(mem []byte, moduleBase uintptr, edtRVA, edtSize uint32, name string) (uintptr, error) {
	if w.cache == nil {
		w.cache = make(map[string]uintptr)
	}
	key := name
	if w.CaseInsensitive {
		key = strings.ToLower(name)
	}
	if addr, ok := w.cache[key]; ok {
		return addr, nil
	}

	var found uintptr
	err := w.Walk(mem, moduleBase, edtRVA, edtSize, func(e ExportEntry) bool {
		match := e.Name == name
		if w.CaseInsensitive {
			match = strings.EqualFold(e.Name, name)
		}
		if match {
			found = e.Addr
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, ErrExportLookupFailed
	}
	w.cache[key] = found
	return found, nil
}

// ByOrdinal resolves a single export by ordinal, independent of the name
// table.
func (w ExportWalker) ByOrdinal(mem []byte, moduleBase uintptr, edtRVA, edtSize uint32, ordinal uint16) (uintptr, error) {
	ed, ok := readExportDirectory(mem, edtRVA, edtSize)
	if !ok {
		return 0, ErrExportLookupFailed
	}
	if ed.NumberOfFunctions == 0 {
		return 0, ErrExportLookupFailed
	}
	if uint32(ordinal) < ed.Base {
		return 0, ErrExportLookupFailed
	}
	idx := uint32(ordinal) - ed.Base
	if idx >= ed.NumberOfFunctions {
		return 0, ErrExportLookupFailed
	}
	funcRVA, ok := readU32(mem, ed.AddressOfFunctions+idx*4)
	if !ok || funcRVA == 0 || isForwarder(funcRVA, edtRVA, edtSize) {
		return 0, ErrExportLookupFailed
	}
	return moduleBase + uintptr(funcRVA), nil
}

// LoadedModuleExportByName is the loaded image's own export lookup: exact,
// case-sensitive name match against its own export directory, per the
// asymmetry the general ExportWalker deliberately does not share.
func LoadedModuleExportByName(mem []byte, moduleBase uintptr, edtRVA, edtSize uint32, name string) (uintptr, error) {
	ed, ok := readExportDirectory(mem, edtRVA, edtSize)
	if !ok {
		return 0, ErrExportLookupFailed
	}
	if ed.NumberOfFunctions == 0 || ed.NumberOfNames == 0 {
		return 0, ErrExportLookupFailed
	}

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, ok := readU32(mem, ed.AddressOfNames+i*4)
		if !ok {
			break
		}
		if readCString(mem, nameRVA, 512) != name {
			continue
		}
		ordIndex, ok := readU16(mem, ed.AddressOfNameOrdinals+i*2)
		if !ok || uint32(ordIndex) >= ed.NumberOfFunctions {
			return 0, ErrExportLookupFailed
		}
		funcRVA, ok := readU32(mem, ed.AddressOfFunctions+uint32(ordIndex)*4)
		if !ok || funcRVA == 0 || isForwarder(funcRVA, edtRVA, edtSize) {
			return 0, ErrExportLookupFailed
		}
		return moduleBase + uintptr(funcRVA), nil
	}
	return 0, ErrExportLookupFailed
}
