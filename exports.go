// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "errors"

// ErrInvalidExportDirectorySize is returned when the export directory size
// is too small to hold an ImageExportDirectory.
var ErrInvalidExportDirectorySize = errors.New(
	"invalid export directory size")

// ImageExportDirectory represents the IMAGE_EXPORT_DIRECTORY structure,
// which immediately precedes the arrays of RVAs a module exposes.
type ImageExportDirectory struct {
	Characteristics       uint32 `json:"characteristics"`
	TimeDateStamp         uint32 `json:"time_date_stamp"`
	MajorVersion          uint16 `json:"major_version"`
	MinorVersion          uint16 `json:"minor_version"`
	Name                  uint32 `json:"name"`
	Base                  uint32 `json:"base"`
	NumberOfFunctions     uint32 `json:"number_of_functions"`
	NumberOfNames         uint32 `json:"number_of_names"`
	AddressOfFunctions    uint32 `json:"address_of_functions"`
	AddressOfNames        uint32 `json:"address_of_names"`
	AddressOfNameOrdinals uint32 `json:"address_of_name_ordinals"`
}

// ExportFunction represents a single exported symbol.
type ExportFunction struct {
	// Ordinal is Base + the function's index in AddressOfFunctions.
	Ordinal uint32 `json:"ordinal"`

	// FunctionRVA is the exported symbol's address, relative to the image
	// base. When the RVA falls inside the export directory itself, the
	// export is a forwarder and FunctionRVA should be ignored in favor of
	// Forwarder/ForwarderRVA.
	FunctionRVA uint32 `json:"function_rva"`

	// NameRVA is zero when the function is exported by ordinal only.
	NameRVA uint32 `json:"name_rva"`

	// Name is empty when the function is exported by ordinal only.
	Name string `json:"name"`

	// Forwarder holds "DLL.Symbol" when this export forwards to another
	// module instead of naming code in this one.
	Forwarder string `json:"forwarder,omitempty"`

	// ForwarderRVA is the RVA of the forwarder string, zero if not a
	// forwarder.
	ForwarderRVA uint32 `json:"forwarder_rva,omitempty"`
}

// Export represents the Export Table: the directory header plus the
// resolved function list.
type Export struct {
	Struct    ImageExportDirectory `json:"struct"`
	Name      string               `json:"name"`
	Functions []ExportFunction     `json:"functions"`
}

// parseExportDirectory parses the export directory and resolves every
// exported name, ordinal and address into pe.Export.
func (pe *RawImage) parseExportDirectory(rva, size uint32) error {
	exportDir := ImageExportDirectory{}
	exportDirSize := uint32(40)
	if size < exportDirSize {
		return ErrInvalidExportDirectorySize
	}

	offset := pe.GetOffsetFromRva(rva)
	err := pe.structUnpack(&exportDir, offset, exportDirSize)
	if err != nil {
		return err
	}

	functions := make([]ExportFunction, 0, exportDir.NumberOfFunctions)
	indexOf := make(map[uint32]int)
	addrOffset := pe.GetOffsetFromRva(exportDir.AddressOfFunctions)
	for i := uint32(0); i < exportDir.NumberOfFunctions; i++ {
		funcRVA, err := pe.ReadUint32(addrOffset + i*4)
		if err != nil {
			break
		}
		if funcRVA == 0 {
			continue
		}

		fn := ExportFunction{
			Ordinal:     exportDir.Base + i,
			FunctionRVA: funcRVA,
		}

		// A forwarder RVA points inside the export directory itself.
		if funcRVA >= rva && funcRVA < rva+size {
			fwdOffset := pe.GetOffsetFromRva(funcRVA)
			_, s := pe.readASCIIStringAtOffset(fwdOffset, 256)
			fn.Forwarder = s
			fn.ForwarderRVA = funcRVA
		}

		indexOf[i] = len(functions)
		functions = append(functions, fn)
	}

	// Map ordinals back to names via AddressOfNameOrdinals/AddressOfNames.
	nameOffset := pe.GetOffsetFromRva(exportDir.AddressOfNames)
	ordOffset := pe.GetOffsetFromRva(exportDir.AddressOfNameOrdinals)
	for i := uint32(0); i < exportDir.NumberOfNames; i++ {
		nameRVA, err := pe.ReadUint32(nameOffset + i*4)
		if err != nil {
			break
		}
		nameOrdinalIndex, err := pe.ReadUint16(ordOffset + i*2)
		if err != nil {
			break
		}
		pos, ok := indexOf[uint32(nameOrdinalIndex)]
		if !ok {
			continue
		}

		functions[pos].NameRVA = nameRVA
		functions[pos].Name = pe.getStringAtRVA(nameRVA, 256)
	}

	pe.Export = Export{
		Struct:    exportDir,
		Name:      pe.getStringAtRVA(exportDir.Name, 256),
		Functions: functions,
	}
	pe.HasExport = true
	return nil
}
