// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/saferwall/peloader/internal/xlog"
)

// Options controls how a RawImage is parsed and how a Module built from it
// behaves once mapped.
type Options struct {
	// MaxImportDescriptors bounds how many import descriptors are walked,
	// by default (MaxDefaultImportDescriptorsCount). Guards against
	// malformed images with an unbounded or cyclic import table.
	MaxImportDescriptors uint32

	// MaxRelocEntriesCount bounds relocation entries parsed per block, by
	// default (MaxDefaultRelocEntriesCount).
	MaxRelocEntriesCount uint32

	// SectionEntropy computes Shannon entropy for every section while
	// parsing, by default (false).
	SectionEntropy bool

	// SystemInfo is carried on Options but not read by Mapper.Map or
	// Module.Load: both take page size and allocation granularity from
	// PlatformOps.SystemInfo, whatever this field holds.
	SystemInfo *SystemInfo

	// Logger receives parse and load diagnostics. Defaults to a stderr
	// logger filtered to warnings and above.
	Logger xlog.Logger
}

// SystemInfo is the subset of platform page/allocation geometry the Mapper
// needs to compute a section layout.
type SystemInfo struct {
	PageSize              uint32
	AllocationGranularity uint32
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	out := *o
	if out.MaxImportDescriptors == 0 {
		out.MaxImportDescriptors = MaxDefaultImportDescriptorsCount
	}
	if out.MaxRelocEntriesCount == 0 {
		out.MaxRelocEntriesCount = MaxDefaultRelocEntriesCount
	}
	return &out
}

func newHelper(logger xlog.Logger) *xlog.Helper {
	if logger == nil {
		logger = xlog.NewFilter(xlog.NewStdLogger(os.Stderr),
			xlog.FilterLevel(xlog.LevelWarn))
	}
	return xlog.NewHelper(logger)
}

// MaxDefaultImportDescriptorsCount is the default cap on import descriptors
// walked by parseImportDirectory.
const MaxDefaultImportDescriptorsCount = 0x1000

// RawImage is a parsed, not-yet-mapped PE file: raw file bytes plus the
// decoded headers, sections and data directories PeView and the Mapper
// need. Every field is derived purely from the byte slice; nothing here
// touches the OS.
type RawImage struct {
	DOSHeader   ImageDOSHeader `json:"dos_header,omitempty"`
	NtHeader    ImageNtHeader  `json:"nt_header,omitempty"`
	Sections    []Section      `json:"sections,omitempty"`
	Imports     []Import       `json:"imports,omitempty"`
	Export      Export         `json:"export,omitempty"`
	Relocations []Relocation   `json:"relocations,omitempty"`
	TLS         TLSDirectory   `json:"tls,omitempty"`
	Anomalies   []string       `json:"anomalies,omitempty"`
	Header      []byte

	FileInfo

	data          []byte
	mmapped       mmap.MMap
	size          uint32
	OverlayOffset int64
	f             *os.File
	opts          *Options
	logger        *xlog.Helper
}

// NewRaw builds a RawImage over an in-memory byte slice. The slice is kept,
// not copied; callers must not mutate it while the RawImage is in use.
func NewRaw(data []byte, opts *Options) (*RawImage, error) {
	opts = opts.withDefaults()

	img := &RawImage{
		data:   data,
		size:   uint32(len(data)),
		opts:   opts,
		logger: newHelper(opts.Logger),
	}
	return img, nil
}

// NewRawFile builds a RawImage by memory-mapping name read-only. Close must
// be called to release the mapping and the underlying file descriptor.
func NewRawFile(name string, opts *Options) (*RawImage, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	opts = opts.withDefaults()
	img := &RawImage{
		data:    data,
		mmapped: data,
		size:    uint32(len(data)),
		f:       f,
		opts:    opts,
		logger:  newHelper(opts.Logger),
	}
	return img, nil
}

// copySectionInto copies a section's raw file bytes into dest, which must be
// at least h.SizeOfRawData long, zero-filling any remainder of dest.
func (pe *RawImage) copySectionInto(h ImageSectionHeader, dest []byte) {
	for i := range dest {
		dest[i] = 0
	}
	if h.SizeOfRawData == 0 {
		return
	}
	start := h.PointerToRawData
	end := start + h.SizeOfRawData
	if uint64(end) > uint64(len(pe.data)) {
		if uint64(start) >= uint64(len(pe.data)) {
			return
		}
		end = uint32(len(pe.data))
	}
	n := copy(dest, pe.data[start:end])
	_ = n
}

// Close releases the memory mapping and file descriptor, if any. It is a
// no-op for a RawImage built from NewRaw.
func (pe *RawImage) Close() error {
	if pe.mmapped != nil {
		_ = pe.mmapped.Unmap()
		pe.mmapped = nil
	}
	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

// Parse decodes the DOS header, NT headers, section table and the data
// directories this package understands (export, import, base relocation,
// TLS). Other directories (resources, debug, bound imports, delay
// imports, exceptions, load config, the CLR header, security/certificates)
// are not parsed; a live loader has no use for them. Probe decodes no
// data directory at all.
func (pe *RawImage) Parse() error {
	if pe.size < TinyPESize {
		return ErrInvalidPESize
	}

	if err := pe.ParseDOSHeader(); err != nil {
		return err
	}

	if err := pe.ParseNTHeader(); err != nil {
		return err
	}

	if err := pe.ParseSectionHeader(); err != nil {
		return err
	}

	return pe.ParseDataDirectories()
}

// String stringifies a data directory entry.
func (entry ImageDirectoryEntry) String() string {
	dataDirMap := map[ImageDirectoryEntry]string{
		ImageDirectoryEntryExport:       "Export",
		ImageDirectoryEntryImport:       "Import",
		ImageDirectoryEntryResource:     "Resource",
		ImageDirectoryEntryException:    "Exception",
		ImageDirectoryEntryCertificate:  "Security",
		ImageDirectoryEntryBaseReloc:    "Relocation",
		ImageDirectoryEntryDebug:        "Debug",
		ImageDirectoryEntryArchitecture: "Architecture",
		ImageDirectoryEntryGlobalPtr:    "GlobalPtr",
		ImageDirectoryEntryTLS:          "TLS",
		ImageDirectoryEntryLoadConfig:   "LoadConfig",
		ImageDirectoryEntryBoundImport:  "BoundImport",
		ImageDirectoryEntryIAT:          "IAT",
		ImageDirectoryEntryDelayImport:  "DelayImport",
		ImageDirectoryEntryCLR:          "CLR",
		ImageDirectoryEntryReserved:     "Reserved",
	}
	return dataDirMap[entry]
}

// ParseDataDirectories decodes the subset of the 16-entry data directory
// array this package acts on while loading: export, import, base
// relocation and TLS. Every other directory is left untouched.
func (pe *RawImage) ParseDataDirectories() error {
	foundErr := false
	oh32 := ImageOptionalHeader32{}
	oh64 := ImageOptionalHeader64{}

	switch pe.Is64 {
	case true:
		oh64 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
	case false:
		oh32 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
	}

	funcMaps := map[ImageDirectoryEntry](func(uint32, uint32) error){
		ImageDirectoryEntryExport:    pe.parseExportDirectory,
		ImageDirectoryEntryImport:    pe.parseImportDirectory,
		ImageDirectoryEntryBaseReloc: pe.parseRelocDirectory,
		ImageDirectoryEntryTLS:       pe.parseTLSDirectory,
	}

	for entryIndex, parseFn := range funcMaps {
		var va, size uint32
		switch pe.Is64 {
		case true:
			dirEntry := oh64.DataDirectory[entryIndex]
			va, size = dirEntry.VirtualAddress, dirEntry.Size
		case false:
			dirEntry := oh32.DataDirectory[entryIndex]
			va, size = dirEntry.VirtualAddress, dirEntry.Size
		}

		if va == 0 {
			continue
		}

		func() {
			// Keep parsing the remaining directories even if one panics on
			// a malformed image.
			defer func() {
				if e := recover(); e != nil {
					pe.logger.Errorf("unhandled exception parsing data directory %s: %v",
						entryIndex.String(), e)
					foundErr = true
				}
			}()

			if err := parseFn(va, size); err != nil {
				pe.logger.Warnf("failed to parse data directory %s: %v",
					entryIndex.String(), err)
			}
		}()
	}

	if foundErr {
		return errors.New("data directory parsing failed")
	}
	return nil
}
