// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"fmt"

	"github.com/saferwall/peloader/internal/xlog"
)

// Module is the orchestrator owning one mapped image's lifecycle: the
// memory reservation, the imported module handles, and whether the image
// has been successfully initialized. A Module is not safe for concurrent
// use; callers serialize access externally.
type Module struct {
	platform PlatformOps
	logger   *xlog.Helper

	image       *MappedImage
	importHandles []uintptr

	initialized bool
	relocated   bool
	disposed    bool
}

// NewModule builds a Module bound to platform. Pass NewPlatformOps() on
// Windows for the real loader; a fake PlatformOps is useful in tests that
// only exercise the pure layout/patch stages.
func NewModule(platform PlatformOps, logger xlog.Logger) *Module {
	return &Module{
		platform: platform,
		logger:   newHelper(logger),
	}
}

// runTLS and the attach/detach/callEntryRaw methods are implemented
// per-platform: module_windows.go carries the real syscall-backed
// behavior, module_other.go a stub that returns errWindowsOnly (which wraps
// ErrInvalidState) so the
// package still builds (and its pure stages remain testable) off Windows.

// Load runs the full mapping pipeline over data: parse, map, relocate, bind
// imports, finalize section protections, run TLS callbacks, then (for
// DLLs) invoke DllMain with DLL_PROCESS_ATTACH. For EXEs the entry point is
// stored but not invoked; call CallEntry separately.
func (m *Module) Load(data []byte, opts *Options) error {
	raw, err := NewRaw(data, opts)
	if err != nil {
		return err
	}
	if err := raw.Parse(); err != nil {
		return err
	}
	return m.loadParsed(raw)
}

// loadParsed runs the mapping pipeline over an already-parsed RawImage, the
// shared tail of Load and LoadFile.
func (m *Module) loadParsed(raw *RawImage) (err error) {
	if m.image != nil {
		return fmt.Errorf("%w: module already loaded", ErrInvalidState)
	}

	mapper := Mapper{Platform: m.platform}
	mapped, err := mapper.Map(raw)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			for _, h := range m.importHandles {
				_ = m.platform.FreeLibrary(h)
			}
			m.importHandles = nil
			if mapped != nil {
				_ = m.platform.Free(mapped.Base)
			}
			m.image = nil
		}
	}()

	var relocator Relocator
	delta := mapped.Delta
	relocated := relocator.Apply(mapped.mem, mapped.RelocDirRVA, mapped.RelocDirSize, delta)
	m.relocated = relocated
	if !relocated {
		return fmt.Errorf("%w: image requires relocation but has no relocation table", ErrBadImageFormat)
	}

	binder := ImportBinder{Resolver: m.platform, Is64: mapped.Is64}
	handles, err := binder.Bind(mapped.mem, mapped.ImportDirRVA, mapped.ImportDirSize)
	if err != nil {
		return err
	}
	m.importHandles = handles

	sysInfo := m.platform.SystemInfo()
	finalizer := SectionFinalizer{PageSize: sysInfo.PageSize, SectionAlignment: mapped.SectionAlignment}
	if err := m.finalizeSections(mapped, finalizer); err != nil {
		return err
	}

	var tlsRunner TlsRunner
	tlsRunner.Is64 = mapped.Is64
	if err := m.runTLS(mapped, tlsRunner); err != nil {
		return err
	}

	m.image = mapped

	if mapped.IsDLL {
		ok, attachErr := m.attach(mapped)
		if attachErr != nil {
			return attachErr
		}
		if !ok {
			return ErrAttachRejected
		}
		m.initialized = true
	}

	return nil
}

// LoadFile runs the same pipeline as Load, reading path via a read-only
// memory mapping instead of requiring the caller to hold the whole image in
// a byte slice, mirroring the teacher's file-backed constructor.
func (m *Module) LoadFile(path string, opts *Options) error {
	raw, err := NewRawFile(path, opts)
	if err != nil {
		return err
	}
	defer raw.Close()

	if err := raw.Parse(); err != nil {
		return err
	}
	return m.loadParsed(raw)
}

// CallEntry invokes an EXE's entry point and returns its result. Valid only
// for a relocated, non-DLL image with a stored entry point.
func (m *Module) CallEntry() (int32, error) {
	if m.disposed || m.image == nil {
		return 0, ErrInvalidState
	}
	if m.image.IsDLL || !m.relocated || m.image.EntryPointRVA == 0 {
		return 0, fmt.Errorf("%w: not an executable entry point", ErrInvalidState)
	}
	return m.callEntryRaw(m.image)
}

// GetFunction resolves name against the loaded image's own export table,
// using exact case-sensitive matching. Valid only for a successfully
// initialized DLL.
func (m *Module) GetFunction(name string) (uintptr, error) {
	if m.disposed || m.image == nil || !m.initialized {
		return 0, ErrInvalidState
	}
	return LoadedModuleExportByName(m.image.mem, m.image.Base, m.image.exportDirRVA, m.image.exportDirSize, name)
}

// Dispose tears the module down: DLL detach (if initialized), free every
// imported module handle, release the image reservation, then clear state.
// Idempotent.
func (m *Module) Dispose() error {
	if m.disposed {
		return nil
	}
	if m.initialized && m.image != nil {
		_, _ = m.detach(m.image)
	}
	for _, h := range m.importHandles {
		if InvalidHandle(h) {
			continue
		}
		_ = m.platform.FreeLibrary(h)
	}
	m.importHandles = nil

	if m.image != nil {
		_ = m.platform.Free(m.image.Base)
		m.image = nil
	}

	m.initialized = false
	m.relocated = false
	m.disposed = true
	return nil
}

func (m *Module) finalizeSections(mi *MappedImage, f SectionFinalizer) error {
	plan := mi.finalizePlan(f.PageSize)
	for _, action := range plan {
		if action.decommit {
			if err := m.platform.Decommit(action.addr, action.size); err != nil {
				return err
			}
			continue
		}
		if err := m.platform.Protect(action.addr, action.size, action.prot); err != nil {
			return err
		}
	}
	return nil
}

