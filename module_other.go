// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build !windows

package pe

// On a non-Windows host with the platform NewPlatformOps returns,
// Mapper.Map already fails at the Reserve step (nonePlatform.Reserve
// returns errWindowsOnly), so Load never reaches these. With another
// PlatformOps (such as the tests' fake) Load gets as far as runTLS and
// fails there with errWindowsOnly. They exist so the package builds and its pure stages
// (RawImage parsing, Relocator, ImportBinder, SectionFinalizer.Plan,
// TlsRunner.Callbacks, ExportWalker) stay testable off Windows.

func (m *Module) runTLS(mi *MappedImage, r TlsRunner) error {
	return errWindowsOnly
}

func (m *Module) attach(mi *MappedImage) (bool, error) {
	return false, errWindowsOnly
}

func (m *Module) detach(mi *MappedImage) (bool, error) {
	return false, errWindowsOnly
}

func (m *Module) callEntryRaw(mi *MappedImage) (int32, error) {
	return 0, errWindowsOnly
}
