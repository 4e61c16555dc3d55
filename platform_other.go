// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build !windows

package pe

import "fmt"

// errWindowsOnly wraps ErrInvalidState for operations that require a
// Windows host; the package parses and inspects images on any platform but
// can only map and run one on Windows.
var errWindowsOnly = fmt.Errorf("%w: loader requires a Windows host", ErrInvalidState)

// nonePlatform is a PlatformOps stub for non-Windows hosts. It allows this
// package to build and its pure, byte-oriented logic to be tested anywhere,
// while any attempt to actually touch OS memory or libraries fails
// predictably instead of silently doing nothing.
type nonePlatform struct{}

// NewPlatformOps returns a stub PlatformOps on non-Windows hosts; every
// method returns errWindowsOnly.
func NewPlatformOps() PlatformOps {
	return nonePlatform{}
}

func (nonePlatform) Reserve(uintptr, uint32) (uintptr, error) { return 0, errWindowsOnly }
func (nonePlatform) Free(uintptr) error                       { return errWindowsOnly }
func (nonePlatform) Protect(uintptr, uint32, Protection) error { return errWindowsOnly }
func (nonePlatform) Decommit(uintptr, uint32) error            { return errWindowsOnly }
func (nonePlatform) SystemInfo() SystemInfo {
	return SystemInfo{PageSize: 4096, AllocationGranularity: 65536}
}
func (nonePlatform) LoadLibrary(string) (uintptr, error)              { return 0, errWindowsOnly }
func (nonePlatform) FreeLibrary(uintptr) error                        { return errWindowsOnly }
func (nonePlatform) ProcAddressByName(uintptr, string) (uintptr, error) {
	return 0, errWindowsOnly
}
func (nonePlatform) ProcAddressByOrdinal(uintptr, uint16) (uintptr, error) {
	return 0, errWindowsOnly
}
