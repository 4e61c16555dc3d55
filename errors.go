// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "errors"

// Error kinds returned by the loading pipeline. Callers should compare
// against these with errors.Is; the concrete error returned by a failing
// operation wraps one of these with operation-specific context.
var (
	// ErrBadImageFormat is returned when the raw bytes are not a well-formed
	// PE image (bad headers, truncated sections, unsupported machine type).
	ErrBadImageFormat = errors.New("bad image format")

	// ErrNoEntryPoint is returned when a module has no usable entry point
	// to run DllMain/EXE startup against.
	ErrNoEntryPoint = errors.New("no entry point")

	// ErrOutOfMemory is returned when virtual memory could not be reserved
	// or committed for the image.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrImportResolution is returned when a required import module or
	// function could not be resolved.
	ErrImportResolution = errors.New("import resolution failed")

	// ErrProtectionFailed is returned when final page protections could not
	// be applied to one or more sections.
	ErrProtectionFailed = errors.New("section protection failed")

	// ErrAttachRejected is returned when DllMain rejects DLL_PROCESS_ATTACH.
	ErrAttachRejected = errors.New("DllMain rejected process attach")

	// ErrExportLookupFailed is returned when a symbol could not be found in
	// a module's export table.
	ErrExportLookupFailed = errors.New("export lookup failed")

	// ErrInvalidState is returned when an operation is attempted on a
	// Module that has already been disposed, or before it has been loaded.
	ErrInvalidState = errors.New("invalid module state")
)
