// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// tlsDir32Size and tlsDir64Size are sizeof(IMAGE_TLS_DIRECTORY32/64): four
// pointer-width fields (uint32 or uint64) followed by two uint32 fields,
// SizeOfZeroFill and Characteristics.
const (
	tlsDir32Size = 24
	tlsDir64Size = 40
)

// TlsRunner parses the callback list out of a mapped image's TLS directory.
// It is pure and byte-oriented like Relocator and ImportBinder: it reads mem
// but never invokes anything, leaving callback dispatch to the Windows-only
// counterpart.
type TlsRunner struct {
	Is64 bool
}

// Callbacks returns, in order, the TLS callback addresses (as VAs, i.e.
// absolute addresses under base) read from the null-terminated callback
// array, without the terminating zero, found via the TLS
// directory at [dirRVA, dirRVA+dirSize) within mem. Relocator.Apply must
// have already run, since AddressOfCallBacks and the callback array entries
// are VAs fixed up through ordinary base relocations. Returns nil if there
// is no TLS directory or no callback array.
func (r TlsRunner) Callbacks(mem []byte, base uintptr, dirRVA, dirSize uint32) []uintptr {
	if dirSize == 0 {
		return nil
	}

	var addressOfCallbacks uint64
	var ok bool
	if r.Is64 {
		if dirSize < tlsDir64Size {
			return nil
		}
		addressOfCallbacks, ok = readU64(mem, dirRVA+24)
	} else {
		if dirSize < tlsDir32Size {
			return nil
		}
		var v uint32
		v, ok = readU32(mem, dirRVA+12)
		addressOfCallbacks = uint64(v)
	}
	if !ok || addressOfCallbacks == 0 {
		return nil
	}

	arrayRVA := uint32(addressOfCallbacks - uint64(base))

	var callbacks []uintptr
	stride := uint32(4)
	if r.Is64 {
		stride = 8
	}

	for off := uint32(0); ; off += stride {
		var va uint64
		if r.Is64 {
			va, ok = readU64(mem, arrayRVA+off)
		} else {
			var v uint32
			v, ok = readU32(mem, arrayRVA+off)
			va = uint64(v)
		}
		if !ok || va == 0 {
			break
		}
		callbacks = append(callbacks, uintptr(va))
		if len(callbacks) > 0x1000 {
			break
		}
	}

	return callbacks
}
