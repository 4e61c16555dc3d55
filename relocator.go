// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// Relocator applies base relocations to a mapped image. It is pure and
// byte-oriented: it never touches the OS, only the mem slice it is given,
// so the same code path patches a live mapping on Windows or a synthetic
// buffer in a test.
type Relocator struct{}

// Apply patches every relocation entry in the base relocation directory at
// [dirRVA, dirRVA+dirSize) against mem, adding delta to each patched site.
// It returns true when the image can run afterward: either delta is zero,
// or relocations were present and applied. A nonzero delta with no
// relocation directory means the image cannot be relocated to its actual
// base and Apply returns false without modifying mem.
func (Relocator) Apply(mem []byte, dirRVA, dirSize uint32, delta int64) bool {
	if dirSize == 0 {
		return delta == 0
	}

	end := dirRVA + dirSize
	pos := dirRVA
	for pos < end {
		pageRVA, ok := readU32(mem, pos)
		if !ok {
			break
		}
		blockSize, ok := readU32(mem, pos+4)
		if !ok || blockSize < 8 {
			break
		}
		if pageRVA == 0 {
			break
		}

		entryCount := (blockSize - 8) / 2
		for i := uint32(0); i < entryCount; i++ {
			entry, ok := readU16(mem, pos+8+i*2)
			if !ok {
				break
			}

			typ := entry >> 12
			off := uint32(entry & 0x0FFF)
			patchRVA := pageRVA + off

			switch typ {
			case ImageRelBasedAbsolute:
				// No-op, used to pad a block.
			case ImageRelBasedHighLow:
				v, ok := readU32(mem, patchRVA)
				if !ok {
					continue
				}
				writeU32(mem, patchRVA, uint32(int64(v)+delta))
			case ImageRelBasedDir64:
				v, ok := readU64(mem, patchRVA)
				if !ok {
					continue
				}
				writeU64(mem, patchRVA, uint64(int64(v)+delta))
			default:
				// Every other relocation type is silently ignored.
			}
		}

		pos += blockSize
	}

	return true
}
