// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// readU16 reads a little-endian uint16 at offset off in mem, or ok=false if
// it doesn't fit.
func readU16(mem []byte, off uint32) (uint16, bool) {
	if uint64(off)+2 > uint64(len(mem)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(mem[off:]), true
}

// readU32 reads a little-endian uint32 at offset off in mem.
func readU32(mem []byte, off uint32) (uint32, bool) {
	if uint64(off)+4 > uint64(len(mem)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(mem[off:]), true
}

// readU64 reads a little-endian uint64 at offset off in mem.
func readU64(mem []byte, off uint32) (uint64, bool) {
	if uint64(off)+8 > uint64(len(mem)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(mem[off:]), true
}

// writeU32 writes a little-endian uint32 at offset off in mem.
func writeU32(mem []byte, off uint32, v uint32) bool {
	if uint64(off)+4 > uint64(len(mem)) {
		return false
	}
	binary.LittleEndian.PutUint32(mem[off:], v)
	return true
}

// writeU64 writes a little-endian uint64 at offset off in mem.
func writeU64(mem []byte, off uint32, v uint64) bool {
	if uint64(off)+8 > uint64(len(mem)) {
		return false
	}
	binary.LittleEndian.PutUint64(mem[off:], v)
	return true
}

// readCString reads a NUL-terminated ASCII string at offset off in mem, up
// to maxLen bytes.
func readCString(mem []byte, off uint32, maxLen uint32) string {
	if uint64(off) >= uint64(len(mem)) {
		return ""
	}
	end := off
	limit := off + maxLen
	if uint64(limit) > uint64(len(mem)) {
		limit = uint32(len(mem))
	}
	for end < limit && mem[end] != 0 {
		end++
	}
	return string(mem[off:end])
}
