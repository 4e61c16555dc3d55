// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

// buildRelocBlock assembles one IMAGE_BASE_RELOCATION block: a page RVA, a
// block size, and a run of (type<<12 | offset) uint16 entries.
func buildRelocBlock(pageRVA uint32, entries []uint16) []byte {
	size := 8 + len(entries)*2
	buf := make([]byte, size)
	writeU32(buf, 0, pageRVA)
	writeU32(buf, 4, uint32(size))
	for i, e := range entries {
		off := 8 + i*2
		buf[off] = byte(e)
		buf[off+1] = byte(e >> 8)
	}
	return buf
}

func TestRelocatorApplyHighLow(t *testing.T) {
	mem := make([]byte, 0x3000)
	writeU32(mem, 0x2000, 0x00401000)

	entry := uint16(ImageRelBasedHighLow)<<12 | 0x000
	block := buildRelocBlock(0x2000, []uint16{entry})
	copy(mem[0x1000:], block)

	r := Relocator{}
	ok := r.Apply(mem, 0x1000, uint32(len(block)), 0x10000)
	if !ok {
		t.Fatal("Apply returned false")
	}

	got, _ := readU32(mem, 0x2000)
	if got != 0x00411000 {
		t.Errorf("patched value = %#x, want %#x", got, 0x00411000)
	}
}

func TestRelocatorApplyDir64(t *testing.T) {
	mem := make([]byte, 0x3000)
	writeU64(mem, 0x2000, 0x0000000140001000)

	entry := uint16(ImageRelBasedDir64)<<12 | 0x000
	block := buildRelocBlock(0x2000, []uint16{entry})
	copy(mem[0x1000:], block)

	r := Relocator{}
	ok := r.Apply(mem, 0x1000, uint32(len(block)), -0x10000)
	if !ok {
		t.Fatal("Apply returned false")
	}

	got, _ := readU64(mem, 0x2000)
	want := uint64(int64(0x0000000140001000) - 0x10000)
	if got != want {
		t.Errorf("patched value = %#x, want %#x", got, want)
	}
}

func TestRelocatorApplyAbsoluteIsNoOp(t *testing.T) {
	mem := make([]byte, 0x3000)
	writeU32(mem, 0x2000, 0xDEADBEEF)

	entry := uint16(ImageRelBasedAbsolute) << 12
	block := buildRelocBlock(0x2000, []uint16{entry})
	copy(mem[0x1000:], block)

	r := Relocator{}
	if ok := r.Apply(mem, 0x1000, uint32(len(block)), 0x5000); !ok {
		t.Fatal("Apply returned false")
	}

	got, _ := readU32(mem, 0x2000)
	if got != 0xDEADBEEF {
		t.Errorf("absolute entry modified memory: got %#x", got)
	}
}

func TestRelocatorApplyNoTableWithZeroDelta(t *testing.T) {
	mem := make([]byte, 0x100)
	r := Relocator{}
	if ok := r.Apply(mem, 0, 0, 0); !ok {
		t.Fatal("Apply should succeed trivially when delta is zero and there is no table")
	}
}

func TestRelocatorApplyNoTableWithNonzeroDeltaFails(t *testing.T) {
	mem := make([]byte, 0x100)
	r := Relocator{}
	if ok := r.Apply(mem, 0, 0, 0x1000); ok {
		t.Fatal("Apply should fail: image moved but has no relocation table")
	}
}
