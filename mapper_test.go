// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"testing"
)

func parsedRaw(t *testing.T, img []byte) *RawImage {
	t.Helper()
	raw, err := NewRaw(img, nil)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	if err := raw.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return raw
}

func TestMapperMapReservesAndCopiesSections(t *testing.T) {
	spec := minimalSpec()
	spec.sections[0].data = []byte{0xAA, 0xBB, 0xCC, 0xDD}
	img := buildImage(spec)
	raw := parsedRaw(t, img)

	plat := newFakePlatform(4096)
	mapped, err := Mapper{Platform: plat}.Map(raw)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if mapped.Base == 0 {
		t.Fatal("expected nonzero base")
	}
	if mapped.EntryPointRVA != 0x1000 {
		t.Errorf("EntryPointRVA = %#x, want 0x1000", mapped.EntryPointRVA)
	}

	got := mapped.mem[0x1000 : 0x1000+4]
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("section bytes = %x, want %x", got, want)
		}
	}
}

func TestMapperMapRejectsMachineMismatch(t *testing.T) {
	spec := minimalSpec()
	// Bitwise complement is guaranteed to differ from HostMachine(),
	// regardless of the architecture actually running this test.
	spec.machine = ^uint16(HostMachine())
	img := buildImage(spec)
	raw := parsedRaw(t, img)

	_, err := Mapper{Platform: newFakePlatform(4096)}.Map(raw)
	if err == nil {
		t.Fatal("expected Map to reject a cross-architecture image")
	}
	if !errors.Is(err, ErrBadImageFormat) {
		t.Fatalf("error = %v, want wrapping %v", err, ErrBadImageFormat)
	}
}

func TestMapperMapRejectsMissingEntryPoint(t *testing.T) {
	spec := minimalSpec()
	spec.entryRVA = 0
	img := buildImage(spec)
	raw := parsedRaw(t, img)

	_, err := Mapper{Platform: newFakePlatform(4096)}.Map(raw)
	if err != ErrNoEntryPoint {
		t.Fatalf("Map error = %v, want %v", err, ErrNoEntryPoint)
	}
}

func TestMapperMapPatchesImageBaseWhenRelocated(t *testing.T) {
	// fakePlatform.Reserve always hands back a freshly allocated Go buffer,
	// never the requested preferred address, so Map always takes the
	// nonzero-delta path here and must patch the mapped header's ImageBase.
	img := buildImage(minimalSpec())
	raw := parsedRaw(t, img)

	mapped, err := Mapper{Platform: newFakePlatform(4096)}.Map(raw)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if mapped.Delta == 0 {
		t.Fatal("expected a nonzero relocation delta against a fake allocator")
	}

	ohOffset := testLfanew + 4 + 20
	got, ok := readU32(mapped.mem, uint32(ohOffset+28))
	if !ok {
		t.Fatal("could not read patched ImageBase")
	}
	// writeImageBase truncates to 32 bits for a PE32 image, matching the
	// field width a real 32-bit process (whose address space never exceeds
	// 4 GiB) would actually need.
	if got != uint32(mapped.Base) {
		t.Errorf("patched ImageBase = %#x, want %#x", got, uint32(mapped.Base))
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ x, a, want uint32 }{
		{0, 0x1000, 0},
		{1, 0x1000, 0x1000},
		{0x1000, 0x1000, 0x1000},
		{0x1001, 0x1000, 0x2000},
	}
	for _, c := range cases {
		if got := alignUp(c.x, c.a); got != c.want {
			t.Errorf("alignUp(%#x, %#x) = %#x, want %#x", c.x, c.a, got, c.want)
		}
	}
}
