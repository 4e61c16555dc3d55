// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestSectionFinalizerPlanSeparatePages(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x1000, chars: ImageScnMemExecute | ImageScnMemRead},
		{addr: 0x2000, alignedAddr: 0x2000, size: 0x1000, chars: ImageScnMemRead | ImageScnMemWrite},
	}

	actions := f.Plan(sections)
	if len(actions) != 2 {
		t.Fatalf("len(actions) = %d, want 2", len(actions))
	}
	if actions[0].prot != PageExecuteRead {
		t.Errorf("actions[0].prot = %#x, want %#x", actions[0].prot, PageExecuteRead)
	}
	if actions[1].prot != PageReadWrite {
		t.Errorf("actions[1].prot = %#x, want %#x", actions[1].prot, PageReadWrite)
	}
}

func TestSectionFinalizerPlanMergesSharedPage(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x200, chars: ImageScnMemRead},
		{addr: 0x1200, alignedAddr: 0x1000, size: 0x200, chars: ImageScnMemRead | ImageScnMemWrite},
	}

	actions := f.Plan(sections)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1 (sections share a page)", len(actions))
	}
	if actions[0].prot != PageReadWrite {
		t.Errorf("merged prot = %#x, want %#x", actions[0].prot, PageReadWrite)
	}
	if actions[0].size != 0x400 {
		t.Errorf("merged size = %#x, want 0x400", actions[0].size)
	}
}

func TestSectionFinalizerPlanNoCacheBit(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x1000, chars: ImageScnMemRead | ImageScnMemNotCached},
	}

	actions := f.Plan(sections)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
	want := PageReadOnly | PageNoCache
	if actions[0].prot != want {
		t.Errorf("prot = %#x, want %#x", actions[0].prot, want)
	}
}

func TestSectionFinalizerPlanDecommitsDiscardableAtPageStart(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x1000, chars: ImageScnMemDiscardable},
	}

	actions := f.Plan(sections)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
	if !actions[0].decommit {
		t.Error("expected a decommit action for a page-aligned discardable section")
	}
	if actions[0].addr != 0x1000 || actions[0].size != 0x1000 {
		t.Errorf("decommit addr/size = %#x/%#x, want 0x1000/0x1000", actions[0].addr, actions[0].size)
	}
}

func TestSectionFinalizerPlanSkipsDiscardableNotAtPageStart(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1080, alignedAddr: 0x1000, size: 0x80, chars: ImageScnMemDiscardable},
	}

	actions := f.Plan(sections)
	if len(actions) != 0 {
		t.Fatalf("len(actions) = %d, want 0: section doesn't start on a page boundary", len(actions))
	}
}

func TestSectionFinalizerPlanDecommitsUnalignedDiscardableWhenLast(t *testing.T) {
	// SectionAlignment != PageSize so sizeAligned falls through to the
	// size%PageSize check, which fails for this section (size 0x80): only
	// the "last" clause can still allow the decommit.
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x2000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x80, chars: ImageScnMemDiscardable},
	}

	actions := f.Plan(sections)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1: a trailing discardable section always decommits", len(actions))
	}
	if !actions[0].decommit {
		t.Error("expected decommit")
	}
}

func TestSectionFinalizerPlanMixedDiscardableMergeDropsDiscardableFlag(t *testing.T) {
	f := SectionFinalizer{PageSize: 0x1000, SectionAlignment: 0x1000}
	sections := []finalizeSection{
		{addr: 0x1000, alignedAddr: 0x1000, size: 0x200, chars: ImageScnMemRead},
		{addr: 0x1200, alignedAddr: 0x1000, size: 0x200, chars: ImageScnMemDiscardable | ImageScnMemRead},
	}

	actions := f.Plan(sections)
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
	if actions[0].decommit {
		t.Error("merging a non-discardable section with a discardable one must drop the discardable flag, not decommit")
	}
	if actions[0].prot != PageReadOnly {
		t.Errorf("prot = %#x, want %#x", actions[0].prot, PageReadOnly)
	}
}

func TestFinalizeSectionSizeFallsBackToAggregateSizes(t *testing.T) {
	h := ImageSectionHeader{SizeOfRawData: 0, Characteristics: ImageScnCntUninitializedData}
	if got := finalizeSectionSize(h, 0x1000, 0x2000); got != 0x2000 {
		t.Errorf("finalizeSectionSize = %#x, want 0x2000", got)
	}

	h2 := ImageSectionHeader{SizeOfRawData: 0x300}
	if got := finalizeSectionSize(h2, 0x1000, 0x2000); got != 0x300 {
		t.Errorf("finalizeSectionSize = %#x, want 0x300 (SizeOfRawData takes priority)", got)
	}
}
