// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// pageAction is the result of finalizing one merged run of sections: either
// a protection to apply, or a decommit.
type pageAction struct {
	addr     uintptr
	size     uint32
	decommit bool
	prot     Protection
}

// finalizeSection is the per-section input to the merge pass: its actual
// start address (taken from MappedImage's per-section destination table), aligned start
// address, byte size, and raw characteristics.
type finalizeSection struct {
	addr        uintptr
	alignedAddr uintptr
	size        uint32
	chars       uint32
}

// protectionTable maps (executable, readable, writable) to a Win32 page
// protection constant, indexed as exec<<2 | read<<1 | write.
var protectionTable = [8]Protection{
	PageNoAccess,
	PageWriteCopy,
	PageReadOnly,
	PageReadWrite,
	PageExecute,
	PageExecuteWriteCopy,
	PageExecuteRead,
	PageExecuteReadWrite,
}

// SectionFinalizer assigns final page protections to a mapped image's
// sections and decommits discardable regions, merging the characteristics
// of sections that share a page.
type SectionFinalizer struct {
	PageSize         uint32
	SectionAlignment uint32
}

// Plan runs the merge pass described for SectionFinalizer and returns the
// ordered list of actions (protect or decommit) to apply. It never touches
// memory itself; Module.finalizeSections executes the plan through
// PlatformOps.
func (f SectionFinalizer) Plan(sections []finalizeSection) []pageAction {
	if len(sections) == 0 {
		return nil
	}

	var actions []pageAction
	cur := sections[0]

	finalize := func(s finalizeSection, last bool) {
		if s.size == 0 {
			return
		}
		if s.chars&ImageScnMemDiscardable != 0 {
			atPageStart := s.addr == s.alignedAddr
			sizeAligned := f.SectionAlignment == f.PageSize || s.size%f.PageSize == 0
			if atPageStart && (last || sizeAligned) {
				actions = append(actions, pageAction{addr: s.addr, size: s.size, decommit: true})
			}
			return
		}

		exec := s.chars&ImageScnMemExecute != 0
		read := s.chars&ImageScnMemRead != 0
		write := s.chars&ImageScnMemWrite != 0
		idx := 0
		if exec {
			idx |= 4
		}
		if read {
			idx |= 2
		}
		if write {
			idx |= 1
		}
		prot := protectionTable[idx]
		if s.chars&ImageScnMemNotCached != 0 {
			prot |= PageNoCache
		}
		actions = append(actions, pageAction{addr: s.addr, size: s.size, prot: prot})
	}

	for i := 1; i < len(sections); i++ {
		s := sections[i]
		if cur.alignedAddr == s.alignedAddr || cur.addr+uintptr(cur.size) > s.alignedAddr {
			curDiscardable := cur.chars&ImageScnMemDiscardable != 0
			sDiscardable := s.chars&ImageScnMemDiscardable != 0
			if !curDiscardable || !sDiscardable {
				cur.chars = (cur.chars | s.chars) &^ ImageScnMemDiscardable
			} else {
				cur.chars |= s.chars
			}
			cur.size = uint32(s.addr-cur.addr) + s.size
			continue
		}

		finalize(cur, false)
		cur = s
	}

	finalize(cur, true)
	return actions
}

// finalizeSectionSize returns the size a section contributes to the merge
// pass, falling back to the optional header's aggregate
// SizeOfInitializedData/SizeOfUninitializedData when SizeOfRawData is zero
// (the same fallback the source's section-size heuristic used).
func finalizeSectionSize(h ImageSectionHeader, sizeOfInitializedData, sizeOfUninitializedData uint32) uint32 {
	if h.SizeOfRawData != 0 {
		return h.SizeOfRawData
	}
	if h.Characteristics&ImageScnCntInitializedData != 0 {
		return sizeOfInitializedData
	}
	if h.Characteristics&ImageScnCntUninitializedData != 0 {
		return sizeOfUninitializedData
	}
	return 0
}
