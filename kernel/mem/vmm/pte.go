package vmm

import (
	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

var (
	// ErrPageNotMapped is returned when looking up or tearing down a
	// virtual address that does not correspond to a present mapping.
	ErrPageNotMapped = &kernel.Error{Module: "vmm", Message: "page not mapped"}

	// ErrHugePage is returned whenever a mapping operation would need to
	// create or walk through a huge page. Huge pages are only ever
	// recognized during translation; this package never creates one.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "mapping code does not support huge pages"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a single page table entry: an encoded physical
// frame address plus a set of flags. The layout is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns every flag currently set on this entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) &^ ptePhysPageMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & ptePhysPageMask) >> mem.PageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// pteForAddress returns the final (P1, or a huge P2/P3) page table entry that
// corresponds to a particular virtual address, or ErrPageNotMapped if the
// page is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, uint8, *kernel.Error) {
	var (
		err     *kernel.Error
		entry   *pageTableEntry
		atLevel uint8
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrPageNotMapped
			return false
		}

		entry, atLevel = pte, pteLevel

		// A huge entry at P3 (level 1) or P2 (level 2) terminates the
		// walk early; there is no P1 entry to continue into.
		if pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage) {
			return false
		}

		return true
	})

	return entry, atLevel, err
}
