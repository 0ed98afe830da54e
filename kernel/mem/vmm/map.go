package vmm

import (
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

var (
	// nextAddrFn is used by tests to override the nextTableAddr
	// calculations installLeaf uses to clear a freshly allocated table.
	// When compiling the kernel this function is automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = flushTLBEntry
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// installLeaf walks the page tables reachable from the currently active (or
// temporarily repointed) recursive mapping for page's address, creating any
// missing intermediate table via allocFn along the way, and finally installs
// frame at the P1 entry with the given flags plus FlagPresent. A newly
// created intermediate entry gets flags with FlagNoExecute cleared, plus
// FlagPresent|FlagRW. It refuses to walk through an existing huge entry.
func installLeaf(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrHugePage
			return false
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		var tableFrame pmm.Frame
		tableFrame, err = allocFn()
		if err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagPresent | FlagRW | (flags &^ FlagNoExecute))

		// The table behind pte is freshly allocated; zero it before the
		// walk descends into it so stale frame contents never look like
		// valid entries.
		nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
		mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)

		return true
	})

	return err
}

// clearLeaf walks down to page's P1 entry and marks it not-present,
// returning ErrPageNotMapped if any intermediate table along the way is
// absent, or ErrHugePage if the walk would have to cross a huge entry.
func clearLeaf(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrPageNotMapped
			return false
		}
		if pte.HasFlags(FlagHugePage) {
			err = ErrHugePage
			return false
		}

		return true
	})

	return err
}

// mapTemporary establishes a temporary RW mapping of a physical memory frame
// to a fixed virtual address, overwriting any previous mapping. It exists
// solely to let code reach into a frame (e.g. a freshly allocated, not yet
// self-mapped page directory) as ordinary memory before that frame is
// reachable any other way.
func mapTemporary(frame pmm.Frame, allocFn FrameAllocatorFn) (Page, *kernel.Error) {
	if err := installLeaf(PageFromAddress(tempMappingAddr), frame, FlagRW, allocFn); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}
