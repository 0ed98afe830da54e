package vmm

import (
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/kfmt/early"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

var levelName = [pageLevels]string{"P4", "P3", "P2", "P1"}

var (
	// ErrPageInUse is returned when a mapping operation targets a page
	// that is already present.
	ErrPageInUse = &kernel.Error{Module: "vmm", Message: "page was already in use"}

	// ErrFrameCountMismatch is returned by MapTo/MapFrames when the page
	// and frame ranges passed in don't have the same length.
	ErrFrameCountMismatch = &kernel.Error{Module: "vmm", Message: "page count must equal frame count"}
)

// Mapper manipulates the page tables rooted at a specific P4 frame. A Mapper
// built over the currently active P4 mutates hardware state directly; one
// built over a foreign P4 (NewMapperWithP4) reaches it by temporarily
// repointing the active P4's recursive (511th) entry at it (see
// withActivated).
type Mapper struct {
	targetP4 pmm.Frame
}

// NewMapperFromCurrent builds a Mapper rooted at the page table that is
// currently installed in hardware.
func NewMapperFromCurrent() *Mapper {
	return &Mapper{targetP4: pmm.Frame(activePDTFn() >> mem.PageShift)}
}

// NewMapperWithP4 builds a Mapper rooted at an explicit P4 frame, which need
// not be the currently active one.
func NewMapperWithP4(p4 pmm.Frame) *Mapper {
	return &Mapper{targetP4: p4}
}

// TargetP4 returns the P4 frame this mapper operates on.
func (m *Mapper) TargetP4() pmm.Frame {
	return m.targetP4
}

// withActivated temporarily repoints the active P4's recursive (511th) entry
// at m.targetP4 for the duration of fn, if m isn't already the active table.
func (m *Mapper) withActivated(fn func()) {
	activeFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	if activeFrame == m.targetP4 {
		fn()
		return
	}

	lastEntryAddr := activeFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
	lastEntry := (*pageTableEntry)(unsafe.Pointer(lastEntryAddr))
	lastEntry.SetFrame(m.targetP4)
	flushTLBEntryFn(lastEntryAddr)

	fn()

	lastEntry.SetFrame(activeFrame)
	flushTLBEntryFn(lastEntryAddr)
}

func (m *Mapper) frameAllocator(allocator pmm.FrameAllocator) FrameAllocatorFn {
	return func() (pmm.Frame, *kernel.Error) {
		return allocator.AllocateFrame()
	}
}

// mapOnePage installs a single page->frame mapping, failing with
// ErrPageInUse if the page is already present.
func (m *Mapper) mapOnePage(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var opErr *kernel.Error

	m.withActivated(func() {
		if _, _, err := pteForAddress(page.Address()); err == nil {
			opErr = ErrPageInUse
			return
		}

		opErr = installLeaf(page, frame, flags, allocFn)
	})

	return opErr
}

// Map maps a single page against a freshly allocated frame from allocator.
func (m *Mapper) Map(page Page, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	return m.MapPages(PageRangeFromPages(page, page), flags, allocator)
}

// MapTo maps a single page to a specific physical frame.
func (m *Mapper) MapTo(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	return m.MapFrames(PageRangeFromPages(page, page), pmm.FrameRangeFromFrames(frame, frame), flags, allocator)
}

// MapFrames establishes a mapping for each page in pages against the
// corresponding frame in frames; both ranges must contain the same number of
// elements.
func (m *Mapper) MapFrames(pages PageRange, frames pmm.FrameRange, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	if pages.NumPages() != frames.NumFrames() {
		return nil, ErrFrameCountMismatch
	}

	allocFn := m.frameAllocator(allocator)

	frameList := make([]pmm.Frame, 0, frames.NumFrames())
	frames.ForEach(func(f pmm.Frame) bool {
		frameList = append(frameList, f)
		return true
	})

	idx := 0
	var opErr *kernel.Error
	pages.ForEach(func(p Page) bool {
		if opErr = m.mapOnePage(p, frameList[idx], flags, allocFn); opErr != nil {
			return false
		}
		idx++
		return true
	})
	if opErr != nil {
		return nil, opErr
	}

	mp := &MappedPages{pageTableP4: m.targetP4, pages: pages, flags: flags}
	armFinalizer(mp)
	return mp, nil
}

// MapPages allocates a fresh frame for every page in pages from allocator.
func (m *Mapper) MapPages(pages PageRange, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	allocFn := m.frameAllocator(allocator)

	var opErr *kernel.Error
	pages.ForEach(func(p Page) bool {
		frame, err := allocFn()
		if err != nil {
			opErr = err
			return false
		}
		if opErr = m.mapOnePage(p, frame, flags, allocFn); opErr != nil {
			return false
		}
		return true
	})
	if opErr != nil {
		return nil, opErr
	}

	mp := &MappedPages{pageTableP4: m.targetP4, pages: pages, flags: flags}
	armFinalizer(mp)
	return mp, nil
}

// MapAllocatedPages maps every page owned by ap against freshly allocated
// frames, producing a MappedPages that takes ownership of ap: releasing the
// returned handle also releases the virtual pages back to their allocator.
func (m *Mapper) MapAllocatedPages(ap *AllocatedPages, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	mp, err := m.MapPages(ap.pages, flags, allocator)
	if err != nil {
		return nil, err
	}
	mp.owned = ap
	return mp, nil
}

// MapAllocatedPagesTo maps every page owned by ap against the corresponding
// frame in frames, producing a MappedPages that owns ap.
func (m *Mapper) MapAllocatedPagesTo(ap *AllocatedPages, frames pmm.FrameRange, flags PageTableEntryFlag, allocator pmm.FrameAllocator) (*MappedPages, *kernel.Error) {
	mp, err := m.MapFrames(ap.pages, frames, flags, allocator)
	if err != nil {
		return nil, err
	}
	mp.owned = ap
	return mp, nil
}

// unmapRange tears down every page in pages, recording no frame ownership
// change (see DESIGN.md: unmapped frames are not returned to the allocator).
func (m *Mapper) unmapRange(pages PageRange) *kernel.Error {
	var opErr *kernel.Error

	m.withActivated(func() {
		pages.ForEach(func(p Page) bool {
			if err := clearLeaf(p); err != nil {
				opErr = err
				return false
			}
			return true
		})
	})

	if opErr == nil {
		broadcastShootdown(pages)
	}

	return opErr
}

// remapRange rewrites the flags for every page in pages, preserving each
// page's current frame, and issues one shootdown for the whole range.
func (m *Mapper) remapRange(pages PageRange, newFlags PageTableEntryFlag) *kernel.Error {
	var opErr *kernel.Error

	m.withActivated(func() {
		pages.ForEach(func(p Page) bool {
			pte, level, err := pteForAddress(p.Address())
			if err != nil {
				opErr = err
				return false
			}
			if level != pageLevels-1 {
				opErr = ErrHugePage
				return false
			}

			frame := pte.Frame()
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | newFlags)
			flushTLBEntryFn(p.Address())
			return true
		})
	})

	if opErr == nil {
		broadcastShootdown(pages)
	}

	return opErr
}

// DumpPTE logs the page table entry at every level (P4 down to P1, or down
// to whichever level terminates the walk) for virtAddr, for use while
// debugging a page fault. It stops descending as soon as it reaches an
// absent entry or a huge page.
func (m *Mapper) DumpPTE(virtAddr uintptr) {
	m.withActivated(func() {
		walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
			early.Printf("[vmm] %s entry: %16x flags: %16x\n", levelName[level], uintptr(*pte), uintptr(pte.Flags()))

			if !pte.HasFlags(FlagPresent) {
				return false
			}
			if level < pageLevels-1 && pte.HasFlags(FlagHugePage) {
				return false
			}
			return true
		})
	})
}
