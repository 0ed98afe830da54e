package vmm

import "github.com/kestrel-os/kestrel/kernel"

// ErrCouldNotAllocatePages is returned by a PageAllocator when no
// sufficiently large contiguous virtual range is available.
var ErrCouldNotAllocatePages = &kernel.Error{Module: "vmm", Message: "couldn't allocate pages"}

// PageAllocator reserves ranges of the virtual address space for later
// mapping. It is the virtual-memory counterpart to pmm.FrameAllocator.
type PageAllocator interface {
	AllocatePages(count uint) (*AllocatedPages, *kernel.Error)
	DeallocatePages(PageRange)
}

// AllocatedPages is an owning token over a range of virtual pages reserved
// from a PageAllocator. It is normally embedded inside a MappedPages, which
// releases it on Close; it is exported on its own so an early-boot caller can
// reserve virtual space before a frame allocator even exists.
type AllocatedPages struct {
	pages     PageRange
	allocator PageAllocator
}

// NewAllocatedPages wraps an already-reserved page range together with the
// allocator that owns it.
func NewAllocatedPages(pages PageRange, allocator PageAllocator) *AllocatedPages {
	return &AllocatedPages{pages: pages, allocator: allocator}
}

// Pages returns the virtual range owned by this token.
func (ap *AllocatedPages) Pages() PageRange {
	return ap.pages
}

func (ap *AllocatedPages) release() {
	if ap.allocator != nil {
		ap.allocator.DeallocatePages(ap.pages)
	}
}

// merge absorbs other's range into ap; called only after MappedPages.Merge
// has already checked that the two ranges are contiguous and equally owned.
func (ap *AllocatedPages) merge(other *AllocatedPages) {
	ap.pages = PageRangeFromPages(ap.pages.Start(), other.pages.End())
}
