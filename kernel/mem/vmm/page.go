package vmm

import "github.com/kestrel-os/kestrel/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (f Page) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// PageRange describes a closed, inclusive range of contiguous virtual pages
// [Start, End].
type PageRange struct {
	start Page
	end   Page
}

// PageRangeFromPages builds a PageRange spanning [start, end].
func PageRangeFromPages(start, end Page) PageRange {
	return PageRange{start: start, end: end}
}

// Start returns the first page in the range.
func (r PageRange) Start() Page { return r.start }

// End returns the last page in the range (inclusive).
func (r PageRange) End() Page { return r.end }

// NumPages returns the number of pages spanned by this range. An empty range
// (end < start) reports zero.
func (r PageRange) NumPages() uint64 {
	if r.end < r.start {
		return 0
	}
	return uint64(r.end-r.start) + 1
}

// Empty returns true if this range contains no pages.
func (r PageRange) Empty() bool {
	return r.NumPages() == 0
}

// ForEach invokes fn once for every page in the range, in ascending order.
// Iteration stops early if fn returns false.
func (r PageRange) ForEach(fn func(Page) bool) {
	if r.NumPages() == 0 {
		return
	}
	for p := r.start; ; p++ {
		if !fn(p) {
			return
		}
		if p == r.end {
			return
		}
	}
}
