package vmm

import (
	"runtime"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/kfmt/early"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

var (
	// ErrNotWritable is returned by AsMut/AsSliceMut when the underlying
	// mapping does not have write permission.
	ErrNotWritable = &kernel.Error{Module: "vmm", Message: "MappedPages were not writable"}

	// ErrNotExecutable is returned by AsFunc when the underlying mapping
	// forbids instruction fetch.
	ErrNotExecutable = &kernel.Error{Module: "vmm", Message: "MappedPages were not executable"}

	// ErrTypeOutOfBounds is returned by As/AsMut when the requested type
	// and offset don't fit within the mapping.
	ErrTypeOutOfBounds = &kernel.Error{Module: "vmm", Message: "requested type and offset would not fit within the MappedPages bounds"}

	// ErrSliceOutOfBounds is returned by AsSlice/AsSliceMut for the same
	// reason as ErrTypeOutOfBounds.
	ErrSliceOutOfBounds = &kernel.Error{Module: "vmm", Message: "requested slice length and offset would not fit within the MappedPages bounds"}

	// Merge precondition violations.
	ErrMergeDifferentPageTable = &kernel.Error{Module: "vmm", Message: "cannot merge MappedPages from different page tables"}
	ErrMergeDifferentFlags     = &kernel.Error{Module: "vmm", Message: "cannot merge MappedPages with different flags"}
	ErrMergeNotContiguous      = &kernel.Error{Module: "vmm", Message: "MappedPages are not adjacent"}
	ErrMergeAllocationMismatch = &kernel.Error{Module: "vmm", Message: "cannot merge an allocated MappedPages with a non-allocated one"}
)

// MappedPages is an owning handle over a live virtual address range. Closing
// it unmaps the range and, if it owns its virtual pages, releases them back
// to their allocator. A MappedPages must not be copied; pass it by pointer.
type MappedPages struct {
	// pageTableP4 is the P4 frame this mapping lives under.
	pageTableP4 pmm.Frame

	// pages is the virtual range covered by this handle.
	pages PageRange

	// owned is set when this handle owns its virtual page range (it was
	// produced via MapAllocatedPages/MapAllocatedPagesTo or DeepCopy);
	// nil when it wraps a range the caller still owns, e.g. an
	// early-boot identity mapping.
	owned *AllocatedPages

	flags PageTableEntryFlag

	closed bool
}

// Empty returns a MappedPages handle over no pages. Closing it is a no-op.
func Empty() *MappedPages {
	// A zero PageRange spans page 0 (the range is inclusive), so the empty
	// range is built with end < start.
	return &MappedPages{pageTableP4: pmm.Frame(activePDTFn() >> mem.PageShift), pages: PageRangeFromPages(1, 0), closed: true}
}

// Pages returns the virtual page range covered by this handle.
func (mp *MappedPages) Pages() PageRange {
	return mp.pages
}

// Flags returns the page table entry flags this mapping was created with.
func (mp *MappedPages) Flags() PageTableEntryFlag {
	return mp.flags
}

// Start returns the first virtual page covered by this handle.
func (mp *MappedPages) Start() Page {
	return mp.pages.Start()
}

// End returns the last virtual page covered by this handle.
func (mp *MappedPages) End() Page {
	return mp.pages.End()
}

// sizeInBytes reports the number of bytes spanned by this handle's pages.
func (mp *MappedPages) sizeInBytes() uintptr {
	return uintptr(mp.pages.NumPages()) * uintptr(mem.PageSize)
}

// Close unmaps this handle's pages and releases any owned virtual pages.
// It is always safe to call, including on an already-empty handle, and it
// never returns a non-nil error for conditions it can't recover from (a
// foreign P4, an unmap failure) — those are logged instead, since a
// teardown path that can fail defeats the purpose of making Close safe to
// call unconditionally from a defer. Close does not consult a frame
// allocator, and the unmapped frames are not returned to one.
func (mp *MappedPages) Close() error {
	if mp.closed || mp.pages.Empty() {
		mp.closed = true
		return nil
	}

	mapper := NewMapperFromCurrent()
	if mapper.TargetP4() != mp.pageTableP4 {
		early.Printf("[vmm] refusing to unmap MappedPages belonging to a foreign page table\n")
		return nil
	}

	if err := mapper.unmapRange(mp.pages); err != nil {
		early.Printf("[vmm] error while unmapping MappedPages: %s\n", err.Error())
	}

	mp.closed = true
	runtime.SetFinalizer(mp, nil)

	if mp.owned != nil {
		mp.owned.release()
		mp.owned = nil
	}

	return nil
}

// armFinalizer installs a GC backstop that logs (never panics) if a
// MappedPages is collected without Close having been called, the same
// contract *os.File relies on.
func armFinalizer(mp *MappedPages) {
	runtime.SetFinalizer(mp, func(leaked *MappedPages) {
		if !leaked.closed {
			early.Printf("[vmm] MappedPages covering pages [%d, %d] was garbage collected without Close()\n", leaked.pages.Start(), leaked.pages.End())
		}
	})
}

// Merge extends mp to additionally cover other's range, which must
// immediately follow mp's. On success other is defused: it no longer owns
// its pages or frames, and its own Close becomes a no-op.
func (mp *MappedPages) Merge(other *MappedPages) *kernel.Error {
	if mp.pageTableP4 != other.pageTableP4 {
		return ErrMergeDifferentPageTable
	}
	if mp.flags != other.flags {
		return ErrMergeDifferentFlags
	}
	if other.pages.Start() != mp.pages.End()+1 {
		return ErrMergeNotContiguous
	}
	if (mp.owned == nil) != (other.owned == nil) {
		return ErrMergeAllocationMismatch
	}

	mp.pages = PageRangeFromPages(mp.pages.Start(), other.pages.End())
	if mp.owned != nil {
		mp.owned.merge(other.owned)
	}

	other.closed = true
	runtime.SetFinalizer(other, nil)
	other.pages = PageRange{}

	return nil
}

// Remap rewrites this mapping's permissions in place, preserving the
// backing frames, and records the new flags on success.
func (mp *MappedPages) Remap(mapper *Mapper, newFlags PageTableEntryFlag) *kernel.Error {
	if newFlags == mp.flags {
		return nil
	}

	if err := mapper.remapRange(mp.pages, newFlags); err != nil {
		return err
	}

	mp.flags = newFlags
	return nil
}

// DeepCopy allocates a fresh virtual range of the same size, byte-copies this
// mapping's contents into it, and returns a new owning handle with the
// requested flags.
func DeepCopy(mp *MappedPages, newFlags PageTableEntryFlag, mapper *Mapper, allocator pmm.FrameAllocator, pageAllocator PageAllocator) (*MappedPages, *kernel.Error) {
	numPages := mp.pages.NumPages()

	ap, err := pageAllocator.AllocatePages(uint(numPages))
	if err != nil {
		return nil, err
	}

	writableFlags := newFlags | FlagRW
	dst, err := mapper.MapAllocatedPages(ap, writableFlags, allocator)
	if err != nil {
		ap.release()
		return nil, err
	}

	srcBytes, err := AsSlice[byte](mp, 0, int(mp.sizeInBytes()))
	if err != nil {
		dst.Close()
		return nil, err
	}
	dstBytes, err := AsSliceMut[byte](dst, 0, int(dst.sizeInBytes()))
	if err != nil {
		dst.Close()
		return nil, err
	}
	copy(dstBytes, srcBytes)

	if writableFlags != newFlags {
		if err := dst.Remap(mapper, newFlags); err != nil {
			dst.Close()
			return nil, err
		}
	}

	return dst, nil
}
