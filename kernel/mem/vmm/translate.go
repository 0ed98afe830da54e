package vmm

import (
	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

// TranslatePage returns the physical frame that backs page, or
// ErrPageNotMapped if it is not mapped. Huge P3 (1 GiB) and P2 (2 MiB)
// entries are recognized read-only: this package never creates one, but a
// page that happens to fall inside one is still translated correctly.
func TranslatePage(page Page) (pmm.Frame, *kernel.Error) {
	pte, level, err := pteForAddress(page.Address())
	if err != nil {
		return pmm.InvalidFrame, err
	}

	if level == pageLevels-1 {
		return pte.Frame(), nil
	}

	// A huge entry was found one or two levels above P1. The remaining
	// index bits (everything below this level's shift) select the frame
	// within the huge region.
	virtAddr := page.Address()
	subIndexMask := uintptr(1)<<pageLevelShifts[level] - 1
	subIndex := pmm.Frame((virtAddr & subIndexMask) >> mem.PageShift)

	return pte.Frame() + subIndex, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address, or ErrPageNotMapped if it does not fall within a mapped
// page.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, err := TranslatePage(PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	offsetMask := uintptr(1)<<pageLevelShifts[pageLevels-1] - 1
	return frame.Address() + (virtAddr & offsetMask), nil
}
