package vmm

import (
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/mem"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = activePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = switchPDT

	// mapTemporaryFn is used by tests and is automatically inlined by the
	// compiler.
	mapTemporaryFn = mapTemporary

	// clearLeafFn is used by tests and is automatically inlined by the
	// compiler.
	clearLeafFn = clearLeaf
)

// PageDirectoryTable identifies the top-most table (P4 on amd64) of a
// paging hierarchy that has not necessarily been activated yet. Its only
// job is bootstrapping a brand new, not-yet-self-mapped P4 frame into
// something a Mapper can subsequently operate on.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init prepares pdtFrame to act as a P4: if it is already the active table,
// there is nothing to do. Otherwise it reaches the (not yet reachable) frame
// through a temporary mapping, zeroes it, and installs the recursive
// self-map in its last entry before tearing the temporary mapping back
// down.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame, allocFn FrameAllocatorFn) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	scratch, err := mapTemporaryFn(pdtFrame, allocFn)
	if err != nil {
		return err
	}

	mem.Memset(scratch.Address(), 0, mem.PageSize)

	recursiveSlot := (*pageTableEntry)(unsafe.Pointer(scratch.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)))
	*recursiveSlot = 0
	recursiveSlot.SetFlags(FlagPresent | FlagRW)
	recursiveSlot.SetFrame(pdtFrame)

	clearLeafFn(scratch)

	return nil
}

// Activate installs this table as the hardware-active page directory.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
