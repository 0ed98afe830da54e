package vmm

import (
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel/mem"
)

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// overridden by tests so walk() can be exercised against a plain Go
	// array instead of real page tables. When compiling the kernel this
	// function is automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is invoked by walk with the current page level and the
// page table entry at that level for the address being walked. Returning
// false aborts the walk.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address, starting at
// the P4 (level 0) and descending towards P1 (level pageLevels-1), invoking
// walkFn once per level via the recursive self-mapping at pdtVirtualAddr.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
