package vmm

import "math"

const (
	// pageLevels indicates the number of page table levels supported by
	// the amd64 architecture (P4, P3, P2, P1).
	pageLevels = 4

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. For this
	// particular architecture, bits 12-51 contain the physical address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when mapping inactive page
	// tables). For amd64 this address uses table indices 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the last
	// P4 entry: setting every index to 511 makes the MMU walk back into
	// the P4 at every level, landing on the P4 itself.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. On amd64 every level uses 9 bits,
	// i.e. 512 entries per table.
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts defines the shift required to extract the index for
	// each page table level out of a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when a P3 or P2 entry maps a 1 GiB or 2 MiB
	// region directly instead of pointing to a lower-level table.
	FlagHugePage

	// FlagGlobal prevents the TLB from evicting this entry when the page
	// table is switched.
	FlagGlobal

	// FlagNoExecute marks the page as non-executable.
	FlagNoExecute = 1 << 63
)

// Writable returns true if the flag set includes write permission.
func (f PageTableEntryFlag) Writable() bool {
	return f&FlagRW != 0
}

// Executable returns true if the flag set does not forbid instruction fetch.
func (f PageTableEntryFlag) Executable() bool {
	return f&FlagNoExecute == 0
}
