package vmm

import (
	"testing"
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/mem/pmm"
)

func TestInstallLeafCreatesMissingIntermediateTables(t *testing.T) {
	defer func(origPtePtr func(uintptr) unsafe.Pointer, origNextAddr func(uintptr) uintptr, origFlush func(uintptr)) {
		ptePtrFn = origPtePtr
		nextAddrFn = origNextAddr
		flushTLBEntryFn = origFlush
	}(ptePtrFn, nextAddrFn, flushTLBEntryFn)

	var (
		backing [pageLevels]pageTableEntry
		scratch [pageLevels][4096 / 8]pageTableEntry
	)

	walkCall := 0
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		p := unsafe.Pointer(&backing[walkCall])
		walkCall++
		return p
	}

	// nextAddrFn redirects the post-allocation Memset of a freshly created
	// table to scratch memory instead of the bogus address that arithmetic
	// on our fake &backing[0] pointer would otherwise produce.
	memsetTarget := 0
	nextAddrFn = func(_ uintptr) uintptr {
		addr := uintptr(unsafe.Pointer(&scratch[memsetTarget][0]))
		memsetTarget++
		return addr
	}

	flushTLBEntryFn = func(_ uintptr) {}

	allocCount := 0
	allocFn := func() (pmm.Frame, *kernel.Error) {
		allocCount++
		return pmm.Frame(allocCount), nil
	}

	// backing[0..2] (P4, P3, P2) start absent; level 3 (P1) is the final
	// level so installLeaf just installs the leaf entry there.
	if err := installLeaf(Page(0), pmm.Frame(99), FlagRW, allocFn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if allocCount != pageLevels-1 {
		t.Fatalf("expected %d intermediate tables to be allocated; got %d", pageLevels-1, allocCount)
	}

	leaf := backing[pageLevels-1]
	if !leaf.HasFlags(FlagPresent) {
		t.Fatal("expected P1 entry to be present")
	}
	if got := leaf.Frame(); got != pmm.Frame(99) {
		t.Fatalf("expected mapped frame 99; got %v", got)
	}
}

func TestInstallLeafRefusesToDescendThroughHugePage(t *testing.T) {
	defer func(origPtePtr func(uintptr) unsafe.Pointer) { ptePtrFn = origPtePtr }(ptePtrFn)

	var backing pageTableEntry
	backing.SetFlags(FlagPresent | FlagHugePage)

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(&backing)
	}

	err := installLeaf(Page(0), pmm.Frame(1), FlagRW, func() (pmm.Frame, *kernel.Error) {
		t.Fatal("allocator should not be invoked")
		return 0, nil
	})

	if err != ErrHugePage {
		t.Fatalf("expected ErrHugePage; got %v", err)
	}
}
