package vmm

// flushTLBEntry flushes a TLB entry for a particular virtual address.
func flushTLBEntry(virtAddr uintptr)

// switchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func switchPDT(pdtPhysAddr uintptr)

// activePDT returns the physical address of the currently active page table.
func activePDT() uintptr

// ShootdownBroadcastFn broadcasts a TLB invalidation for pages to every other
// CPU. It is invoked once per batched mapper operation (a Remap or an Unmap)
// rather than once per page; mapping operations do not invoke it. The kernel installs a real
// implementation once SMP bring-up exists; until then it is left nil and
// invalidation stays local to the current CPU.
type ShootdownBroadcastFn func(PageRange)

// shootdownBroadcaster is the currently installed ShootdownBroadcastFn, or
// nil if shootdown broadcasting is disabled.
var shootdownBroadcaster ShootdownBroadcastFn

// SetShootdownBroadcaster installs fn as the TLB shootdown broadcaster used
// by batched mapper operations. Passing nil disables broadcasting.
func SetShootdownBroadcaster(fn ShootdownBroadcastFn) {
	shootdownBroadcaster = fn
}

func broadcastShootdown(r PageRange) {
	if shootdownBroadcaster != nil {
		shootdownBroadcaster(r)
	}
}
