package pmm

import (
	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/ksync"
)

var (
	// ErrOutOfFrames is returned by a FrameAllocator when no more frames
	// are available.
	ErrOutOfFrames = &kernel.Error{Module: "pmm", Message: "couldn't allocate new frame, out of memory!"}

	// globalAllocator is the frame allocator shared by the rest of the
	// kernel. It is guarded by globalAllocatorMu rather than baked into
	// the FrameAllocator interface so callers that already hold their own
	// allocator (e.g. tests) never pay for a lock they don't need.
	globalAllocator   FrameAllocator
	globalAllocatorMu ksync.IRQMutex
)

// FrameAllocator is satisfied by anything that can hand out and reclaim
// physical frames.
type FrameAllocator interface {
	AllocateFrame() (Frame, *kernel.Error)
	DeallocateFrame(Frame)
}

// SetGlobalAllocator installs the frame allocator used by GlobalAllocator.
func SetGlobalAllocator(alloc FrameAllocator) {
	globalAllocatorMu.Lock()
	defer globalAllocatorMu.Unlock()
	globalAllocator = alloc
}

// GlobalAllocator returns the kernel-wide frame allocator, or nil if none has
// been installed yet.
func GlobalAllocator() FrameAllocator {
	globalAllocatorMu.Lock()
	defer globalAllocatorMu.Unlock()
	return globalAllocator
}
