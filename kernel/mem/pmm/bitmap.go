package pmm

import (
	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/ksync"
)

// bitmapPool tracks free/reserved frames for a single contiguous range of
// physical memory using one bit per frame.
type bitmapPool struct {
	frames    FrameRange
	freeCount uint32
	freeBitmap []uint64
}

func newBitmapPool(frames FrameRange) bitmapPool {
	words := (frames.NumFrames() + 63) / 64
	return bitmapPool{
		frames:     frames,
		freeCount:  uint32(frames.NumFrames()),
		freeBitmap: make([]uint64, words),
	}
}

// bit returns the block index and bit mask for frame within the pool. Bits
// are numbered MSB-first within each 64-bit block, mirroring the layout the
// allocator has always used.
func (p *bitmapPool) bit(frame Frame) (block uint64, mask uint64) {
	rel := uint64(frame - p.frames.Start())
	block = rel >> 6
	mask = uint64(1) << (63 - (rel - block<<6))
	return block, mask
}

func (p *bitmapPool) markReserved(frame Frame) {
	block, mask := p.bit(frame)
	if p.freeBitmap[block]&mask != 0 {
		return
	}
	p.freeBitmap[block] |= mask
	p.freeCount--
}

func (p *bitmapPool) markFree(frame Frame) {
	block, mask := p.bit(frame)
	if p.freeBitmap[block]&mask == 0 {
		return
	}
	p.freeBitmap[block] &^= mask
	p.freeCount++
}

func (p *bitmapPool) isReserved(frame Frame) bool {
	block, mask := p.bit(frame)
	return p.freeBitmap[block]&mask != 0
}

// firstFree scans the pool for the lowest-numbered free frame.
func (p *bitmapPool) firstFree() (Frame, bool) {
	if p.freeCount == 0 {
		return InvalidFrame, false
	}

	for block, word := range p.freeBitmap {
		if word == ^uint64(0) {
			continue
		}
		for bitIndex := uint64(0); bitIndex < 64; bitIndex++ {
			mask := uint64(1) << (63 - bitIndex)
			if word&mask != 0 {
				continue
			}
			frame := p.frames.Start() + Frame(uint64(block)<<6+bitIndex)
			if p.frames.Contains(frame) {
				return frame, true
			}
		}
	}
	return InvalidFrame, false
}

// BitmapAllocator is a FrameAllocator that tracks reservations across a set
// of disjoint physical memory pools using one free-bitmap per pool. Unlike
// earlier generations of this allocator it is handed its pools directly by
// the caller instead of discovering them by scanning a boot-time memory map,
// so it has no bootstrap ordering dependency on how that map was obtained.
type BitmapAllocator struct {
	mu ksync.IRQMutex

	totalFrames    uint32
	reservedFrames uint32
	pools          []bitmapPool
}

// NewBitmapAllocator builds a BitmapAllocator that can hand out frames from
// the given pools. Every frame in every pool starts out free; callers that
// need to carve out reserved regions (e.g. the frames occupied by the kernel
// image) should follow up with ReserveRange.
func NewBitmapAllocator(pools ...FrameRange) *BitmapAllocator {
	alloc := &BitmapAllocator{pools: make([]bitmapPool, 0, len(pools))}
	for _, r := range pools {
		alloc.pools = append(alloc.pools, newBitmapPool(r))
		alloc.totalFrames += uint32(r.NumFrames())
	}
	return alloc
}

// poolForFrame returns the index of the pool containing frame, or -1 if
// frame does not belong to any known pool.
func (alloc *BitmapAllocator) poolForFrame(frame Frame) int {
	for i := range alloc.pools {
		if alloc.pools[i].frames.Contains(frame) {
			return i
		}
	}
	return -1
}

// ReserveRange marks every frame in r as reserved, removing it from
// consideration by AllocateFrame. Frames outside any known pool are ignored.
func (alloc *BitmapAllocator) ReserveRange(r FrameRange) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	r.ForEach(func(f Frame) bool {
		if idx := alloc.poolForFrame(f); idx >= 0 && !alloc.pools[idx].isReserved(f) {
			alloc.pools[idx].markReserved(f)
			alloc.reservedFrames++
		}
		return true
	})
}

// AllocateFrame reserves and returns the lowest-numbered free frame across
// all pools.
func (alloc *BitmapAllocator) AllocateFrame() (Frame, *kernel.Error) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	for i := range alloc.pools {
		if alloc.pools[i].freeCount == 0 {
			continue
		}
		if frame, ok := alloc.pools[i].firstFree(); ok {
			alloc.pools[i].markReserved(frame)
			alloc.reservedFrames++
			return frame, nil
		}
	}

	return InvalidFrame, ErrOutOfFrames
}

// DeallocateFrame returns frame to its pool's free list. It is a no-op if
// frame does not belong to any known pool or is already free.
func (alloc *BitmapAllocator) DeallocateFrame(frame Frame) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	idx := alloc.poolForFrame(frame)
	if idx < 0 || !alloc.pools[idx].isReserved(frame) {
		return
	}
	alloc.pools[idx].markFree(frame)
	alloc.reservedFrames--
}

// Stats reports the allocator's current occupancy across all pools.
func (alloc *BitmapAllocator) Stats() (total, reserved uint32) {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()
	return alloc.totalFrames, alloc.reservedFrames
}
