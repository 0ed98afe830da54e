// Package ksync provides synchronization primitives tailored to freestanding
// kernel code, where a goroutine can be interrupted by hardware at any point
// and protecting a critical section means disabling interrupts as well as
// taking a lock.
package ksync

import (
	"sync"

	"github.com/kestrel-os/kestrel/kernel/cpu"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler when compiling the kernel.
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
)

// IRQMutex is a mutual-exclusion lock that also disables interrupts for the
// duration it is held, so a critical section can never be re-entered via an
// interrupt handler running on the same CPU. It does not nest: a second Lock
// call from the same goroutine while the first is still held will deadlock,
// same as sync.Mutex.
type IRQMutex struct {
	mu sync.Mutex
}

// Lock disables interrupts and acquires the underlying mutex.
func (m *IRQMutex) Lock() {
	disableInterruptsFn()
	m.mu.Lock()
}

// Unlock releases the underlying mutex and re-enables interrupts.
func (m *IRQMutex) Unlock() {
	m.mu.Unlock()
	enableInterruptsFn()
}
