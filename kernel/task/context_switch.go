package task

import (
	"sync/atomic"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/cpu"
)

var (
	errSwitchIntoBlocked = &kernel.Error{Module: "task", Message: "scheduler bug: chosen next task is Blocked"}
	errSwitchIntoRunning = &kernel.Error{Module: "task", Message: "scheduler bug: chosen next task is already Running"}

	// switchLock guards the handful of steps in ContextSwitch that must
	// appear atomic to any other CPU. It is released before the register
	// swap itself, a single-CPU workaround; see the design notes.
	switchLock atomic.Bool

	// pauseFn, switchToFn and panicFn are indirected so tests can exercise
	// ContextSwitch's bookkeeping without running the real spin hint, the
	// assembly register swap, or halting on an invariant violation.
	pauseFn    = cpu.Pause
	switchToFn = func(current, next *cpu.ArchTaskState) { current.SwitchTo(next) }
	panicFn    = kernel.Panic
)

// ContextSwitch suspends current and resumes next, cooperatively. It must
// be called with current equal to the task presently executing on this CPU.
// Control returns to the caller's stack frame only once some other task
// switches back into current.
func (tt *TaskTable) ContextSwitch(current, next *TaskRef) {
	for !switchLock.CompareAndSwap(false, true) {
		pauseFn()
	}

	current.Lock()
	next.Lock()

	if next.task.RunState == Blocked {
		next.Unlock()
		current.Unlock()
		switchLock.Store(false)
		panicFn(errSwitchIntoBlocked)
		return
	}
	if next.task.RunState == Running {
		next.Unlock()
		current.Unlock()
		switchLock.Store(false)
		panicFn(errSwitchIntoRunning)
		return
	}

	current.task.RunState = Runnable
	next.task.RunState = Running

	tt.currentID.Store(uint64(next.task.ID))

	switchLock.Store(false)

	currentArch, nextArch := &current.task.Arch, &next.task.Arch
	next.Unlock()
	current.Unlock()

	switchToFn(currentArch, nextArch)
}
