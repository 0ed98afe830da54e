// Package task implements the kernel's task table and cooperative context
// switch: a process-wide registry of kernel tasks keyed by id, each carrying
// a runstate, a saved architecture register state and an optional owned
// kernel stack.
package task

import (
	"strconv"

	"github.com/kestrel-os/kestrel/kernel/cpu"
)

// TaskID identifies a task within a TaskTable. Id 0 is reserved for the
// bootstrap task created by InitFirstTask.
type TaskID uint64

// MaxNrTasks bounds the id space a TaskTable will scan through when looking
// for a free id.
const MaxNrTasks = TaskID(^uint64(0) - 1)

// maxNrTasks is the bound NewTask actually scans against; it is a variable
// rather than a direct reference to MaxNrTasks so tests can shrink the id
// space instead of needing to populate billions of entries to exercise
// exhaustion.
var maxNrTasks = MaxNrTasks

// RunState describes where a task currently stands in its lifecycle.
type RunState uint8

const (
	// Initing tasks are still being set up and must not be scheduled.
	Initing RunState = iota
	// Runnable tasks are eligible to be chosen by the scheduler.
	Runnable
	// Running is held by at most one task per CPU at a time.
	Running
	// Blocked tasks are waiting on an event and must never be selected
	// as the next task to run.
	Blocked
	// Exited tasks have finished; ExitCode holds their result.
	Exited
)

const kernelStackSize = 16 * 1024

// Task holds everything needed to suspend and later resume a single thread
// of kernel execution.
type Task struct {
	ID       TaskID
	RunState RunState
	// ExitCode is only meaningful when RunState == Exited.
	ExitCode int8
	Name     string

	Arch  cpu.ArchTaskState
	stack []byte
}

func newTask(id TaskID) *Task {
	return &Task{
		ID:       id,
		RunState: Initing,
		Name:     "task" + strconv.FormatUint(uint64(id), 10),
		Arch:     cpu.New(),
	}
}
