package task

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/cpu"
)

var (
	// ErrNoFreeTaskID is returned by NewTask when every id in the
	// MaxNrTasks space is already in use.
	ErrNoFreeTaskID = &kernel.Error{Module: "task", Message: "no free task id available"}

	errTaskTableInitTwice = &kernel.Error{Module: "task", Message: "NewTaskTable called more than once"}
	errFirstTaskInitTwice = &kernel.Error{Module: "task", Message: "InitFirstTask called more than once"}
	taskTableInitialized  atomic.Bool
	firstTaskInitialized  atomic.Bool

	// globalTaskTable backs GetTaskTable; it is populated by NewTaskTable.
	globalTaskTable atomic.Pointer[TaskTable]
)

// GetTaskTable returns the process-wide TaskTable singleton created by
// NewTaskTable, or nil if NewTaskTable has not been called yet.
func GetTaskTable() *TaskTable {
	return globalTaskTable.Load()
}

// TaskRef is a shared handle to a Task, guarded by an embedded RWMutex.
// Readers take the read lock; mutators (spawn, context switch, exit) take
// the write lock.
type TaskRef struct {
	sync.RWMutex
	task *Task
}

// Task returns the TaskRef's underlying Task. Callers must hold the
// TaskRef's lock before reading or writing fields on the returned value.
func (r *TaskRef) Task() *Task { return r.task }

// TaskTable is the process-wide registry of every live task.
type TaskTable struct {
	mu        sync.RWMutex
	tasks     map[TaskID]*TaskRef
	nextID    TaskID
	currentID atomic.Uint64
}

// NewTaskTable constructs the singleton task table. It panics (via
// kernel.Panic) if called more than once.
func NewTaskTable() *TaskTable {
	if !taskTableInitialized.CompareAndSwap(false, true) {
		panicFn(errTaskTableInitTwice)
		return nil
	}

	tt := &TaskTable{tasks: make(map[TaskID]*TaskRef)}
	globalTaskTable.Store(tt)
	return tt
}

// CurrentID returns the id of the task currently selected as running.
func (tt *TaskTable) CurrentID() TaskID {
	return TaskID(tt.currentID.Load())
}

// Lookup returns the TaskRef for id, or nil if no such task exists.
func (tt *TaskTable) Lookup(id TaskID) *TaskRef {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.tasks[id]
}

// NewTask allocates the next free TaskID and inserts a fresh, Initing task
// under it.
func (tt *TaskTable) NewTask() (*TaskRef, *kernel.Error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	start := tt.nextID
	for {
		tt.nextID++
		if tt.nextID == 0 || tt.nextID > maxNrTasks {
			tt.nextID = 1
		}
		if _, exists := tt.tasks[tt.nextID]; !exists {
			break
		}
		if tt.nextID == start {
			return nil, ErrNoFreeTaskID
		}
	}

	ref := &TaskRef{task: newTask(tt.nextID)}
	tt.tasks[tt.nextID] = ref
	return ref, nil
}

// InitFirstTask creates task id 0 around the already-running bootstrap
// thread of execution: it captures the live page-table register as the
// task's architecture state and marks it Running. It may only be called
// once.
func (tt *TaskTable) InitFirstTask() (*TaskRef, *kernel.Error) {
	if !firstTaskInitialized.CompareAndSwap(false, true) {
		panicFn(errFirstTaskInitTwice)
		return nil, nil
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()

	zero := newTask(TaskID(0))
	zero.Arch.SetPageTable(cpu.GetPageTableRegister())
	zero.RunState = Running

	ref := &TaskRef{task: zero}
	tt.tasks[0] = ref
	tt.currentID.Store(0)

	return ref, nil
}

// Spawn creates a new task whose kernel stack is primed to call entry when
// first scheduled in. The new task shares the current task's page table,
// since every task in this design runs in the single kernel address space.
func (tt *TaskTable) Spawn(entry func()) (*TaskRef, *kernel.Error) {
	currentRef := tt.Lookup(tt.CurrentID())
	currentRef.RLock()
	pageTable := currentRef.task.Arch.GetPageTable()
	currentRef.RUnlock()

	ref, err := tt.NewTask()
	if err != nil {
		return nil, err
	}

	ref.Lock()
	defer ref.Unlock()

	t := ref.task
	t.Arch.SetPageTable(pageTable)

	stack := make([]byte, kernelStackSize)
	entryAddr := reflect.ValueOf(entry).Pointer()
	top := len(stack) - 8
	*(*uintptr)(unsafe.Pointer(&stack[top])) = entryAddr

	t.Arch.SetStack(uintptr(unsafe.Pointer(&stack[top])))
	t.stack = stack
	t.RunState = Runnable

	return ref, nil
}

// Remove deletes id from the table and returns its (now sole) shared handle.
func (tt *TaskTable) Remove(id TaskID) *TaskRef {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	ref := tt.tasks[id]
	delete(tt.tasks, id)
	return ref
}

// TaskEntry is one (id, ref) pair returned by Iterate.
type TaskEntry struct {
	ID  TaskID
	Ref *TaskRef
}

// Iterate returns a read-only, id-ordered snapshot of every task currently
// in the table.
func (tt *TaskTable) Iterate() []TaskEntry {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	entries := make([]TaskEntry, 0, len(tt.tasks))
	for id, ref := range tt.tasks {
		entries = append(entries, TaskEntry{ID: id, Ref: ref})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
