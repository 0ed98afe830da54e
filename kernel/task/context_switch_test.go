package task

import (
	"testing"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/kernel/cpu"
)

func withStubSwitchTo(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := switchToFn
	switchToFn = func(current, next *cpu.ArchTaskState) { calls++ }
	t.Cleanup(func() { switchToFn = orig })
	return &calls
}

func withStubPanic(t *testing.T) *[]*kernel.Error {
	t.Helper()
	var got []*kernel.Error
	orig := panicFn
	panicFn = func(e interface{}) { got = append(got, e.(*kernel.Error)) }
	t.Cleanup(func() { panicFn = orig })
	return &got
}

func TestContextSwitchUpdatesRunStatesAndCurrentID(t *testing.T) {
	calls := withStubSwitchTo(t)

	tt := freshTaskTable(t)
	current, _ := tt.InitFirstTask()
	next, _ := tt.Spawn(func() {})

	tt.ContextSwitch(current, next)

	if current.task.RunState != Runnable {
		t.Fatalf("expected suspended task to become Runnable; got %v", current.task.RunState)
	}
	if next.task.RunState != Running {
		t.Fatalf("expected resumed task to become Running; got %v", next.task.RunState)
	}
	if tt.CurrentID() != next.task.ID {
		t.Fatalf("expected current id to be %d; got %d", next.task.ID, tt.CurrentID())
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one register swap; got %d", *calls)
	}
	if switchLock.Load() {
		t.Fatal("expected switch lock to be released after ContextSwitch returns")
	}
}

func TestContextSwitchPanicsWhenNextIsBlocked(t *testing.T) {
	switchCalls := withStubSwitchTo(t)
	panics := withStubPanic(t)
	tt := freshTaskTable(t)
	current, _ := tt.InitFirstTask()
	next, _ := tt.NewTask()
	next.task.RunState = Blocked

	tt.ContextSwitch(current, next)

	if len(*panics) != 1 || (*panics)[0] != errSwitchIntoBlocked {
		t.Fatalf("expected a single errSwitchIntoBlocked panic; got %v", *panics)
	}
	if *switchCalls != 0 {
		t.Fatal("expected no register swap after an invariant violation")
	}
	if switchLock.Load() {
		t.Fatal("expected switch lock to be released even on the panic path")
	}
}

func TestContextSwitchPanicsWhenNextIsAlreadyRunning(t *testing.T) {
	switchCalls := withStubSwitchTo(t)
	panics := withStubPanic(t)
	tt := freshTaskTable(t)
	current, _ := tt.InitFirstTask()
	next, _ := tt.NewTask()
	next.task.RunState = Running

	tt.ContextSwitch(current, next)

	if len(*panics) != 1 || (*panics)[0] != errSwitchIntoRunning {
		t.Fatalf("expected a single errSwitchIntoRunning panic; got %v", *panics)
	}
	if *switchCalls != 0 {
		t.Fatal("expected no register swap after an invariant violation")
	}
	if switchLock.Load() {
		t.Fatal("expected switch lock to be released even on the panic path")
	}
}
