package task

import "testing"

func TestNewTaskDefaults(t *testing.T) {
	tk := newTask(TaskID(7))

	if tk.ID != 7 {
		t.Fatalf("expected id 7; got %d", tk.ID)
	}
	if tk.RunState != Initing {
		t.Fatalf("expected RunState Initing; got %v", tk.RunState)
	}
	if exp := "task7"; tk.Name != exp {
		t.Fatalf("expected name %q; got %q", exp, tk.Name)
	}
	if tk.stack != nil {
		t.Fatal("expected a freshly created task to own no stack")
	}
}
