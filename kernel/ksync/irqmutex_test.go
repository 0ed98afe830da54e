package ksync

import "testing"

func TestIRQMutex(t *testing.T) {
	defer func(origEnable, origDisable func()) {
		enableInterruptsFn = origEnable
		disableInterruptsFn = origDisable
	}(enableInterruptsFn, disableInterruptsFn)

	var trace []string
	disableInterruptsFn = func() { trace = append(trace, "disable") }
	enableInterruptsFn = func() { trace = append(trace, "enable") }

	var m IRQMutex
	m.Lock()
	trace = append(trace, "critical")
	m.Unlock()

	exp := []string{"disable", "critical", "enable"}
	if len(trace) != len(exp) {
		t.Fatalf("expected trace %v; got %v", exp, trace)
	}
	for i := range exp {
		if trace[i] != exp[i] {
			t.Fatalf("expected trace %v; got %v", exp, trace)
		}
	}
}
