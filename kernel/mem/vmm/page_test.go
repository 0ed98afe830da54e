package vmm

import (
	"testing"

	"github.com/kestrel-os/kestrel/kernel/mem"
)

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<mem.PageShift), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestPageRange(t *testing.T) {
	r := PageRangeFromPages(Page(10), Page(12))
	if got := r.NumPages(); got != 3 {
		t.Fatalf("expected 3 pages; got %d", got)
	}

	var visited []Page
	r.ForEach(func(p Page) bool {
		visited = append(visited, p)
		return true
	})
	if len(visited) != 3 || visited[0] != 10 || visited[2] != 12 {
		t.Fatalf("unexpected iteration order: %v", visited)
	}

	empty := PageRangeFromPages(Page(5), Page(4))
	if !empty.Empty() {
		t.Fatal("expected range with end < start to be empty")
	}

	stopped := 0
	r.ForEach(func(p Page) bool {
		stopped++
		return false
	})
	if stopped != 1 {
		t.Fatalf("expected ForEach to stop after first page; ran %d times", stopped)
	}
}
