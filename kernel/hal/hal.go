// Package hal provides the minimal hardware abstraction the kernel needs to
// emit diagnostic output before a full console driver stack is available.
package hal

import "unsafe"

// Sink is anything that can receive early kernel output. It is deliberately
// narrow (byte-oriented, no formatting) so it can be satisfied by something
// as simple as a VGA text-mode framebuffer or, in tests, an in-memory buffer.
type Sink interface {
	WriteByte(c byte) error
	Write(p []byte) (int, error)
}

// ActiveTerminal points to the currently active output sink. It is
// initialized to a VGA text-mode writer so that kfmt/early.Printf has
// somewhere to go as soon as paging is set up; tests substitute it with an
// in-memory sink via SetActiveTerminal.
var ActiveTerminal Sink = &vgaTextSink{}

// SetActiveTerminal installs a new output sink, returning the previous one so
// callers (primarily tests) can restore it.
func SetActiveTerminal(s Sink) Sink {
	prev := ActiveTerminal
	ActiveTerminal = s
	return prev
}

const (
	vgaWidth  = 80
	vgaHeight = 25
	vgaAddr   = uintptr(0xb8000)
	vgaAttr   = byte(0x07) // light grey on black
)

// vgaTextSink writes directly to the legacy VGA text-mode framebuffer. It
// keeps no state beyond a cursor position; scrolling shifts the whole buffer
// up a row.
type vgaTextSink struct {
	col, row uint16
}

func (s *vgaTextSink) WriteByte(c byte) error {
	if c == '\n' {
		s.col = 0
		s.row++
	} else {
		cell := (*uint16)(unsafe.Pointer(vgaAddr + uintptr(s.row*vgaWidth+s.col)*2))
		*cell = uint16(c) | uint16(vgaAttr)<<8
		s.col++
		if s.col >= vgaWidth {
			s.col = 0
			s.row++
		}
	}

	if s.row >= vgaHeight {
		s.scroll()
		s.row = vgaHeight - 1
	}

	return nil
}

func (s *vgaTextSink) Write(p []byte) (int, error) {
	for _, c := range p {
		_ = s.WriteByte(c)
	}
	return len(p), nil
}

func (s *vgaTextSink) scroll() {
	for row := uint16(1); row < vgaHeight; row++ {
		for col := uint16(0); col < vgaWidth; col++ {
			src := (*uint16)(unsafe.Pointer(vgaAddr + uintptr(row*vgaWidth+col)*2))
			dst := (*uint16)(unsafe.Pointer(vgaAddr + uintptr((row-1)*vgaWidth+col)*2))
			*dst = *src
		}
	}

	blank := uint16(' ') | uint16(vgaAttr)<<8
	for col := uint16(0); col < vgaWidth; col++ {
		cell := (*uint16)(unsafe.Pointer(vgaAddr + uintptr((vgaHeight-1)*vgaWidth+col)*2))
		*cell = blank
	}
}
