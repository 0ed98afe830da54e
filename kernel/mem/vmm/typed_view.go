package vmm

import (
	"unsafe"

	"github.com/kestrel-os/kestrel/kernel"
)

// As returns a typed view of the memory at offset bytes into mp. Go has no
// trait equivalent to Rust's bytemuck::Pod to enforce this at compile time,
// so callers are responsible for only instantiating T with types that
// contain no Go pointers, interfaces, slices, maps or channels — anything
// else aliases kernel memory the garbage collector doesn't know about.
func As[T any](mp *MappedPages, offset uintptr) (*T, *kernel.Error) {
	var zero T
	size := unsafe.Sizeof(zero)
	if offset+size > mp.sizeInBytes() {
		return nil, ErrTypeOutOfBounds
	}

	return (*T)(unsafe.Pointer(mp.pages.Start().Address() + offset)), nil
}

// AsMut is identical to As but additionally requires the mapping to be
// writable.
func AsMut[T any](mp *MappedPages, offset uintptr) (*T, *kernel.Error) {
	if !mp.flags.Writable() {
		return nil, ErrNotWritable
	}
	return As[T](mp, offset)
}

// AsSlice returns a slice of length elements of T starting at byteOffset
// into mp.
func AsSlice[T any](mp *MappedPages, byteOffset uintptr, length int) ([]T, *kernel.Error) {
	var zero T
	size := unsafe.Sizeof(zero)
	if byteOffset+uintptr(length)*size > mp.sizeInBytes() {
		return nil, ErrSliceOutOfBounds
	}

	ptr := (*T)(unsafe.Pointer(mp.pages.Start().Address() + byteOffset))
	return unsafe.Slice(ptr, length), nil
}

// AsSliceMut is identical to AsSlice but additionally requires the mapping
// to be writable.
func AsSliceMut[T any](mp *MappedPages, byteOffset uintptr, length int) ([]T, *kernel.Error) {
	if !mp.flags.Writable() {
		return nil, ErrNotWritable
	}
	return AsSlice[T](mp, byteOffset, length)
}

// AsFunc returns a reference to the executable function at offset bytes into
// mp. scratch must outlive the returned reference: it stores the function's
// address so the reference's lifetime is anchored to something the caller
// controls, rather than to mp, since Go's type system gives us no way to tie
// the two together the way a borrow checker would.
func AsFunc[F any](mp *MappedPages, offset uintptr, scratch *uintptr) (*F, *kernel.Error) {
	if !mp.flags.Executable() {
		return nil, ErrNotExecutable
	}

	*scratch = mp.pages.Start().Address() + offset
	return (*F)(unsafe.Pointer(scratch)), nil
}
