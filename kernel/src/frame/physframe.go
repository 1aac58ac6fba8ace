package frame

import (
	"runtime"

	"memaddr"
)

/// PhysFrame is an RAII handle owning a single 4 KiB frame, returning
/// it to the allocator it came from once released. Go has no
/// destructors, so the explicit path is Free(); a runtime.SetFinalizer
/// backstop catches handles dropped without an explicit Free (e.g. a
/// panic unwinding through a function that held one).
type PhysFrame struct {
	a     *Allocator
	idx   Index
	freed bool
}

/// Alloc allocates a frame from a and wraps it in a PhysFrame.
func Alloc(a *Allocator) (*PhysFrame, bool) {
	idx, ok := a.Alloc()
	if !ok {
		return nil, false
	}
	return newPhysFrame(a, idx), true
}

/// AllocZero allocates and zero-fills a frame through the supplied
/// direct-map zeroing function.
func AllocZero(a *Allocator, zero func(memaddr.PhysAddr)) (*PhysFrame, bool) {
	idx, ok := a.AllocZero(zero)
	if !ok {
		return nil, false
	}
	return newPhysFrame(a, idx), true
}

func newPhysFrame(a *Allocator, idx Index) *PhysFrame {
	f := &PhysFrame{a: a, idx: idx}
	runtime.SetFinalizer(f, (*PhysFrame).Free)
	return f
}

/// Addr returns the frame's physical address.
func (f *PhysFrame) Addr() memaddr.PhysAddr {
	return f.a.Addr(f.idx)
}

/// Bytes returns the raw byte slice view of the frame through the
/// kernel's identity window, given the direct-map accessor in effect
/// (the caller provides it since the window's base differs per arch
/// only by a constant offset baked into the accessor).
func (f *PhysFrame) Bytes(dmap func(memaddr.PhysAddr) []byte) []byte {
	return dmap(f.Addr())
}

/// Free returns the frame to its allocator. Idempotent: a second call
/// is a no-op rather than a double-free, since Free is also reachable
/// from the finalizer after an explicit call already ran.
func (f *PhysFrame) Free() {
	if f.freed {
		return
	}
	f.freed = true
	runtime.SetFinalizer(f, nil)
	f.a.Dealloc(f.idx)
}
