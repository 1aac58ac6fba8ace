package frame

import (
	"testing"

	"config"
	"memaddr"
)

func newTestAllocator(nframes uint64) *Allocator {
	base := memaddr.PhysAddr(0)
	limit := memaddr.PhysAddr(nframes * uint64(config.PageSize))
	return New(base, limit)
}

func TestAllocDealloc(t *testing.T) {
	a := newTestAllocator(4)

	t.Run("allocates sequentially", func(t *testing.T) {
		i0, ok := a.Alloc()
		if !ok || i0 != 0 {
			t.Fatalf("expected index 0; got %d, ok=%v", i0, ok)
		}
		i1, ok := a.Alloc()
		if !ok || i1 != 1 {
			t.Fatalf("expected index 1; got %d, ok=%v", i1, ok)
		}
	})

	t.Run("exhausts the range", func(t *testing.T) {
		a := newTestAllocator(1)
		if _, ok := a.Alloc(); !ok {
			t.Fatal("expected first allocation to succeed")
		}
		if _, ok := a.Alloc(); ok {
			t.Fatal("expected second allocation to fail on a 1-frame range")
		}
	})

	t.Run("dealloc recycles before growing the cursor", func(t *testing.T) {
		a := newTestAllocator(2)
		i0, _ := a.Alloc()
		a.Dealloc(i0)
		if got := a.InUseCount(); got != 0 {
			t.Fatalf("expected 0 frames in use after dealloc; got %d", got)
		}
		i1, ok := a.Alloc()
		if !ok || i1 != i0 {
			t.Fatalf("expected the freed index %d to be reused; got %d", i0, i1)
		}
	})
}

func TestAddr(t *testing.T) {
	a := newTestAllocator(4)
	i, _ := a.Alloc()
	if got, want := a.Addr(i), memaddr.PhysAddr(0); got != want {
		t.Fatalf("expected frame 0 at address %s; got %s", want, got)
	}
}

func TestAllocMore(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		a := newTestAllocator(4)
		idxs, ok := a.AllocMore(3)
		if !ok || len(idxs) != 3 {
			t.Fatalf("expected 3 frames; got %d, ok=%v", len(idxs), ok)
		}
		if got := a.InUseCount(); got != 3 {
			t.Fatalf("expected 3 frames in use; got %d", got)
		}
	})

	t.Run("rolls back a partial allocation", func(t *testing.T) {
		a := newTestAllocator(2)
		_, ok := a.AllocMore(3)
		if ok {
			t.Fatal("expected AllocMore to fail when not enough frames remain")
		}
		if got := a.InUseCount(); got != 0 {
			t.Fatalf("expected a failed AllocMore to allocate nothing; got %d in use", got)
		}
	})
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(2)
	i, _ := a.Alloc()
	a.Dealloc(i)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a double free to panic")
		}
	}()
	a.Dealloc(i)
}

func TestFreeCount(t *testing.T) {
	a := newTestAllocator(4)
	i0, _ := a.Alloc()
	i1, _ := a.Alloc()
	a.Dealloc(i0)
	a.Dealloc(i1)
	if got, want := a.FreeCount(), 2; got != want {
		t.Fatalf("expected FreeCount %d; got %d", want, got)
	}
	if got, want := a.InUseCount(), 0; got != want {
		t.Fatalf("expected InUseCount %d; got %d", want, got)
	}
}
