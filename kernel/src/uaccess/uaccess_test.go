package uaccess

import (
	"testing"

	archx8664 "archx8664"
	"config"
	"frame"
	"memaddr"
	"vm"
)

const testArenaFrames = 256

func newTestVM(t *testing.T) (*vm.MemorySet, func(memaddr.PhysAddr) []byte) {
	t.Helper()
	arena := make([]byte, testArenaFrames*4096)
	alloc := frame.New(memaddr.PhysAddr(0), memaddr.PhysAddr(len(arena)))
	dmap := func(pa memaddr.PhysAddr) []byte {
		off := uint64(pa)
		return arena[off : off+4096]
	}
	a := archx8664.New()
	ms := vm.NewKernel(a, alloc, dmap)
	area := vm.NewFramed(alloc, dmap, memaddr.VirtAddr(config.UserBase), 2*4096, memaddr.Read|memaddr.Write|memaddr.User)
	ms.Insert(area)
	return ms, dmap
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	ms, dmap := newTestVM(t)
	addr := config.UserBase + 10

	in := []byte("hello, user space")
	if err := Write(ms, dmap, addr, in); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := make([]byte, len(in))
	if err := Read(ms, dmap, addr, out); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("expected %q; got %q", in, out)
	}
}

func TestWriteSpanningTwoPages(t *testing.T) {
	ms, dmap := newTestVM(t)
	addr := config.UserBase + 4096 - 3 // straddles the page boundary

	in := []byte("abcdef")
	if err := Write(ms, dmap, addr, in); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := make([]byte, len(in))
	if err := Read(ms, dmap, addr, out); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("expected %q; got %q", in, out)
	}
}

func TestReadWriteNullAddressFails(t *testing.T) {
	ms, dmap := newTestVM(t)
	if err := Read(ms, dmap, 0, make([]byte, 1)); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr for a null address; got %v", err)
	}
	if err := Write(ms, dmap, 0, []byte{1}); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr for a null address; got %v", err)
	}
}

func TestReadBelowUserBaseFails(t *testing.T) {
	ms, dmap := newTestVM(t)
	if err := Read(ms, dmap, config.UserBase-1, make([]byte, 1)); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr below UserBase; got %v", err)
	}
}

func TestReadPastUserSizeFails(t *testing.T) {
	ms, dmap := newTestVM(t)
	addr := config.UserBase + config.UserSize - 1
	if err := Read(ms, dmap, addr, make([]byte, 4)); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr for a range exceeding UserSize; got %v", err)
	}
}

func TestReadUnmappedAddressFails(t *testing.T) {
	ms, dmap := newTestVM(t)
	// within the user range but never inserted as an area.
	addr := config.UserBase + 10*4096
	if err := Read(ms, dmap, addr, make([]byte, 1)); err != ErrUnmapped {
		t.Fatalf("expected ErrUnmapped; got %v", err)
	}
}

func TestReadArrayRejectsOversizedCount(t *testing.T) {
	ms, dmap := newTestVM(t)
	if _, err := ReadArray(ms, dmap, config.UserBase, 100, 8, 10); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr when n exceeds maxN; got %v", err)
	}
}

func TestReadArrayReadsNElements(t *testing.T) {
	ms, dmap := newTestVM(t)
	if err := Write(ms, dmap, config.UserBase, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := ReadArray(ms, dmap, config.UserBase, 2, 4, 10)
	if err != nil {
		t.Fatalf("ReadArray failed: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("expected 8 bytes (2 elems * 4 bytes); got %d", len(got))
	}
}

func TestReadArrayRejectsMisalignedAddr(t *testing.T) {
	ms, dmap := newTestVM(t)
	if _, err := ReadArray(ms, dmap, config.UserBase+1, 2, 8, 10); err != ErrBadAddr {
		t.Fatalf("expected ErrBadAddr for an address misaligned to elemSize; got %v", err)
	}
}

func TestReadCStringStopsAtNUL(t *testing.T) {
	ms, dmap := newTestVM(t)
	if err := Write(ms, dmap, config.UserBase, []byte("hi\x00garbage")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := ReadCString(ms, dmap, config.UserBase, 64)
	if err != nil {
		t.Fatalf("ReadCString failed: %v", err)
	}
	if got != "hi" {
		t.Fatalf("expected %q; got %q", "hi", got)
	}
}

func TestReadCStringWithNoNULWithinMaxLenFails(t *testing.T) {
	ms, dmap := newTestVM(t)
	data := make([]byte, 8)
	for i := range data {
		data[i] = 'a'
	}
	if err := Write(ms, dmap, config.UserBase, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := ReadCString(ms, dmap, config.UserBase, 4); err != ErrTooLong {
		t.Fatalf("expected ErrTooLong; got %v", err)
	}
}
