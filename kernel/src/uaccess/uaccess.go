// Package uaccess is bounds-checked copy-in/copy-out between the
// kernel and a user task's address space: the userdata/usercstr-style
// bounds checks guarding every syscall argument, built against this
// kernel's MapArea-based MemorySet.
package uaccess

import (
	"errors"

	"config"
	"memaddr"
	"vm"
)

/// ErrBadAddr is returned for a null pointer, an address outside
/// [USER_BASE, USER_BASE+USER_SIZE), or a range that would run past
/// it.
var ErrBadAddr = errors.New("uaccess: invalid user address")

/// ErrUnmapped is returned when an address falls within the user
/// range but is not backed by any area.
var ErrUnmapped = errors.New("uaccess: unmapped user address")

/// ErrTooLong is returned by ReadCString when no NUL byte appears
/// within maxLen bytes.
var ErrTooLong = errors.New("uaccess: string exceeds maximum length")

func checkRange(addr uint64, size uint64) error {
	if addr == 0 {
		return ErrBadAddr
	}
	if addr < config.UserBase {
		return ErrBadAddr
	}
	if addr-config.UserBase > config.UserSize-size {
		return ErrBadAddr
	}
	return nil
}

// copyUser moves len(buf) bytes between buf and the user address space starting
// at addr, page at a time; toUser writes buf into user memory,
// otherwise user memory is read into buf.
func copyUser(ms *vm.MemorySet, dmap func(memaddr.PhysAddr) []byte, addr uint64, buf []byte, toUser bool) error {
	va := memaddr.VirtAddr(addr)
	remaining := buf
	for len(remaining) > 0 {
		area, ok := ms.Lookup(va)
		if !ok {
			return ErrUnmapped
		}
		pageVA := va.AlignDown()
		pa, ok := area.PhysAddrFor(pageVA)
		if !ok {
			return ErrUnmapped
		}
		page := dmap(pa)
		off := va.PageOffset()
		var n int
		if toUser {
			n = copy(page[off:], remaining)
		} else {
			n = copy(remaining, page[off:])
		}
		remaining = remaining[n:]
		va = va.Add(uint64(n))
	}
	return nil
}

/// Read copies len(out) bytes from the user address addr into out.
func Read(ms *vm.MemorySet, dmap func(memaddr.PhysAddr) []byte, addr uint64, out []byte) error {
	if err := checkRange(addr, uint64(len(out))); err != nil {
		return err
	}
	return copyUser(ms, dmap, addr, out, false)
}

/// Write copies in into the user address addr.
func Write(ms *vm.MemorySet, dmap func(memaddr.PhysAddr) []byte, addr uint64, in []byte) error {
	if err := checkRange(addr, uint64(len(in))); err != nil {
		return err
	}
	return copyUser(ms, dmap, addr, in, true)
}

/// ReadArray is Read sized by n elements of elemSize bytes, rejecting
/// n > maxN up front so a hostile length argument cannot pin the
/// kernel copying an unbounded amount. addr must be aligned to
/// elemSize, the same constraint a typed pointer carries in the
/// original kernel this was ported from.
func ReadArray(ms *vm.MemorySet, dmap func(memaddr.PhysAddr) []byte, addr uint64, n, elemSize, maxN int) ([]byte, error) {
	if n < 0 || n > maxN {
		return nil, ErrBadAddr
	}
	if elemSize > 0 && addr%uint64(elemSize) != 0 {
		return nil, ErrBadAddr
	}
	out := make([]byte, n*elemSize)
	if err := Read(ms, dmap, addr, out); err != nil {
		return nil, err
	}
	return out, nil
}

/// ReadCString copies a NUL-terminated string of at most maxLen bytes
/// (not counting the terminator) from user memory.
func ReadCString(ms *vm.MemorySet, dmap func(memaddr.PhysAddr) []byte, addr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	var b [1]byte
	for i := 0; i < maxLen; i++ {
		if err := Read(ms, dmap, addr+uint64(i), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", ErrTooLong
}
