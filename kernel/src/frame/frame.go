// Package frame is the physical-frame allocator: a free-list allocator
// over a half-open range of 4 KiB frames. This kernel is single-hart
// and has no copy-on-write, so a page has exactly one owner: its
// PhysFrame, and the allocator needs no refcounting or per-CPU free
// lists.
package frame

import (
	"sync"

	"config"
	"klog"
	"memaddr"
)

/// Index identifies a physical frame by its position in the managed
/// range, not by its physical address; callers convert with Addr.
type Index uint32

/// Allocator hands out and reclaims frames from [base, limit) in units
/// of config.PageSize. Its own lock is separate from the scheduler's
/// big kernel lock: allocation happens far more often than scheduling
/// decisions and has nothing to do with task state.
type Allocator struct {
	mu sync.Mutex

	base  memaddr.PhysAddr
	limit memaddr.PhysAddr

	// cursor is the next never-yet-allocated frame index; free holds
	// indices returned by Dealloc, pushed as an explicit stack so a
	// live index can never also sit on the stack (double-free would
	// show up as the same index appearing twice and is caught instead
	// by the live set below).
	cursor Index
	free   []Index

	// live tracks frames currently on loan so Dealloc can assert
	// against double-free, a fatal assertion.
	live map[Index]bool
}

/// New constructs an Allocator over the page-aligned range [base, limit).
/// base and limit must already be page-aligned; the caller (boot code)
/// computes them from the kernel image end and the platform's physical
/// memory map.
func New(base, limit memaddr.PhysAddr) *Allocator {
	if base.AlignDown() != base || limit.AlignDown() != limit {
		klog.Panicf("frame: unaligned range [%s, %s)", base, limit)
	}
	n := (uint64(limit) - uint64(base)) / uint64(config.PageSize)
	return &Allocator{
		base:  base,
		limit: limit,
		live:  make(map[Index]bool, n),
	}
}

func (a *Allocator) nframes() Index {
	return Index((uint64(a.limit) - uint64(a.base)) / uint64(config.PageSize))
}

/// Addr converts a frame index to its physical address.
func (a *Allocator) Addr(i Index) memaddr.PhysAddr {
	return a.base + memaddr.PhysAddr(uint64(i)*uint64(config.PageSize))
}

func (a *Allocator) allocLocked() (Index, bool) {
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		delete(a.live, i)
		a.live[i] = true
		return i, true
	}
	if a.cursor >= a.nframes() {
		return 0, false
	}
	i := a.cursor
	a.cursor++
	a.live[i] = true
	return i, true
}

/// Alloc hands out one frame, or ok=false if the range is exhausted.
func (a *Allocator) Alloc() (Index, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked()
}

/// AllocZero allocates a frame and zero-fills its backing bytes through
/// the kernel direct-map window.
func (a *Allocator) AllocZero(zero func(memaddr.PhysAddr)) (Index, bool) {
	i, ok := a.Alloc()
	if !ok {
		return 0, false
	}
	zero(a.Addr(i))
	return i, true
}

/// AllocMore allocates n frames, not necessarily contiguous, or returns
/// ok=false (and allocates nothing) if fewer than n are available.
func (a *Allocator) AllocMore(n int) ([]Index, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Index, 0, n)
	for len(out) < n {
		i, ok := a.allocLocked()
		if !ok {
			for _, r := range out {
				a.deallocLocked(r)
			}
			return nil, false
		}
		out = append(out, i)
	}
	return out, true
}

func (a *Allocator) deallocLocked(i Index) {
	if !a.live[i] {
		klog.Panicf("frame: double free of index %d", i)
	}
	delete(a.live, i)
	a.free = append(a.free, i)
}

/// Dealloc returns a frame to the free list. A double-free is a fatal
/// assertion, matching a reference-counted allocator's usual
/// double-free invariant.
func (a *Allocator) Dealloc(i Index) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deallocLocked(i)
}

/// FreeCount reports the number of frames currently reclaimed but not
/// yet reallocated; used by tests to check the "Frame accounting"
/// invariant that every outstanding allocation is accounted for.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

/// InUseCount reports the number of frames currently on loan.
func (a *Allocator) InUseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
