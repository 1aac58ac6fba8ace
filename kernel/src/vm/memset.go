// Package vm is the MemorySet: a page table plus an owning set of
// non-overlapping MapAreas. Demand-paging and copy-on-write are
// excluded as a non-goal — every area here is mapped eagerly at
// insertion time.
package vm

import (
	"debug/elf"
	"fmt"
	"sort"

	"arch"
	"config"
	"frame"
	"klog"
	"memaddr"
	"pgtable"
)

/// MemorySet owns exactly one PageTable plus an ordered set of
/// non-overlapping areas.
type MemorySet struct {
	a    *arch.Arch
	pt   *pgtable.PageTable
	byte func(memaddr.PhysAddr) []byte

	areas    map[memaddr.VirtAddr]*MapArea
	starts   []memaddr.VirtAddr // kept sorted; rebuilt lazily by sortedStarts
	unsorted bool
}

/// NewKernel builds the one kernel address space: a fresh page table
/// with no areas yet (the boot sequence inserts the kernel's own
/// direct-map and image mappings immediately afterward).
func NewKernel(a *arch.Arch, alloc *frame.Allocator, byteDMap func(memaddr.PhysAddr) []byte) *MemorySet {
	pt := pgtable.New(a.Levels, a.Codec, pgtable.WrapByteDMap(byteDMap), alloc)
	return &MemorySet{a: a, pt: pt, byte: byteDMap, areas: make(map[memaddr.VirtAddr]*MapArea)}
}

/// NewUser clones the kernel half of ks's page table into a fresh user
/// MemorySet. On AArch64 this still allocates a fresh root but
/// installs no kernel entries into it, since AArch64 shares the
/// kernel half via TTBR1_EL1 instead of copying top-level entries.
func NewUser(ks *MemorySet, kernelStart, kernelEnd memaddr.VirtAddr) *MemorySet {
	var pt *pgtable.PageTable
	if ks.a.Name == "aarch64" {
		pt = pgtable.New(ks.a.Levels, ks.a.Codec, pgtable.WrapByteDMap(ks.byte), ks.pt.Alloc())
	} else {
		pt = ks.pt.CloneFrom(kernelStart, kernelEnd)
	}
	return &MemorySet{a: ks.a, pt: pt, byte: ks.byte, areas: make(map[memaddr.VirtAddr]*MapArea)}
}

/// PageTable exposes the underlying engine for callers (trap dispatch,
/// sched) that need the root address or a raw Query.
func (ms *MemorySet) PageTable() *pgtable.PageTable { return ms.pt }

/// Insert adds area to the set and installs its mappings. It panics on
/// overlap with an existing area: start VA must be a new key.
func (ms *MemorySet) Insert(area *MapArea) {
	if _, exists := ms.areas[area.Start]; exists {
		klog.Panicf("vm: area already exists at %s", area.Start)
	}
	for _, other := range ms.areas {
		if area.Start < other.end() && other.Start < area.end() {
			klog.Panicf("vm: area [%s,%s) overlaps existing area [%s,%s)", area.Start, area.end(), other.Start, other.end())
		}
	}
	ms.areas[area.Start] = area
	ms.unsorted = true
	ms.pt.MapRange(area.Start, area.Size, area.Flags, area.Map.(pgtable.AreaMapper))
}

func (ms *MemorySet) sortedStarts() []memaddr.VirtAddr {
	if ms.unsorted || ms.starts == nil {
		ms.starts = ms.starts[:0]
		for va := range ms.areas {
			ms.starts = append(ms.starts, va)
		}
		sort.Slice(ms.starts, func(i, j int) bool { return ms.starts[i] < ms.starts[j] })
		ms.unsorted = false
	}
	return ms.starts
}

/// Areas returns every area in ascending start-address order.
func (ms *MemorySet) Areas() []*MapArea {
	starts := ms.sortedStarts()
	out := make([]*MapArea, len(starts))
	for i, va := range starts {
		out[i] = ms.areas[va]
	}
	return out
}

/// Lookup returns the area containing va, if any.
func (ms *MemorySet) Lookup(va memaddr.VirtAddr) (*MapArea, bool) {
	for _, a := range ms.areas {
		if va >= a.Start && va < a.end() {
			return a, true
		}
	}
	return nil, false
}

/// Clear unmaps every area, dropping framed frames, and empties the
/// set. It is idempotent: calling it twice is
/// a no-op the second time.
func (ms *MemorySet) Clear() {
	for _, a := range ms.areas {
		ms.pt.UnmapRange(a.Start, a.Size)
		a.free()
	}
	ms.areas = make(map[memaddr.VirtAddr]*MapArea)
	ms.starts = nil
}

/// Destroy tears down every area and then frees the page table's own
/// frames. Call this, not Clear, when the MemorySet itself is being
/// discarded (e.g. a Zombie task whose VM had a single owner).
func (ms *MemorySet) Destroy() {
	ms.Clear()
	ms.pt.Destroy()
}

/// Dup deep-copies ms for fork: duplicates every area (offset areas
/// reuse their delta, framed areas get fresh frames with copied
/// contents) into a MemorySet whose kernel half comes from NewUser.
func Dup(ms *MemorySet, kernelStart, kernelEnd memaddr.VirtAddr) *MemorySet {
	nms := NewUser(ms, kernelStart, kernelEnd)
	for _, va := range ms.sortedStarts() {
		a := ms.areas[va]
		na := a.dup(ms.pt.Alloc(), ms.byte)
		nms.Insert(na)
	}
	return nms
}

/// LoadUser parses an ELF image and populates ms with one framed area
/// per PT_LOAD segment plus a fixed user stack. It
/// returns the entry point and the initial stack-top VA.
//
// debug/elf is the standard library's ELF reader, swapped in place
// of an external ELF-parsing collaborator (see DESIGN.md for why no
// third-party Go ELF library improves on it).
func (ms *MemorySet) LoadUser(data []byte) (entry memaddr.VirtAddr, stackTop memaddr.VirtAddr, err error) {
	f, e := elf.NewFile(byteReaderAt(data))
	if e != nil {
		return 0, 0, fmt.Errorf("vm: parse elf: %w", e)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return 0, 0, fmt.Errorf("vm: not an executable image (type %s)", f.Type)
	}
	if !machineMatches(ms.a.Name, f.Machine) {
		return 0, 0, fmt.Errorf("vm: elf machine %s does not match architecture %s", f.Machine, ms.a.Name)
	}

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		start := memaddr.VirtAddr(ph.Vaddr).AlignDown()
		end := memaddr.VirtAddr(ph.Vaddr + ph.Memsz).AlignUp()
		flags := memaddr.User
		if ph.Flags&elf.PF_R != 0 {
			flags |= memaddr.Read
		}
		if ph.Flags&elf.PF_W != 0 {
			flags |= memaddr.Write
		}
		if ph.Flags&elf.PF_X != 0 {
			flags |= memaddr.Execute
		}
		area := NewFramed(ms.pt.Alloc(), ms.byte, start, uint64(end-start), flags)
		seg := make([]byte, ph.Filesz)
		if _, e := ph.ReadAt(seg, 0); e != nil && ph.Filesz > 0 {
			return 0, 0, fmt.Errorf("vm: read segment: %w", e)
		}
		segOff := uint64(memaddr.VirtAddr(ph.Vaddr).Sub(start))
		area.WriteData(ms.byte, segOff, seg)
		ms.Insert(area)
	}

	stackEnd := memaddr.VirtAddr(config.UserBase + config.UserSize)
	stackStart := stackEnd - memaddr.VirtAddr(config.UserStackSize)
	stackArea := NewFramed(ms.pt.Alloc(), ms.byte, stackStart, uint64(config.UserStackSize), memaddr.Read|memaddr.Write|memaddr.User)
	ms.Insert(stackArea)

	return memaddr.VirtAddr(f.Entry), stackEnd, nil
}

func machineMatches(archName string, m elf.Machine) bool {
	switch archName {
	case "x86_64":
		return m == elf.EM_X86_64
	case "aarch64":
		return m == elf.EM_AARCH64
	case "riscv":
		return m == elf.EM_RISCV
	}
	return false
}

// byteReaderAt adapts a plain []byte to io.ReaderAt for elf.NewFile.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("vm: elf read out of range")
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("vm: elf read past end of image")
	}
	return n, nil
}
