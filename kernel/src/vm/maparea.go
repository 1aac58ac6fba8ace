package vm

import (
	"config"
	"frame"
	"memaddr"
	"pgtable"
)

/// Mapper distinguishes the two mapping strategies a MapArea can
/// use: an Offset area maps every VA in its range to
/// VA-delta (used for the kernel's identity/direct-map window), a
/// Framed area owns one individually-allocated PhysFrame per page.
type Mapper interface {
	mapperSentinel()
}

/// OffsetMapper backs an area where VA = PA + Delta for every page;
/// Delta is commonly negative in two's complement (VA above PA), which
/// is why it is stored as a signed distance.
type OffsetMapper struct {
	Delta int64
}

func (OffsetMapper) mapperSentinel() {}

/// PhysAddrFor implements pgtable.AreaMapper for an offset area.
func (m OffsetMapper) PhysAddrFor(va memaddr.VirtAddr) (memaddr.PhysAddr, bool) {
	return memaddr.PhysAddr(int64(va) - m.Delta), true
}

/// FramedMapper backs an area where each page is backed by its own
/// PhysFrame, keyed by the page-aligned VA.
type FramedMapper struct {
	Frames map[memaddr.VirtAddr]*frame.PhysFrame
}

func (*FramedMapper) mapperSentinel() {}

/// PhysAddrFor implements pgtable.AreaMapper for a framed area.
func (m *FramedMapper) PhysAddrFor(va memaddr.VirtAddr) (memaddr.PhysAddr, bool) {
	f, ok := m.Frames[va.AlignDown()]
	if !ok {
		return 0, false
	}
	return f.Addr(), true
}

/// MapArea is a contiguous, page-aligned virtual range with one
/// permission set and one mapping strategy.
type MapArea struct {
	Start memaddr.VirtAddr
	Size  uint64 // bytes, always a page multiple
	Flags memaddr.MemFlags
	Map   Mapper
}

/// NewFramed allocates size (rounded up to a page multiple) worth of
/// zeroed frames and returns the MapArea owning them, without yet
/// installing any page-table entries (MemorySet.Insert does that).
func NewFramed(alloc *frame.Allocator, dmap func(memaddr.PhysAddr) []byte, start memaddr.VirtAddr, size uint64, flags memaddr.MemFlags) *MapArea {
	size = uint64(config.PageSize) * ((size + uint64(config.PageSize) - 1) / uint64(config.PageSize))
	frames := make(map[memaddr.VirtAddr]*frame.PhysFrame, size/uint64(config.PageSize))
	for off := uint64(0); off < size; off += uint64(config.PageSize) {
		va := start.Add(off)
		f, ok := frame.AllocZero(alloc, func(pa memaddr.PhysAddr) {
			b := dmap(pa)
			for i := range b {
				b[i] = 0
			}
		})
		if !ok {
			panic("vm: out of memory allocating framed area")
		}
		frames[va.AlignDown()] = f
	}
	return &MapArea{Start: start, Size: size, Flags: flags, Map: &FramedMapper{Frames: frames}}
}

/// NewOffset builds an identity-style area where VA = PA + delta for
/// every page (used for the kernel's direct-map window).
func NewOffset(start memaddr.VirtAddr, size uint64, flags memaddr.MemFlags, delta int64) *MapArea {
	return &MapArea{Start: start, Size: size, Flags: flags, Map: OffsetMapper{Delta: delta}}
}

// end returns the one-past-end VA of the area.
func (a *MapArea) end() memaddr.VirtAddr { return a.Start.Add(a.Size) }

/// PhysAddrFor resolves the physical address backing the page
/// containing va, for callers (uaccess) that need to reach an area's
/// bytes directly rather than through the page table.
func (a *MapArea) PhysAddrFor(va memaddr.VirtAddr) (memaddr.PhysAddr, bool) {
	return a.Map.(pgtable.AreaMapper).PhysAddrFor(va)
}

/// WriteData writes data into a framed area's backing frames starting
/// at byte offset off, allocating no new frames (the area must already
/// span [off, off+len(data))) — used by ELF loading to copy in a
/// segment's file image.
func (a *MapArea) WriteData(dmap func(memaddr.PhysAddr) []byte, off uint64, data []byte) {
	fm, ok := a.Map.(*FramedMapper)
	if !ok {
		panic("vm: WriteData on a non-framed area")
	}
	pos := off
	for len(data) > 0 {
		va := a.Start.Add(pos).AlignDown()
		pageOff := a.Start.Add(pos).PageOffset()
		f := fm.Frames[va]
		if f == nil {
			panic("vm: WriteData beyond area bounds")
		}
		b := dmap(f.Addr())
		n := copy(b[pageOff:], data)
		data = data[n:]
		pos += uint64(n)
	}
}

/// dup deep-copies a, allocating fresh frames and copying their
/// contents for a Framed area; an Offset area is reused as-is since it
/// has no owned frames.
func (a *MapArea) dup(alloc *frame.Allocator, dmap func(memaddr.PhysAddr) []byte) *MapArea {
	switch m := a.Map.(type) {
	case OffsetMapper:
		return &MapArea{Start: a.Start, Size: a.Size, Flags: a.Flags, Map: m}
	case *FramedMapper:
		nm := &FramedMapper{Frames: make(map[memaddr.VirtAddr]*frame.PhysFrame, len(m.Frames))}
		for va, f := range m.Frames {
			nf, ok := frame.Alloc(alloc)
			if !ok {
				panic("vm: out of memory duplicating area")
			}
			copy(dmap(nf.Addr()), dmap(f.Addr()))
			nm.Frames[va] = nf
		}
		return &MapArea{Start: a.Start, Size: a.Size, Flags: a.Flags, Map: nm}
	default:
		panic("vm: unknown mapper kind")
	}
}

/// free releases every frame a Framed area owns; an Offset area owns
/// nothing and is a no-op.
func (a *MapArea) free() {
	if m, ok := a.Map.(*FramedMapper); ok {
		for _, f := range m.Frames {
			f.Free()
		}
	}
}
