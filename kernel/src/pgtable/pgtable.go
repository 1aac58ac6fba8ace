// Package pgtable is the page-table engine: a generic multi-level
// table walker parameterized over the number of levels (3 or 4) and an
// opaque per-architecture entry codec, so the walker itself never
// hardcodes any one architecture's PTE bit layout.
package pgtable

import (
	"unsafe"

	"config"
	"frame"
	"klog"
	"memaddr"
)

/// entriesPerLevel is fixed at 512 on every supported architecture: a
/// 4 KiB table of 8-byte entries.
const entriesPerLevel = 512

/// Entry is the raw per-architecture PTE representation. Every
/// architecture uses a 64-bit word; what the bits mean is only known
/// to that architecture's Codec.
type Entry = uint64

/// Table is one level of page-table storage: 512 raw entries backed by
/// a single physical frame.
type Table [entriesPerLevel]Entry

/// Codec is an opaque per-architecture page-table-entry encoding,
/// implemented once per architecture. It is a stateless strategy object (a
/// zero-size struct value in each arch package) rather than a method
/// set on Entry itself, so the generic engine never needs to know
/// which bits mean what.
type Codec interface {
	NewPage(pa memaddr.PhysAddr, flags memaddr.MemFlags, isBlock bool) Entry
	NewTable(pa memaddr.PhysAddr) Entry
	PAddr(e Entry) memaddr.PhysAddr
	Flags(e Entry) memaddr.MemFlags
	IsPresent(e Entry) bool
	IsBlock(e Entry) bool
	IsUnused(e Entry) bool
}

/// DirectMap resolves a physical address to a kernel-visible Table
/// view of one page, i.e. the PA + PHYS_VIRT_OFFSET identity window.
type DirectMap func(memaddr.PhysAddr) *Table

/// WrapByteDMap reinterprets a byte-granularity direct-map accessor
/// (the one frame.PhysFrame.Bytes and vm's framed-area copies use) as
/// a Table-granularity one, via the same raw unsafe.Pointer reinterpret
/// cast elsewhere in this tree turns a raw page of bytes into a
/// structured view.
func WrapByteDMap(byteDMap func(memaddr.PhysAddr) []byte) DirectMap {
	return func(pa memaddr.PhysAddr) *Table {
		b := byteDMap(pa)
		return (*Table)(unsafe.Pointer(&b[0]))
	}
}

/// PageTable owns a root frame plus every intermediate-level frame
/// allocated while walking it, and frees them all when it is
/// discarded via Destroy. The invariant that every present non-leaf
/// entry references a frame held by this set is maintained because
/// walk (on behalf of Map) and MapHuge are the only ways to create a
/// non-leaf entry, and both append the new frame to aux. The one
/// exception is the top-level entries CloneFrom copies, which
/// reference frames owned by the source table.
type PageTable struct {
	Levels int
	codec  Codec
	dmap   DirectMap
	alloc  *frame.Allocator

	root *frame.PhysFrame
	aux  []*frame.PhysFrame
}

/// New builds an empty page table with a freshly allocated, zeroed
/// root frame.
func New(levels int, codec Codec, dmap DirectMap, alloc *frame.Allocator) *PageTable {
	root, ok := frame.AllocZero(alloc, func(pa memaddr.PhysAddr) { zeroTable(dmap(pa)) })
	if !ok {
		klog.Panicf("pgtable: out of memory allocating root table")
	}
	return &PageTable{Levels: levels, codec: codec, dmap: dmap, alloc: alloc, root: root}
}

func zeroTable(t *Table) {
	for i := range t {
		t[i] = 0
	}
}

/// RootAddr returns the physical address of the root table, the value
/// an architecture primitive loads into its page-table-root register.
func (pt *PageTable) RootAddr() memaddr.PhysAddr { return pt.root.Addr() }

/// Alloc returns the frame allocator this table (and, by convention,
/// its owning MemorySet's areas) draws frames from.
func (pt *PageTable) Alloc() *frame.Allocator { return pt.alloc }

// index returns the 9-bit index into the table at the given level
// (0 = top level) for va.
func index(va memaddr.VirtAddr, level, levels int) int {
	shift := config.PageShift + uint(9*(levels-1-level))
	return int((uint64(va) >> shift) & (entriesPerLevel - 1))
}

func (pt *PageTable) tableAt(pa memaddr.PhysAddr) *Table {
	return pt.dmap(pa)
}

// walk descends from the root to the leaf-level table holding va's
// entry, creating intermediate tables as it goes when create is true.
// It returns nil if an intermediate table is absent and create is false.
func (pt *PageTable) walk(va memaddr.VirtAddr, create bool) *Table {
	t := pt.tableAt(pt.root.Addr())
	for level := 0; level < pt.Levels-1; level++ {
		idx := index(va, level, pt.Levels)
		e := t[idx]
		if pt.codec.IsUnused(e) {
			if !create {
				return nil
			}
			nf, ok := frame.AllocZero(pt.alloc, func(pa memaddr.PhysAddr) { zeroTable(pt.dmap(pa)) })
			if !ok {
				klog.Panicf("pgtable: out of memory allocating intermediate table")
			}
			pt.aux = append(pt.aux, nf)
			t[idx] = pt.codec.NewTable(nf.Addr())
			e = t[idx]
		} else if pt.codec.IsBlock(e) {
			klog.Panicf("pgtable: va %s aliases a huge page at an intermediate level", va)
		}
		t = pt.tableAt(pt.codec.PAddr(e))
	}
	return t
}

/// Map installs a single leaf mapping. It panics if the leaf is already
/// present: the caller promises not to overmap.
func (pt *PageTable) Map(va memaddr.VirtAddr, pa memaddr.PhysAddr, flags memaddr.MemFlags) {
	t := pt.walk(va, true)
	idx := index(va, pt.Levels-1, pt.Levels)
	if pt.codec.IsPresent(t[idx]) {
		klog.Panicf("pgtable: overmap at %s", va)
	}
	t[idx] = pt.codec.NewPage(pa, flags, false)
}

/// MapHuge installs a block/huge-page leaf at an intermediate level,
/// the is_block encoding every architecture's Codec exposes for 2 MiB
/// /1 GiB leaves; nothing in this kernel's MemorySet calls it yet, but
/// the engine supports it for a future huge-mapping MapArea kind.
func (pt *PageTable) MapHuge(va memaddr.VirtAddr, pa memaddr.PhysAddr, flags memaddr.MemFlags, level int) {
	t := pt.tableAt(pt.root.Addr())
	for l := 0; l < level; l++ {
		idx := index(va, l, pt.Levels)
		e := t[idx]
		if pt.codec.IsUnused(e) {
			nf, ok := frame.AllocZero(pt.alloc, func(pa memaddr.PhysAddr) { zeroTable(pt.dmap(pa)) })
			if !ok {
				klog.Panicf("pgtable: out of memory allocating intermediate table")
			}
			pt.aux = append(pt.aux, nf)
			t[idx] = pt.codec.NewTable(nf.Addr())
			e = t[idx]
		}
		t = pt.tableAt(pt.codec.PAddr(e))
	}
	idx := index(va, level, pt.Levels)
	if pt.codec.IsPresent(t[idx]) {
		klog.Panicf("pgtable: overmap at %s", va)
	}
	t[idx] = pt.codec.NewPage(pa, flags, true)
}

/// Unmap clears a leaf mapping. It panics if unset.
func (pt *PageTable) Unmap(va memaddr.VirtAddr) {
	t := pt.walk(va, false)
	if t == nil {
		klog.Panicf("pgtable: unmap of unmapped %s", va)
	}
	idx := index(va, pt.Levels-1, pt.Levels)
	if !pt.codec.IsPresent(t[idx]) {
		klog.Panicf("pgtable: unmap of unmapped %s", va)
	}
	t[idx] = 0
}

/// Query returns the mapping for a terminal page, or ok=false if
/// absent.
func (pt *PageTable) Query(va memaddr.VirtAddr) (pa memaddr.PhysAddr, flags memaddr.MemFlags, ok bool) {
	t := pt.walk(va, false)
	if t == nil {
		return 0, 0, false
	}
	idx := index(va, pt.Levels-1, pt.Levels)
	e := t[idx]
	if !pt.codec.IsPresent(e) {
		return 0, 0, false
	}
	return pt.codec.PAddr(e), pt.codec.Flags(e), true
}

/// AreaMapper supplies, for each page-aligned va in an area's range,
/// the physical address to install.
type AreaMapper interface {
	PhysAddrFor(va memaddr.VirtAddr) (memaddr.PhysAddr, bool)
}

/// MapRange installs mappings for every page in [start, start+size) by
/// asking mapper for each page's physical address.
func (pt *PageTable) MapRange(start memaddr.VirtAddr, size uint64, flags memaddr.MemFlags, mapper AreaMapper) {
	for off := uint64(0); off < size; off += uint64(config.PageSize) {
		va := start.Add(off)
		pa, ok := mapper.PhysAddrFor(va)
		if !ok {
			klog.Panicf("pgtable: area mapper has no page for %s", va)
		}
		pt.Map(va, pa, flags)
	}
}

/// UnmapRange removes the mappings installed by a prior MapRange.
func (pt *PageTable) UnmapRange(start memaddr.VirtAddr, size uint64) {
	for off := uint64(0); off < size; off += uint64(config.PageSize) {
		pt.Unmap(start.Add(off))
	}
}

/// CloneFrom allocates a new root table and shallow-copies the
/// top-level entries covering [start, end) from pt into it, so the two
/// tables share the same intermediate/leaf frames over that range —
/// used to share the kernel half of the address space with every user
/// MemorySet. On architectures with a dedicated kernel-half root
/// register (AArch64's TTBR1), the caller should not call CloneFrom at
/// all; see arch/aarch64's capability set.
func (pt *PageTable) CloneFrom(start, end memaddr.VirtAddr) *PageTable {
	np := New(pt.Levels, pt.codec, pt.dmap, pt.alloc)
	src := pt.tableAt(pt.root.Addr())
	dst := pt.tableAt(np.root.Addr())
	i0 := index(start, 0, pt.Levels)
	i1 := index(end-1, 0, pt.Levels)
	for i := i0; i <= i1; i++ {
		dst[i] = src[i]
	}
	return np
}

/// Destroy frees every intermediate/root frame this table owns. The
/// caller must have already unmapped (or never mapped) any leaf
/// entries whose backing frames it wants to keep owning itself.
func (pt *PageTable) Destroy() {
	for _, f := range pt.aux {
		f.Free()
	}
	pt.aux = nil
	pt.root.Free()
}
