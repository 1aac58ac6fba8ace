package x86_64

import "unsafe"

// Segment selector indices mirror the flat GDT this kernel was
// ported from: null, 32-bit code, 64-bit code, data, 32-bit user
// code, user data, 64-bit user code, then a two-slot TSS system
// descriptor.
const (
	selKernelCode32 = 1
	selKernelCode64 = 2
	selKernelData   = 3
	selUserCode32   = 4
	selUserData     = 5
	selUserCode64   = 6
	selTSS          = 7
)

// Flat descriptor bit patterns, carried over unchanged from the
// original boot GDT (a present, 4K-granular, long-mode code/data
// segment spanning the full 32-bit limit).
const (
	descKernelCode32 uint64 = 0x00cf9b000000ffff
	descKernelCode64 uint64 = 0x00af9b000000ffff
	descKernelData   uint64 = 0x00cf93000000ffff
	descUserCode32   uint64 = 0x00cffb000000ffff
	descUserData     uint64 = 0x00cff3000000ffff
	descUserCode64   uint64 = 0x00affb000000ffff

	tssDescType = 0x89 // 64-bit TSS (available), present, DPL 0
)

/// TSS is the one piece of a real task-state segment this kernel
/// reads: the ring-0 stack pointers loaded into RSP on a privilege
/// transition into the kernel.
type TSS struct {
	reserved0           uint32
	PrivilegeStackTable [3]uint64
	reserved1           uint64
	interruptStackTable [7]uint64
	reserved2           uint64
	reserved3           uint16
	ioMapBase           uint16
}

/// KernelStackTop returns the RSP0 entry a trap from user mode
/// switches onto.
func (t *TSS) KernelStackTop() uintptr { return uintptr(t.PrivilegeStackTable[0]) }

/// SetKernelStackTop installs this hart's current kernel stack top as
/// RSP0, called whenever the scheduler switches to a new task so a
/// trap taken from that task's user mode lands on its own stack.
func (t *TSS) SetKernelStackTop(rsp0 uintptr) {
	t.PrivilegeStackTable[0] = uint64(rsp0)
}

/// GDT is this hart's flat descriptor table: kernel/user code and
/// data segments shared by every hart, plus a TSS system-segment
/// descriptor pointing at this hart's own TSS, so each hart's RSP0
/// can differ.
type GDT struct {
	table [9]uint64
	tss   *TSS
}

// tssDescriptor packs a 64-bit TSS system-segment descriptor across
// two 8-byte table slots, the split a GDT entry needs since its base
// field does not fit one 8-byte slot at 64-bit addresses.
func tssDescriptor(tss *TSS) (low, high uint64) {
	base := uint64(uintptr(unsafe.Pointer(tss)))
	limit := uint64(unsafe.Sizeof(*tss)) - 1
	low = (limit & 0xffff) |
		((base & 0xffffff) << 16) |
		(tssDescType << 40) |
		(((base >> 24) & 0xff) << 56)
	high = base >> 32
	return low, high
}

/// Install fills in every descriptor, including the system-segment
/// descriptor pointing at this hart's TSS. The lgdt/ltr instruction
/// pair that would load GDTR/TR from it on real hardware is boot
/// assembly, out of scope for this tree; everything else a bring-up
/// step does is computed here.
func (g *GDT) Install() {
	g.table[selKernelCode32] = descKernelCode32
	g.table[selKernelCode64] = descKernelCode64
	g.table[selKernelData] = descKernelData
	g.table[selUserCode32] = descUserCode32
	g.table[selUserData] = descUserData
	g.table[selUserCode64] = descUserCode64
	g.table[selTSS], g.table[selTSS+1] = tssDescriptor(g.tss)
}

/// perCPUScratch is this architecture's PerCpu.ArchScratch payload.
type perCPUScratch struct {
	tss TSS
	gdt GDT
}

func newPerCPUScratch() *perCPUScratch {
	s := &perCPUScratch{}
	s.gdt.tss = &s.tss
	return s
}

func (s *perCPUScratch) Install() { s.gdt.Install() }

/// TSS exposes the scratch block's TSS so the scheduler can update
/// RSP0 on every context switch.
func (s *perCPUScratch) TSS() *TSS { return &s.tss }

/// SetKernelStackTop satisfies arch.KernelStackSetter, delegating to
/// the scratch block's own TSS.
func (s *perCPUScratch) SetKernelStackTop(rsp0 uintptr) { s.tss.SetKernelStackTop(rsp0) }
