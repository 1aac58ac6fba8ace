// Package x86_64 implements the arch.Arch contract for x86-64: a
// 4-level page table (PML4/PDPT/PD/PT), sign-extended 48-bit canonical
// virtual addresses, and the syscall/interrupt/page-fault vectors IA-32e
// mode defines, with the PTE_P/PTE_W/PTE_U/PTE_PS-style bit layout kept
// behind the pgtable.Codec interface instead of being hardwired into
// the page-table walker itself.
//
// Real register-level IRQ masking, GDT/TSS setup, and trap entry stubs
// are boot assembly, out of scope for this tree; Capabilities here is a
// host-testable software model of that contract so the rest of the
// kernel can be exercised with `go test` instead of under emulation.
package x86_64

import (
	"sync/atomic"

	"arch"
	"memaddr"
	"pgtable"
)

const (
	ptePresent = 1 << 0
	pteWrite   = 1 << 1
	pteUser    = 1 << 2
	ptePCD     = 1 << 4
	ptePS      = 1 << 7
	pteNX      = 1 << 63
	pteAddrMask = 0x000f_ffff_ffff_f000
)

type codec struct{}

func (codec) NewPage(pa memaddr.PhysAddr, flags memaddr.MemFlags, isBlock bool) pgtable.Entry {
	e := uint64(pa) & pteAddrMask
	e |= ptePresent
	if flags.Has(memaddr.Write) {
		e |= pteWrite
	}
	if flags.Has(memaddr.User) {
		e |= pteUser
	}
	if flags.Has(memaddr.Device) {
		e |= ptePCD
	}
	if !flags.Has(memaddr.Execute) {
		e |= pteNX
	}
	if isBlock {
		e |= ptePS
	}
	return e
}

func (codec) NewTable(pa memaddr.PhysAddr) pgtable.Entry {
	// Intermediate tables are always present/writable/user; the leaf
	// entry is what actually restricts access.
	return uint64(pa)&pteAddrMask | ptePresent | pteWrite | pteUser
}

func (codec) PAddr(e pgtable.Entry) memaddr.PhysAddr { return memaddr.PhysAddr(e & pteAddrMask) }

func (codec) Flags(e pgtable.Entry) memaddr.MemFlags {
	var f memaddr.MemFlags
	if e&ptePresent != 0 {
		f |= memaddr.Read
	}
	if e&pteWrite != 0 {
		f |= memaddr.Write
	}
	if e&pteNX == 0 {
		f |= memaddr.Execute
	}
	if e&pteUser != 0 {
		f |= memaddr.User
	}
	if e&ptePCD != 0 {
		f |= memaddr.Device
	}
	return f
}

func (codec) IsPresent(e pgtable.Entry) bool { return e&ptePresent != 0 }
func (codec) IsBlock(e pgtable.Entry) bool   { return e&ptePS != 0 }
func (codec) IsUnused(e pgtable.Entry) bool  { return e == 0 }

// Trap vectors this architecture routes to the common handler.
// SyscallVector mirrors the legacy int 0x80
// convention still seen in some x86 kernels;
// a real build may instead use the SYSCALL instruction, which the
// entry stub normalizes to this same vector before calling in.
const (
	vectorPageFault = 14
	vectorSyscall   = 0x80
	vectorExternalBase = 32
)

// GPRegs layout: rax (syscall id / return value), rdi, rsi, rdx (args),
// rcx (saved user RIP on SYSCALL, unused by the int 0x80 path).
const (
	regRAX = 0
	regRDI = 1
	regRSI = 2
	regRDX = 3
)

type frameOps struct{}

func (frameOps) Classify(tf *arch.TrapFrame) arch.Cause {
	switch {
	case tf.Vector == vectorSyscall:
		return arch.CauseSyscall
	case tf.Vector == vectorPageFault:
		const pfErrUser = 1 << 2 // error-code bit 2: fault occurred in user mode
		if tf.ErrorCode&pfErrUser != 0 {
			return arch.CausePageFaultUser
		}
		return arch.CausePageFaultKernel
	case tf.Vector >= vectorExternalBase:
		return arch.CauseExternalInterrupt
	default:
		return arch.CauseException
	}
}

func (frameOps) SyscallArgs(tf *arch.TrapFrame) (id, a0, a1, a2 uint64) {
	return tf.GPRegs[regRAX], tf.GPRegs[regRDI], tf.GPRegs[regRSI], tf.GPRegs[regRDX]
}

func (frameOps) SetReturn(tf *arch.TrapFrame, v uint64) { tf.GPRegs[regRAX] = v }

// AdvancePastSyscall is a no-op on the int 0x80 path: the interrupt
// return address already points past the faulting instruction. The
// SYSCALL-instruction path needs no adjustment either: the CPU saves
// the address of the following instruction in rcx.
func (frameOps) AdvancePastSyscall(tf *arch.TrapFrame) {}

func (frameOps) FaultAddr(tf *arch.TrapFrame) memaddr.VirtAddr {
	return memaddr.VirtAddr(tf.FaultAddr)
}

// ExternalInterruptFrame synthesizes the vector an APIC entry stub
// would have written for line gsi, above vectorExternalBase.
func (frameOps) ExternalInterruptFrame(gsi uint32) *arch.TrapFrame {
	return &arch.TrapFrame{Vector: vectorExternalBase + uint64(gsi)}
}

type contextOps struct{}

func (contextOps) NewKernel(entry func(arg uintptr), arg uintptr, stackTop uintptr) *arch.Context {
	return &arch.Context{SP: uint64(stackTop), IRQsEnabled: true}
}

func (contextOps) NewUser(tf *arch.TrapFrame, stackTop uintptr, ptRoot memaddr.PhysAddr) *arch.Context {
	return &arch.Context{SP: uint64(stackTop), PTRoot: ptRoot, IRQsEnabled: true}
}

func (contextOps) Switch(prev, next *arch.Context) {
	if prev == next {
		return
	}
	// The real primitive saves RSP/callee-saved registers/FS base
	// into prev via entry-stub assembly, loads the same from next,
	// and returns on next's stack. That save/restore is boot
	// assembly, out of scope for this tree; the struct values
	// themselves are already current, so there is nothing further
	// for this software model to do beyond what the scheduler's
	// switchTo already did (updating the per-CPU current task).
}

type capabilities struct {
	irqEnabled atomic.Bool
	threadPtr  atomic.Uintptr
}

func (c *capabilities) EnableIRQs()  { c.irqEnabled.Store(true) }
func (c *capabilities) DisableIRQs() bool {
	return c.irqEnabled.Swap(false)
}
func (c *capabilities) IRQsDisabled() bool { return !c.irqEnabled.Load() }
func (c *capabilities) ThreadPointer() uintptr { return c.threadPtr.Load() }
func (c *capabilities) SetThreadPointer(p uintptr) { c.threadPtr.Store(p) }
func (c *capabilities) SetUserPageTableRoot(memaddr.PhysAddr) {}
func (c *capabilities) FlushTLBAll()    {}
func (c *capabilities) FlushICacheAll() {}
func (c *capabilities) WaitForInts()    {}

/// New constructs the x86-64 arch.Arch: 4 levels, sign-extended 48-bit
/// canonical addresses, PML4-relative direct map.
func New() *arch.Arch {
	return &arch.Arch{
		Name:           "x86_64",
		Levels:         4,
		Codec:          codec{},
		CanonicalForm:  memaddr.SignExtended,
		VABits:         48,
		PhysVirtOffset: 0xffff_8000_0000_0000,
		Caps:           &capabilities{},
		Frame:          frameOps{},
		Ctx:            contextOps{},
		NewPerCPUScratch: func() arch.PerCPUScratch {
			return newPerCPUScratch()
		},
	}
}
