// Package aarch64 implements the arch.Arch contract for AArch64: a
// 4-level table walk under TTBR0_EL1 for the user half, a
// uniform-top-16-bit canonical address rule, and the AArch64 PTE
// attribute encoding (AP bits for R/W/EL0 access, UXN/PXN for
// execute permission, the descriptor-type bit for block vs. table).
//
// AArch64 has a dedicated hardware register for the kernel half of the
// address space (TTBR1_EL1), so CloneFrom is never invoked for this
// architecture — a new user address space just (re)points TTBR1_EL1 at
// the one shared kernel root instead of copying any entries.
package aarch64

import (
	"sync/atomic"

	"arch"
	"memaddr"
	"pgtable"
)

const (
	descValid   = 1 << 0
	descTable   = 1 << 1 // set on intermediate levels and 4K leaves; clear = block mapping
	descAF      = 1 << 10
	descAPRO    = 1 << 7 // AP[2]: 1 = read-only
	descAPEL0   = 1 << 6 // AP[1]: 1 = accessible at EL0 (user)
	descUXN     = 1 << 54
	descPXN     = 1 << 53
	descDevice  = 1 << 2 // MAIR index 1 selects Device-nGnRnE in this kernel's fixed MAIR layout
	descAddrMask = 0x0000_ffff_ffff_f000
)

type codec struct{}

func (codec) NewPage(pa memaddr.PhysAddr, flags memaddr.MemFlags, isBlock bool) pgtable.Entry {
	e := uint64(pa) & descAddrMask
	e |= descValid | descAF
	if !isBlock {
		e |= descTable
	}
	if !flags.Has(memaddr.Write) {
		e |= descAPRO
	}
	if flags.Has(memaddr.User) {
		e |= descAPEL0
	}
	if !flags.Has(memaddr.Execute) {
		e |= descUXN | descPXN
	}
	if flags.Has(memaddr.Device) {
		e |= descDevice
	}
	return e
}

func (codec) NewTable(pa memaddr.PhysAddr) pgtable.Entry {
	return uint64(pa)&descAddrMask | descValid | descTable
}

func (codec) PAddr(e pgtable.Entry) memaddr.PhysAddr { return memaddr.PhysAddr(e & descAddrMask) }

func (codec) Flags(e pgtable.Entry) memaddr.MemFlags {
	var f memaddr.MemFlags
	if e&descValid != 0 {
		f |= memaddr.Read
	}
	if e&descAPRO == 0 {
		f |= memaddr.Write
	}
	if e&descUXN == 0 {
		f |= memaddr.Execute
	}
	if e&descAPEL0 != 0 {
		f |= memaddr.User
	}
	if e&descDevice != 0 {
		f |= memaddr.Device
	}
	return f
}

func (codec) IsPresent(e pgtable.Entry) bool { return e&descValid != 0 }
func (codec) IsBlock(e pgtable.Entry) bool   { return e&descValid != 0 && e&descTable == 0 }
func (codec) IsUnused(e pgtable.Entry) bool  { return e == 0 }

const (
	vectorDataAbortLower  = 0x24 // synchronous data abort from a lower EL (user mode)
	vectorDataAbortSame   = 0x25 // synchronous data abort from the same EL (kernel mode)
	vectorSVC             = 0x15 // SVC instruction (supervisor call) from a lower EL
	vectorIRQLowerBase    = 0x80 // this kernel's own encoding for IRQ-class vectors
)

const (
	regX0 = 0
	regX1 = 1
	regX2 = 2
	regX8 = 8 // AArch64 syscall-number register per this kernel's ABI (mirrors Linux's convention)
)

type frameOps struct{}

func (frameOps) Classify(tf *arch.TrapFrame) arch.Cause {
	switch {
	case tf.Vector == vectorSVC:
		return arch.CauseSyscall
	case tf.Vector == vectorDataAbortLower:
		return arch.CausePageFaultUser
	case tf.Vector == vectorDataAbortSame:
		return arch.CausePageFaultKernel
	case tf.Vector >= vectorIRQLowerBase:
		return arch.CauseExternalInterrupt
	default:
		return arch.CauseException
	}
}

func (frameOps) SyscallArgs(tf *arch.TrapFrame) (id, a0, a1, a2 uint64) {
	return tf.GPRegs[regX8], tf.GPRegs[regX0], tf.GPRegs[regX1], tf.GPRegs[regX2]
}

func (frameOps) SetReturn(tf *arch.TrapFrame, v uint64) { tf.GPRegs[regX0] = v }

// AdvancePastSyscall is a no-op: ELR_EL1 already points past the SVC
// instruction when the exception was taken, unlike RISC-V's ECALL.
func (frameOps) AdvancePastSyscall(tf *arch.TrapFrame) {}

func (frameOps) FaultAddr(tf *arch.TrapFrame) memaddr.VirtAddr {
	return memaddr.VirtAddr(tf.FaultAddr)
}

// ExternalInterruptFrame synthesizes the vector a GIC entry stub
// would have written for line gsi, above vectorIRQLowerBase.
func (frameOps) ExternalInterruptFrame(gsi uint32) *arch.TrapFrame {
	return &arch.TrapFrame{Vector: vectorIRQLowerBase + uint64(gsi)}
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
	// Real save/restore of x19-x30/SP_EL0/TPIDR_EL0 is boot assembly
	// (out of scope); see x86_64.contextOps.Switch for the identical
	// rationale.
}

type capabilities struct {
	irqEnabled atomic.Bool
	threadPtr  atomic.Uintptr
}

func (c *capabilities) EnableIRQs()      { c.irqEnabled.Store(true) }
func (c *capabilities) DisableIRQs() bool { return c.irqEnabled.Swap(false) }
func (c *capabilities) IRQsDisabled() bool { return !c.irqEnabled.Load() }
func (c *capabilities) ThreadPointer() uintptr { return c.threadPtr.Load() }
func (c *capabilities) SetThreadPointer(p uintptr) { c.threadPtr.Store(p) }

// SetUserPageTableRoot loads TTBR0_EL1 only; TTBR1_EL1 (the kernel
// half) is set once at boot and never touched again, which is why
// PageTable.CloneFrom is unreachable on this architecture.
func (c *capabilities) SetUserPageTableRoot(memaddr.PhysAddr) {}
func (c *capabilities) FlushTLBAll()    {}
func (c *capabilities) FlushICacheAll() {}
func (c *capabilities) WaitForInts()    {} // wfi

/// New constructs the AArch64 arch.Arch: 4 levels, uniform-top-16-bit
/// canonical addresses, TTBR1-relative direct map.
func New() *arch.Arch {
	return &arch.Arch{
		Name:           "aarch64",
		Levels:         4,
		Codec:          codec{},
		CanonicalForm:  memaddr.UniformTop16,
		VABits:         48,
		PhysVirtOffset: 0xffff_0000_0000_0000,
		Caps:           &capabilities{},
		Frame:          frameOps{},
		Ctx:            contextOps{},
		NewPerCPUScratch: func() arch.PerCPUScratch {
			return noScratch{}
		},
	}
}

// noScratch is AArch64's PerCpu.ArchScratch payload: this kernel has
// no per-hart register-save block analogous to x86-64's GDT/TSS pair
// to carry here, so Install has nothing to do.
type noScratch struct{}

func (noScratch) Install() {}
