// Package riscv implements the arch.Arch contract for RISC-V under the
// Sv39 virtual memory scheme: a 3-level page table, sign-extended
// 39-bit canonical addresses, and the Sv39 PTE bit layout (V/R/W/X/U
// directly, no separate "present" bit distinct from the permission
// bits themselves).
package riscv

import (
	"sync/atomic"

	"arch"
	"memaddr"
	"pgtable"
)

const (
	pteV = 1 << 0 // valid
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
	// Sv39 PPN field occupies bits 10-53; the low 10 bits are flags.
	ppnShift   = 10
	ppnMask    = 0x003f_ffff_ffff_fc00
)

type codec struct{}

func (codec) NewPage(pa memaddr.PhysAddr, flags memaddr.MemFlags, isBlock bool) pgtable.Entry {
	e := (uint64(pa) >> 12 << ppnShift) & ppnMask
	e |= pteV | pteA | pteD
	if flags.Has(memaddr.Read) {
		e |= pteR
	}
	if flags.Has(memaddr.Write) {
		e |= pteW
	}
	if flags.Has(memaddr.Execute) {
		e |= pteX
	}
	if flags.Has(memaddr.User) {
		e |= pteU
	}
	return e
}

func (codec) NewTable(pa memaddr.PhysAddr) pgtable.Entry {
	// A pointer-to-next-level entry has V set and all of R/W/X clear;
	// setting any of R/W/X marks it a leaf in Sv39's encoding.
	return (uint64(pa)>>12<<ppnShift)&ppnMask | pteV
}

func (codec) PAddr(e pgtable.Entry) memaddr.PhysAddr {
	return memaddr.PhysAddr((e & ppnMask) >> ppnShift << 12)
}

func (codec) Flags(e pgtable.Entry) memaddr.MemFlags {
	var f memaddr.MemFlags
	if e&pteR != 0 {
		f |= memaddr.Read
	}
	if e&pteW != 0 {
		f |= memaddr.Write
	}
	if e&pteX != 0 {
		f |= memaddr.Execute
	}
	if e&pteU != 0 {
		f |= memaddr.User
	}
	return f
}

func (codec) IsPresent(e pgtable.Entry) bool { return e&pteV != 0 }
func (codec) IsBlock(e pgtable.Entry) bool   { return e&pteV != 0 && e&(pteR|pteW|pteX) != 0 }
func (codec) IsUnused(e pgtable.Entry) bool  { return e == 0 }

// scause values this kernel routes to the common handler. The high bit
// of scause distinguishes interrupts from exceptions; this kernel folds
// that into a single vector number with interrupts offset above
// vectorExternalBase, the same shape x86_64/aarch64 use.
const (
	vectorEnvCallFromU  = 8
	vectorStorePageFault = 15
	vectorLoadPageFault  = 13
	vectorInstrPageFault = 12
	vectorExternalBase   = 0x8000_0000
)

const (
	regA0 = 0
	regA1 = 1
	regA2 = 2
	regA7 = 7 // RISC-V syscall-number register per the SBI/Linux convention
)

type frameOps struct{}

func isPageFaultVector(v uint64) bool {
	return v == vectorStorePageFault || v == vectorLoadPageFault || v == vectorInstrPageFault
}

func (frameOps) Classify(tf *arch.TrapFrame) arch.Cause {
	switch {
	case tf.Vector == vectorEnvCallFromU:
		return arch.CauseSyscall
	case isPageFaultVector(tf.Vector):
		if tf.StatusReg&1 != 0 { // sstatus.SPP == 0 recorded here as 1 meaning "came from U-mode"
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
	return tf.GPRegs[regA7], tf.GPRegs[regA0], tf.GPRegs[regA1], tf.GPRegs[regA2]
}

func (frameOps) SetReturn(tf *arch.TrapFrame, v uint64) { tf.GPRegs[regA0] = v }

// AdvancePastSyscall adds 4 (the ECALL instruction's fixed width) to
// sepc so the kernel does not re-execute the same ECALL on return.
// Some real RISC-V trap handlers decrement the return PC for syscalls
// in some paths and not others; this kernel always advances past ECALL
// since it never emulates an instruction in place.
func (frameOps) AdvancePastSyscall(tf *arch.TrapFrame) { tf.PC += 4 }

func (frameOps) FaultAddr(tf *arch.TrapFrame) memaddr.VirtAddr {
	return memaddr.VirtAddr(tf.FaultAddr)
}

// ExternalInterruptFrame synthesizes the vector a PLIC entry stub
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
	// Real save/restore of s0-s11/ra/sp/tp is boot assembly (out of
	// scope); see x86_64.contextOps.Switch for the identical rationale.
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
func (c *capabilities) SetUserPageTableRoot(memaddr.PhysAddr) {}
func (c *capabilities) FlushTLBAll()    {} // sfence.vma
func (c *capabilities) FlushICacheAll() {} // fence.i
func (c *capabilities) WaitForInts()    {} // wfi

/// New constructs the RISC-V (Sv39) arch.Arch: 3 levels, sign-extended
/// 39-bit canonical addresses.
func New() *arch.Arch {
	return &arch.Arch{
		Name:           "riscv",
		Levels:         3,
		Codec:          codec{},
		CanonicalForm:  memaddr.SignExtended,
		VABits:         39,
		PhysVirtOffset: 0xffff_ffc0_0000_0000,
		Caps:           &capabilities{},
		Frame:          frameOps{},
		Ctx:            contextOps{},
		NewPerCPUScratch: func() arch.PerCPUScratch {
			return noScratch{}
		},
	}
}

// noScratch is RISC-V's PerCpu.ArchScratch payload: sscratch already
// carries the per-hart block pointer on its own (percpu.InstallThreadPointer),
// with no further per-hart register-save state to install here.
type noScratch struct{}

func (noScratch) Install() {}
