// Package memaddr defines the physical/virtual address wrappers and
// the architecture-neutral permission bitset every other kernel
// package builds on, generalized to more than one architecture's
// canonical-address rule.
package memaddr

import (
	"fmt"

	"config"
	"util"
)

/// PhysAddr is an opaque physical address. The underlying word width is
/// architecture-independent; only the page-table engine cares how many
/// of its bits are actually wired on a given ISA.
type PhysAddr uint64

/// VirtAddr is an opaque virtual address. Construction is gated by
/// NewVirtAddr so an address that fails its architecture's canonical
/// form can never enter the kernel as a VirtAddr value.
type VirtAddr uint64

/// PageOffset returns the low PageShift bits of the address.
func (a PhysAddr) PageOffset() uint64 { return uint64(a) & uint64(config.PageSize-1) }

/// PageOffset returns the low PageShift bits of the address.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & uint64(config.PageSize-1) }

/// AlignDown rounds the address down to a page boundary.
func (a PhysAddr) AlignDown() PhysAddr { return PhysAddr(util.Rounddown(uint64(a), uint64(config.PageSize))) }

/// AlignUp rounds the address up to a page boundary.
func (a PhysAddr) AlignUp() PhysAddr { return PhysAddr(util.Roundup(uint64(a), uint64(config.PageSize))) }

/// AlignDown rounds the address down to a page boundary.
func (a VirtAddr) AlignDown() VirtAddr { return VirtAddr(util.Rounddown(uint64(a), uint64(config.PageSize))) }

/// AlignUp rounds the address up to a page boundary.
func (a VirtAddr) AlignUp() VirtAddr { return VirtAddr(util.Roundup(uint64(a), uint64(config.PageSize))) }

/// Add returns a+delta as a VirtAddr.
func (a VirtAddr) Add(delta uint64) VirtAddr { return VirtAddr(uint64(a) + delta) }

/// Sub returns the byte distance from b to a (a-b).
func (a VirtAddr) Sub(b VirtAddr) int64 { return int64(a) - int64(b) }

func (a PhysAddr) String() string { return fmt.Sprintf("pa:%#x", uint64(a)) }
func (a VirtAddr) String() string { return fmt.Sprintf("va:%#x", uint64(a)) }

/// CanonicalForm selects how an architecture validates the high bits of
/// a virtual address: x86-64 and RISC-V sign-extend from bit vaBits-1,
/// AArch64 instead requires the top 16 bits to be uniformly 0 or 1
/// (a non-canonical address is always rejected at construction).
type CanonicalForm int

const (
	SignExtended CanonicalForm = iota
	UniformTop16
)

/// ErrNonCanonical is returned by NewVirtAddr when addr is not a valid
/// address for the given form/width.
var ErrNonCanonical = fmt.Errorf("virtual address is not canonical")

/// NewVirtAddr validates addr against an architecture's canonical-address
/// rule and either form width, returning ErrNonCanonical on violation.
func NewVirtAddr(addr uint64, form CanonicalForm, vaBits uint) (VirtAddr, error) {
	switch form {
	case SignExtended:
		top := addr >> (vaBits - 1)
		allOnes := uint64(1)<<(64-vaBits+1) - 1
		if top != 0 && top != allOnes {
			return 0, ErrNonCanonical
		}
	case UniformTop16:
		top := addr >> 48
		if top != 0 && top != 0xffff {
			return 0, ErrNonCanonical
		}
	default:
		return 0, fmt.Errorf("unknown canonical form %d", form)
	}
	return VirtAddr(addr), nil
}

/// MemFlags is the architecture-neutral permission/attribute bitset
/// every MapArea carries. Each architecture translates it to and from
/// its native PTE bit layout (testable property: round-trip identity
/// over READ/WRITE/EXECUTE/USER).
type MemFlags uint8

const (
	Read MemFlags = 1 << iota
	Write
	Execute
	User
	Device
)

func (f MemFlags) Has(bit MemFlags) bool { return f&bit != 0 }

func (f MemFlags) String() string {
	s := ""
	if f.Has(Read) {
		s += "R"
	}
	if f.Has(Write) {
		s += "W"
	}
	if f.Has(Execute) {
		s += "X"
	}
	if f.Has(User) {
		s += "U"
	}
	if f.Has(Device) {
		s += "D"
	}
	if s == "" {
		return "-"
	}
	return s
}
