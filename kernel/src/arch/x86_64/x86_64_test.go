package x86_64

import (
	"testing"

	"arch"
	"memaddr"
)

func TestCodecPageEncodeDecodeRoundTrip(t *testing.T) {
	c := codec{}
	pa := memaddr.PhysAddr(0x1234_5000)

	cases := []memaddr.MemFlags{
		memaddr.Read,
		memaddr.Read | memaddr.Write,
		memaddr.Read | memaddr.Write | memaddr.Execute,
		memaddr.Read | memaddr.User,
		memaddr.Read | memaddr.Device,
	}
	for _, flags := range cases {
		e := c.NewPage(pa, flags, false)
		if !c.IsPresent(e) {
			t.Fatalf("expected a freshly encoded page entry to be present, flags=%s", flags)
		}
		if c.IsBlock(e) {
			t.Fatalf("expected a non-block page entry for flags=%s", flags)
		}
		if got := c.PAddr(e); got != pa {
			t.Fatalf("expected PAddr to round-trip to %s; got %s (flags=%s)", pa, got, flags)
		}
		if got := c.Flags(e); got != flags {
			t.Fatalf("expected Flags to round-trip to %s; got %s", flags, got)
		}
	}
}

func TestCodecBlockEntryIsBlock(t *testing.T) {
	c := codec{}
	e := c.NewPage(memaddr.PhysAddr(0x200000), memaddr.Read, true)
	if !c.IsBlock(e) {
		t.Fatal("expected isBlock=true to set the block bit")
	}
}

func TestCodecIsUnusedOnZeroEntry(t *testing.T) {
	c := codec{}
	if !c.IsUnused(0) {
		t.Fatal("expected the zero entry to be unused")
	}
	if c.IsUnused(c.NewTable(memaddr.PhysAddr(0x1000))) {
		t.Fatal("expected a populated table entry not to be unused")
	}
}

func TestFrameOpsClassify(t *testing.T) {
	f := frameOps{}
	cases := []struct {
		tf   arch.TrapFrame
		want arch.Cause
	}{
		{arch.TrapFrame{Vector: vectorSyscall}, arch.CauseSyscall},
		{arch.TrapFrame{Vector: vectorPageFault, ErrorCode: 1 << 2}, arch.CausePageFaultUser},
		{arch.TrapFrame{Vector: vectorPageFault, ErrorCode: 0}, arch.CausePageFaultKernel},
		{arch.TrapFrame{Vector: vectorExternalBase + 1}, arch.CauseExternalInterrupt},
		{arch.TrapFrame{Vector: 3}, arch.CauseException},
	}
	for _, c := range cases {
		if got := f.Classify(&c.tf); got != c.want {
			t.Errorf("Classify(vector=%#x, err=%#x) = %v, want %v", c.tf.Vector, c.tf.ErrorCode, got, c.want)
		}
	}
}

func TestFrameOpsSyscallArgsAndSetReturn(t *testing.T) {
	f := frameOps{}
	tf := &arch.TrapFrame{}
	tf.GPRegs[regRAX] = 39
	tf.GPRegs[regRDI] = 1
	tf.GPRegs[regRSI] = 2
	tf.GPRegs[regRDX] = 3

	id, a0, a1, a2 := f.SyscallArgs(tf)
	if id != 39 || a0 != 1 || a1 != 2 || a2 != 3 {
		t.Fatalf("unexpected syscall args: id=%d a0=%d a1=%d a2=%d", id, a0, a1, a2)
	}

	f.SetReturn(tf, 77)
	if tf.GPRegs[regRAX] != 77 {
		t.Fatalf("expected SetReturn to write rax; got %d", tf.GPRegs[regRAX])
	}
}

func TestCapabilitiesIRQState(t *testing.T) {
	a := New()
	if !a.Caps.IRQsDisabled() {
		t.Fatal("expected a fresh arch to start with IRQs disabled")
	}
	a.Caps.EnableIRQs()
	if a.Caps.IRQsDisabled() {
		t.Fatal("expected EnableIRQs to clear IRQsDisabled")
	}
	wasEnabled := a.Caps.DisableIRQs()
	if !wasEnabled {
		t.Fatal("expected DisableIRQs to report the prior (enabled) state")
	}
	if !a.Caps.IRQsDisabled() {
		t.Fatal("expected IRQs to be disabled after DisableIRQs")
	}
}

func TestFrameOpsExternalInterruptFrameClassifiesAsExternal(t *testing.T) {
	f := frameOps{}
	tf := f.ExternalInterruptFrame(3)
	if got := f.Classify(tf); got != arch.CauseExternalInterrupt {
		t.Fatalf("expected a synthesized interrupt frame to classify as external; got %v", got)
	}
}

func TestGDTInstallFillsEveryDescriptor(t *testing.T) {
	s := newPerCPUScratch()
	s.tss.SetKernelStackTop(0x1000)
	s.Install()

	cases := []struct {
		name string
		sel  int
		want uint64
	}{
		{"kernel code32", selKernelCode32, descKernelCode32},
		{"kernel code64", selKernelCode64, descKernelCode64},
		{"kernel data", selKernelData, descKernelData},
		{"user code32", selUserCode32, descUserCode32},
		{"user data", selUserData, descUserData},
		{"user code64", selUserCode64, descUserCode64},
	}
	for _, c := range cases {
		if got := s.gdt.table[c.sel]; got != c.want {
			t.Errorf("%s descriptor = %#x, want %#x", c.name, got, c.want)
		}
	}
	low := s.gdt.table[selTSS]
	if gotType := (low >> 40) & 0xff; gotType != tssDescType {
		t.Fatalf("expected the TSS descriptor's type field to be %#x; got %#x", tssDescType, gotType)
	}
	if gotLimit := low & 0xffff; gotLimit == 0 {
		t.Fatal("expected a non-zero TSS descriptor limit")
	}
}

func TestTSSKernelStackTopRoundTrips(t *testing.T) {
	var tss TSS
	tss.SetKernelStackTop(0xdead_beef)
	if got := tss.KernelStackTop(); got != 0xdead_beef {
		t.Fatalf("expected KernelStackTop to round-trip; got %#x", got)
	}
}

func TestNewReportsX86_64Identity(t *testing.T) {
	a := New()
	if a.Name != "x86_64" {
		t.Fatalf("expected arch name x86_64; got %q", a.Name)
	}
	if a.Levels != 4 {
		t.Fatalf("expected 4 page-table levels; got %d", a.Levels)
	}
	if a.VABits != 48 {
		t.Fatalf("expected 48 virtual address bits; got %d", a.VABits)
	}
}
