package aarch64

import (
	"testing"

	"arch"
	"memaddr"
)

func TestCodecPageEncodeDecodeRoundTrip(t *testing.T) {
	c := codec{}
	pa := memaddr.PhysAddr(0x2000_0000)

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
			t.Fatalf("expected a freshly encoded entry to be valid, flags=%s", flags)
		}
		if c.IsBlock(e) {
			t.Fatalf("expected a 4K leaf (descTable set) not to report as a block, flags=%s", flags)
		}
		if got := c.PAddr(e); got != pa {
			t.Fatalf("expected PAddr to round-trip to %s; got %s (flags=%s)", pa, got, flags)
		}
		if got := c.Flags(e); got != flags {
			t.Fatalf("expected Flags to round-trip to %s; got %s", flags, got)
		}
	}
}

func TestCodecBlockEntryClearsDescTable(t *testing.T) {
	c := codec{}
	e := c.NewPage(memaddr.PhysAddr(0x40000000), memaddr.Read, true)
	if !c.IsBlock(e) {
		t.Fatal("expected a block mapping (isBlock=true) to report IsBlock")
	}
}

func TestFrameOpsClassify(t *testing.T) {
	f := frameOps{}
	cases := []struct {
		tf   arch.TrapFrame
		want arch.Cause
	}{
		{arch.TrapFrame{Vector: vectorSVC}, arch.CauseSyscall},
		{arch.TrapFrame{Vector: vectorDataAbortLower}, arch.CausePageFaultUser},
		{arch.TrapFrame{Vector: vectorDataAbortSame}, arch.CausePageFaultKernel},
		{arch.TrapFrame{Vector: vectorIRQLowerBase + 5}, arch.CauseExternalInterrupt},
		{arch.TrapFrame{Vector: 1}, arch.CauseException},
	}
	for _, c := range cases {
		if got := f.Classify(&c.tf); got != c.want {
			t.Errorf("Classify(vector=%#x) = %v, want %v", c.tf.Vector, got, c.want)
		}
	}
}

func TestFrameOpsSyscallArgsAndSetReturn(t *testing.T) {
	f := frameOps{}
	tf := &arch.TrapFrame{}
	tf.GPRegs[regX8] = 93
	tf.GPRegs[regX0] = 10
	tf.GPRegs[regX1] = 20
	tf.GPRegs[regX2] = 30

	id, a0, a1, a2 := f.SyscallArgs(tf)
	if id != 93 || a0 != 10 || a1 != 20 || a2 != 30 {
		t.Fatalf("unexpected syscall args: id=%d a0=%d a1=%d a2=%d", id, a0, a1, a2)
	}

	f.SetReturn(tf, 5)
	if tf.GPRegs[regX0] != 5 {
		t.Fatalf("expected SetReturn to write x0; got %d", tf.GPRegs[regX0])
	}
}

func TestFrameOpsExternalInterruptFrameClassifiesAsExternal(t *testing.T) {
	f := frameOps{}
	tf := f.ExternalInterruptFrame(2)
	if got := f.Classify(tf); got != arch.CauseExternalInterrupt {
		t.Fatalf("expected a synthesized interrupt frame to classify as external; got %v", got)
	}
}

func TestNewPerCPUScratchInstallIsANoop(t *testing.T) {
	a := New()
	s := a.NewPerCPUScratch()
	s.Install() // must not panic; AArch64 has nothing to install
}

func TestNewReportsAArch64Identity(t *testing.T) {
	a := New()
	if a.Name != "aarch64" {
		t.Fatalf("expected arch name aarch64; got %q", a.Name)
	}
	if a.CanonicalForm != memaddr.UniformTop16 {
		t.Fatalf("expected the uniform-top-16-bit canonical form; got %v", a.CanonicalForm)
	}
}
