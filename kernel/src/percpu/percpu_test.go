package percpu

import (
	"testing"

	archx8664 "archx8664"
)

type fakeTask struct{ id int }

func TestCurrentAndIdleTaskRoundTrip(t *testing.T) {
	a := archx8664.New()
	c := New[fakeTask](a, 3)

	if got := c.ID(); got != 3 {
		t.Fatalf("expected ID 3; got %d", got)
	}
	if c.CurrentTask() != nil || c.IdleTask() != nil {
		t.Fatal("expected a fresh block to carry no current/idle task")
	}

	idle := &fakeTask{id: 0}
	c.SetIdleTask(idle)
	if c.IdleTask() != idle {
		t.Fatal("expected IdleTask to return the task just installed")
	}

	// a fresh arch.Capabilities starts with IRQs disabled.
	cur := &fakeTask{id: 1}
	c.SetCurrentTask(cur)
	if c.CurrentTask() != cur {
		t.Fatal("expected CurrentTask to return the task just installed")
	}
}

func TestSetCurrentTaskPanicsWithIRQsEnabled(t *testing.T) {
	a := archx8664.New()
	a.Caps.EnableIRQs()
	c := New[fakeTask](a, 0)

	defer func() {
		if recover() == nil {
			t.Fatal("expected SetCurrentTask to panic when IRQs are enabled")
		}
	}()
	c.SetCurrentTask(&fakeTask{id: 1})
}

// tssHolder is the slice of x86-64's scratch block this test needs:
// just enough to confirm Install actually built a usable TSS, without
// reaching into the unexported concrete type New returned.
type tssHolder interface {
	TSS() *archx8664.TSS
}

func TestNewInstallsArchScratch(t *testing.T) {
	a := archx8664.New()
	c := New[fakeTask](a, 0)

	if c.ArchScratch == nil {
		t.Fatal("expected New to install a non-nil ArchScratch on x86-64")
	}
	holder, ok := c.ArchScratch.(tssHolder)
	if !ok {
		t.Fatalf("expected ArchScratch to expose a TSS; got %T", c.ArchScratch)
	}
	tss := holder.TSS()
	tss.SetKernelStackTop(0xdead0000)
	if got := tss.KernelStackTop(); got != 0xdead0000 {
		t.Fatalf("expected KernelStackTop to round-trip; got %#x", got)
	}
}

func TestInstallThreadPointerAndCurrentRoundTrip(t *testing.T) {
	a := archx8664.New()
	blk := New[fakeTask](a, 2)
	blk.SetIdleTask(&fakeTask{id: 0})

	InstallThreadPointer(a, blk)

	got := Current[fakeTask](a)
	if got != blk {
		t.Fatal("expected Current to recover the exact block installed via InstallThreadPointer")
	}
	if got.ID() != 2 {
		t.Fatalf("expected the recovered block's ID to be 2; got %d", got.ID())
	}
}
