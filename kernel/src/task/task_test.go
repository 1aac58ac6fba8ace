package task

import "testing"

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{Ready, "ready"},
		{Running, "running"},
		{Sleeping, "sleeping"},
		{Zombie, "zombie"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func newBareTask(id int) *Task {
	t := &Task{ID: id}
	t.state.Store(int32(Ready))
	return t
}

func TestReparentMovesTaskUnderNewParent(t *testing.T) {
	oldParent := newBareTask(1)
	newParent := newBareTask(2)
	child := newBareTask(3)
	oldParent.addChild(child)

	child.Reparent(newParent)

	if got := newParent.ChildrenSnapshot(); len(got) != 1 || got[0] != child {
		t.Fatalf("expected newParent to have child; got %v", got)
	}
	if p := child.Parent.Value(); p != newParent {
		t.Fatalf("expected child.Parent to be newParent")
	}
}

func TestRemoveChild(t *testing.T) {
	parent := newBareTask(1)
	c1 := newBareTask(2)
	c2 := newBareTask(3)
	parent.addChild(c1)
	parent.addChild(c2)

	parent.RemoveChild(c1)

	got := parent.ChildrenSnapshot()
	if len(got) != 1 || got[0] != c2 {
		t.Fatalf("expected only c2 to remain; got %v", got)
	}

	// removing an already-removed child is a no-op, not a panic.
	parent.RemoveChild(c1)
	if got := len(parent.ChildrenSnapshot()); got != 1 {
		t.Fatalf("expected a redundant RemoveChild to be a no-op; got %d children", got)
	}
}

func TestChildrenSnapshotIsACopy(t *testing.T) {
	parent := newBareTask(1)
	parent.addChild(newBareTask(2))

	snap := parent.ChildrenSnapshot()
	snap[0] = nil

	if got := parent.ChildrenSnapshot(); got[0] == nil {
		t.Fatal("expected mutating a snapshot not to affect the task's own children slice")
	}
}

func TestZombifyWithNoVM(t *testing.T) {
	tk := newBareTask(5)
	tk.SetState(Running)

	tk.Zombify(7)

	if tk.State() != Zombie {
		t.Fatalf("expected state Zombie after Zombify; got %s", tk.State())
	}
	if got := tk.ExitCode.Load(); got != 7 {
		t.Fatalf("expected exit code 7; got %d", got)
	}
	if tk.VM != nil {
		t.Fatal("expected VM to remain nil when the task never owned one")
	}
}

func TestSharedVMShareBumpsRefcount(t *testing.T) {
	sv := &SharedVM{}
	sv.refcount.Store(1)

	shared := sv.Share()

	if shared != sv {
		t.Fatal("expected Share to return the same SharedVM")
	}
	if got := sv.refcount.Load(); got != 2 {
		t.Fatalf("expected refcount 2 after Share; got %d", got)
	}
	// Drop decrements without reaching zero; the underlying MemorySet
	// (nil here) must not be touched.
	sv.Drop()
	if got := sv.refcount.Load(); got != 1 {
		t.Fatalf("expected refcount 1 after one drop; got %d", got)
	}
}
