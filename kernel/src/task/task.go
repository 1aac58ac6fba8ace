// Package task is the kernel's unit of scheduling: a single struct
// that covers both kernel-only tasks (drivers, the idle loop) and user
// tasks backed by a vm.MemorySet.
package task

import (
	"sync"
	"sync/atomic"
	"weak"

	"arch"
	"memaddr"
	"vm"
	"wait"
)

/// State is a task's position in the scheduler's state machine.
type State int32

const (
	Ready State = iota
	Running
	Sleeping
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

/// EntryKind distinguishes the two ways a Task can start running.
type EntryKind int

const (
	EntryKernel EntryKind = iota
	EntryUser
)

/// SharedVM refcounts a vm.MemorySet across clones. A plain clone
/// ("thread" flavor) bumps the count and hands out the same
/// *vm.MemorySet; a fork deep-copies first. The MemorySet itself is
/// only torn down once the last owner drops it.
type SharedVM struct {
	ms       *vm.MemorySet
	refcount atomic.Int32
}

func newSharedVM(ms *vm.MemorySet) *SharedVM {
	sv := &SharedVM{ms: ms}
	sv.refcount.Store(1)
	return sv
}

/// Get returns the underlying MemorySet.
func (sv *SharedVM) Get() *vm.MemorySet { return sv.ms }

/// Share bumps the refcount and returns sv itself, for a clone that
/// wants to run against the same address space as its parent.
func (sv *SharedVM) Share() *SharedVM {
	sv.refcount.Add(1)
	return sv
}

/// Drop decrements the refcount and destroys the MemorySet once the
/// last owner has dropped it.
func (sv *SharedVM) Drop() {
	if sv.refcount.Add(-1) == 0 {
		sv.ms.Destroy()
	}
}

var nextID atomic.Int64

func init() {
	// ID 0 is reserved for the idle task (percpu's PerCpu.IdleTask),
	// so the first real task allocated gets 1.
	nextID.Store(1)
}

/// Task is the kernel's schedulable unit: either a kernel task running
/// a Go function (EntryKernel) or a user task resuming into a saved
/// TrapFrame (EntryUser), carrying its own kernel stack, saved
/// context, optional address space, and parent/child bookkeeping for
/// waitpid.
type Task struct {
	ID       int
	IsKernel bool
	IsShared bool // true for a clone sharing VM with its parent

	Kind      EntryKind
	KernelPC  func(arg uintptr)
	KernelArg uintptr
	UserFrame *arch.TrapFrame

	KStack []byte
	ctx    *arch.Context

	state       atomic.Int32
	ExitCode    atomic.Int32
	NeedResched atomic.Bool

	// Quantum is decremented on every timer tick by the scheduler and
	// reset to config.MaxQuantum whenever the task is pushed onto the
	// ready queue. The reset is a plain store and the decrement is a
	// separate atomic op; both run with the scheduler's big lock held,
	// so a tick never lands between a reset and a decrement.
	Quantum uint32

	VM *SharedVM

	Parent weak.Pointer[Task]

	childrenMu sync.Mutex
	Children   []*Task

	// WaitChildrenExit is signalled by every child that zombies, and
	// waited on by waitpid when no already-exited child satisfies the
	// call immediately.
	WaitChildrenExit *wait.Waiter[Task]
}

func allocTask() *Task {
	t := &Task{ID: int(nextID.Add(1)) - 1}
	t.state.Store(int32(Ready))
	return t
}

/// State loads the task's current scheduler state.
func (t *Task) State() State { return State(t.state.Load()) }

/// SetState stores a new scheduler state.
func (t *Task) SetState(s State) { t.state.Store(int32(s)) }

/// Context returns the saved callee-saved register set switchTo reads
/// and writes.
func (t *Task) Context() *arch.Context { return t.ctx }

/// NewKernel builds a task that starts by calling entry(arg) on a
/// fresh kernel stack; it never owns a VM.
func NewKernel(a *arch.Arch, entry func(arg uintptr), arg uintptr, stackSize int) *Task {
	t := allocTask()
	t.IsKernel = true
	t.Kind = EntryKernel
	t.KernelPC = entry
	t.KernelArg = arg
	t.KStack = make([]byte, stackSize)
	stackTop := uintptr(len(t.KStack))
	t.ctx = a.Ctx.NewKernel(entry, arg, stackTop)
	return t
}

/// NewUser builds a task that resumes into tf in user mode, owning ms
/// as its one and only address space (refcount 1, not shared).
func NewUser(a *arch.Arch, tf *arch.TrapFrame, ms *vm.MemorySet, stackSize int) *Task {
	t := allocTask()
	t.Kind = EntryUser
	t.UserFrame = tf
	t.VM = newSharedVM(ms)
	t.KStack = make([]byte, stackSize)
	stackTop := uintptr(len(t.KStack))
	t.ctx = a.Ctx.NewUser(tf, stackTop, ms.PageTable().RootAddr())
	return t
}

/// NewClone builds a child that shares parent's VM (the refcount is
/// bumped, not copied) and starts at the same user trap frame, the
/// "thread" flavor of task creation.
func NewClone(a *arch.Arch, parent *Task, stackSize int) *Task {
	t := allocTask()
	t.Kind = EntryUser
	frame := *parent.UserFrame
	t.UserFrame = &frame
	t.IsShared = true
	t.VM = parent.VM.Share()
	t.KStack = make([]byte, stackSize)
	stackTop := uintptr(len(t.KStack))
	t.ctx = a.Ctx.NewUser(t.UserFrame, stackTop, t.VM.Get().PageTable().RootAddr())
	t.Parent = weak.Make(parent)
	parent.addChild(t)
	return t
}

/// NewFork builds a child with a deep-copied address space, the
/// "process" flavor of task creation. kernelStart/kernelEnd bound the
/// kernel half of the address space that the new page table's fresh
/// root must still share or reclone.
func NewFork(a *arch.Arch, parent *Task, kernelStart, kernelEnd memaddr.VirtAddr, stackSize int) *Task {
	t := allocTask()
	t.Kind = EntryUser
	frame := *parent.UserFrame
	t.UserFrame = &frame
	nms := vm.Dup(parent.VM.Get(), kernelStart, kernelEnd)
	t.VM = newSharedVM(nms)
	t.KStack = make([]byte, stackSize)
	stackTop := uintptr(len(t.KStack))
	t.ctx = a.Ctx.NewUser(t.UserFrame, stackTop, nms.PageTable().RootAddr())
	t.Parent = weak.Make(parent)
	parent.addChild(t)
	return t
}

/// NewIdle builds the hart's idle task: ID 0, never placed on the
/// ready queue, selected by the scheduler only when it is empty.
func NewIdle(a *arch.Arch, entry func(arg uintptr), stackSize int) *Task {
	t := &Task{ID: 0, IsKernel: true, Kind: EntryKernel, KernelPC: entry}
	t.state.Store(int32(Ready))
	t.KStack = make([]byte, stackSize)
	stackTop := uintptr(len(t.KStack))
	t.ctx = a.Ctx.NewKernel(entry, 0, stackTop)
	return t
}

func (t *Task) addChild(child *Task) {
	t.childrenMu.Lock()
	t.Children = append(t.Children, child)
	t.childrenMu.Unlock()
}

/// Reparent moves t under newParent, used when a task's original
/// parent exits and the root task adopts its children.
func (t *Task) Reparent(newParent *Task) {
	t.Parent = weak.Make(newParent)
	newParent.addChild(t)
}

/// RemoveChild drops child from t's children list once waitpid has
/// reaped it.
func (t *Task) RemoveChild(child *Task) {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	for i, c := range t.Children {
		if c == child {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return
		}
	}
}

/// ChildrenSnapshot returns a copy of the current children list, safe
/// to range over without holding the lock.
func (t *Task) ChildrenSnapshot() []*Task {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	out := make([]*Task, len(t.Children))
	copy(out, t.Children)
	return out
}

/// ReplaceVM drops t's current address space, if any, and installs ms
/// as its new one with a fresh single-owner refcount — exec's "replace
/// current VM with a fresh ELF image" semantics.
func (t *Task) ReplaceVM(ms *vm.MemorySet) {
	if t.VM != nil {
		t.VM.Drop()
	}
	t.VM = newSharedVM(ms)
}

/// Zombify marks the task exited with code, dropping its VM reference
/// if it owned one (shared VMs simply decrement; the last owner to
/// drop frees the MemorySet).
func (t *Task) Zombify(code int32) {
	t.ExitCode.Store(code)
	t.SetState(Zombie)
	if t.VM != nil {
		t.VM.Drop()
		t.VM = nil
	}
}
