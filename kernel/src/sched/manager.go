// Package sched is the ready queue plus the task manager that owns
// the big kernel lock: a FIFO of runnable tasks popped by one picker
// under a single coarse lock, generalized to a single-hart kernel.
package sched

import (
	"sync/atomic"

	"arch"
	"config"
	"defs"
	"klog"
	"percpu"
	"task"
	"wait"
)

/// Manager is the kernel's one task manager: the ready queue, the big
/// lock, and the bookkeeping needed to create, switch, block, and
/// reap tasks.
type Manager struct {
	a    *arch.Arch
	cpu  *percpu.PerCpu[task.Task]
	lock *BigLock

	ready []*task.Task
	root  *task.Task
	idle  *task.Task
}

/// NewManager builds the task manager, installs idle as the hart's
/// idle task, and makes root the running task.
func NewManager(a *arch.Arch, cpu *percpu.PerCpu[task.Task], root, idle *task.Task) *Manager {
	m := &Manager{a: a, cpu: cpu, lock: NewBigLock(a.Caps), root: root, idle: idle}
	cpu.SetIdleTask(idle)
	wasEnabled := a.Caps.DisableIRQs()
	cpu.SetCurrentTask(root)
	if wasEnabled {
		a.Caps.EnableIRQs()
	}
	root.SetState(task.Running)
	root.WaitChildrenExit = wait.New[task.Task](m.lock, m)
	idle.WaitChildrenExit = wait.New[task.Task](m.lock, m)
	return m
}

/// BigLock exposes the manager's lock so callers (waitpid's retry
/// loop, the syscall layer) can build their own wait.Waiter values, or
/// hold it across a sequence of manager calls.
func (m *Manager) BigLock() *BigLock { return m.lock }

/// Current returns the task presently running on this hart. It
/// satisfies wait.Scheduler.
func (m *Manager) Current() *task.Task { return m.cpu.CurrentTask() }

// pushReadyBack/pushReadyFront reset the task's quantum to MaxQuantum
// before insertion, so a task that yields voluntarily is
// indistinguishable on its next run from one that was preempted.
func (m *Manager) pushReadyBack(t *task.Task) {
	t.Quantum = config.MaxQuantum
	m.ready = append(m.ready, t)
}

func (m *Manager) pushReadyFront(t *task.Task) {
	t.Quantum = config.MaxQuantum
	m.ready = append([]*task.Task{t}, m.ready...)
}

func (m *Manager) pickNext() (*task.Task, bool) {
	if len(m.ready) == 0 {
		return nil, false
	}
	t := m.ready[0]
	m.ready = m.ready[1:]
	return t, true
}

// switchTo updates the per-CPU current-task slot, swaps the user
// page-table root if needed, and calls the architecture's context
// switch. It is idempotent when prev == next.
func (m *Manager) switchTo(prev, next *task.Task) {
	if prev == next {
		next.SetState(task.Running)
		return
	}
	next.SetState(task.Running)
	m.cpu.SetCurrentTask(next)
	if next.VM != nil {
		m.a.Caps.SetUserPageTableRoot(next.VM.Get().PageTable().RootAddr())
	}
	if setter, ok := m.cpu.ArchScratch.(arch.KernelStackSetter); ok {
		setter.SetKernelStackTop(uintptr(len(next.KStack)))
	}
	m.a.Ctx.Switch(prev.Context(), next.Context())
}

// resched must be called with the big lock held. It picks the next
// ready task, falling back to idle when the queue is empty, and
// switches to it.
func (m *Manager) resched() {
	next, ok := m.pickNext()
	if !ok {
		next = m.idle
	}
	prev := m.cpu.CurrentTask()
	m.switchTo(prev, next)
}

/// Spawn wires t into the manager (giving it a WaitChildrenExit
/// object bound to this manager) and enqueues it ready.
func (m *Manager) Spawn(t *task.Task) {
	t.WaitChildrenExit = wait.New[task.Task](m.lock, m)
	m.lock.Lock()
	m.pushReadyBack(t)
	m.lock.Unlock()
}

/// YieldCurrent gives up the hart voluntarily: the running task goes
/// back on the ready queue and the scheduler picks another.
func (m *Manager) YieldCurrent() {
	m.lock.Lock()
	defer m.lock.Unlock()
	cur := m.cpu.CurrentTask()
	if cur.State() != task.Running {
		klog.Panicf("sched: YieldCurrent called on non-running task")
	}
	cur.SetState(task.Ready)
	if cur != m.idle {
		m.pushReadyBack(cur)
	}
	m.resched()
}

func (m *Manager) blockLocked(cur *task.Task) {
	cur.SetState(task.Sleeping)
	m.resched()
}

/// BlockCurrent satisfies wait.Scheduler: it puts the running task to
/// sleep and reschedules. It is called with the big lock already held
/// by the Waiter that invoked it.
func (m *Manager) BlockCurrent() {
	cur := m.cpu.CurrentTask()
	if cur == m.idle {
		klog.Panicf("sched: idle task attempted to block")
	}
	if cur.State() != task.Running {
		klog.Panicf("sched: BlockCurrent called on non-running task")
	}
	m.blockLocked(cur)
}

/// Unblock satisfies wait.Scheduler: if t is Sleeping, sets it Ready
/// and pushes it to the front of the ready queue, reporting whether it
/// actually unblocked anything. It is called with the big lock held.
func (m *Manager) Unblock(t *task.Task) bool {
	if t.State() != task.Sleeping {
		return false
	}
	t.SetState(task.Ready)
	m.pushReadyFront(t)
	return true
}

/// TimeSource is the slice of the timer service SleepCurrent and tick
/// processing need, kept narrow so sched does not have to import every
/// method of timer.Service.
type TimeSource interface {
	CurrentTimeNs() uint64
	SetTimer(deadlineNs uint64, fn func())
}

/// SleepCurrent blocks the running task until deadlineNs, unless it
/// has already passed: it installs a timer callback that unblocks the
/// caller and flags whatever task is then current for reschedule, then
/// blocks.
func (m *Manager) SleepCurrent(deadlineNs uint64, clock TimeSource) {
	if clock.CurrentTimeNs() >= deadlineNs {
		return
	}
	m.lock.Lock()
	cur := m.cpu.CurrentTask()
	clock.SetTimer(deadlineNs, func() {
		m.lock.Lock()
		m.Unblock(cur)
		if c := m.cpu.CurrentTask(); c != nil {
			c.NeedResched.Store(true)
		}
		m.lock.Unlock()
	})
	m.blockLocked(cur)
	m.lock.Unlock()
}

/// ExitCurrent terminates the running task (which must be neither
/// idle nor root): it zombifies with code, its children are adopted by
/// root, and both root's and the parent's WaitChildrenExit waiters are
/// notified as appropriate.
//
// Go gives no way to make this call not return the way the real
// dispatcher's trap-return path does; the caller (the exit syscall
// handler) must treat ExitCurrent's return as "do not resume this
// task's trap frame" rather than literal non-return.
func (m *Manager) ExitCurrent(code int32) {
	m.lock.Lock()
	cur := m.cpu.CurrentTask()
	if cur == m.idle || cur == m.root {
		klog.Panicf("sched: idle or root task exited")
	}

	for _, child := range cur.ChildrenSnapshot() {
		cur.RemoveChild(child)
		child.Reparent(m.root)
		if child.State() == task.Zombie {
			m.root.WaitChildrenExit.NotifyLocked()
		}
	}

	cur.Zombify(code)
	if parent := cur.Parent.Value(); parent != nil && parent.WaitChildrenExit != nil {
		parent.WaitChildrenExit.NotifyLocked()
	}
	m.resched()
	m.lock.Unlock()
}

/// WaitPid waits for a child of cur to exit: pid == -1 matches any child.
/// ok is false if cur has no child matching pid at all, or (with
/// opts&WNOHANG set) if a matching child exists but none has zombied
/// yet.
func (m *Manager) WaitPid(cur *task.Task, pid int, opts uint32) (gotPid int, exitCode int32, ok bool) {
	for {
		children := cur.ChildrenSnapshot()
		anyMatch := false
		for _, c := range children {
			if pid != -1 && c.ID != pid {
				continue
			}
			anyMatch = true
			if c.State() == task.Zombie {
				cur.RemoveChild(c)
				return c.ID, c.ExitCode.Load(), true
			}
		}
		if !anyMatch {
			return 0, 0, false
		}
		if opts&defs.WNOHANG != 0 {
			return 0, 0, false
		}
		cur.WaitChildrenExit.Wait()
	}
}

/// TimerTick is the scheduler's share of the periodic timer interrupt:
/// decrement the current task's quantum and flag it for reschedule
/// once exhausted. The decrement is an atomic op and the reset in
/// pushReady* is a plain store; both happen with the big lock held,
/// so a tick never observes a half-applied reset.
func (m *Manager) TimerTick() {
	m.lock.Lock()
	cur := m.cpu.CurrentTask()
	if cur != m.idle {
		if atomic.AddUint32(&cur.Quantum, ^uint32(0)) == 0 {
			cur.NeedResched.Store(true)
		}
	}
	m.lock.Unlock()
}

/// YieldNow checks the current task's reschedule flag on return from
/// a trap: if set, it is cleared and the current task yields the hart.
func (m *Manager) YieldNow() {
	cur := m.cpu.CurrentTask()
	if cur.NeedResched.Load() {
		cur.NeedResched.Store(false)
		m.YieldCurrent()
	}
}
