// Package wait is a single-waiter condition tied to the scheduler's
// big kernel lock. It is generic over the task type so it can sit
// underneath package task without task needing to import a scheduler
// package, and underneath sched without sched needing a second copy of
// the same logic for each waiter the kernel has.
package wait

import "sync"

/// Scheduler is the thin slice of the task manager a Waiter needs: who
/// is running now, and how to block/unblock it. sched.Manager
/// implements this for T = task.Task.
type Scheduler[T any] interface {
	Current() *T
	BlockCurrent()
	Unblock(*T) bool
}

/// Waiter holds an optional reference to a single waiting task. A
/// second concurrent waiter is a contract violation the
/// caller (waitpid's retry loop) is structured to avoid: only the
/// single owner of this Waiter ever calls Wait.
type Waiter[T any] struct {
	mu      sync.Locker // the big kernel lock, shared with the scheduler
	sched   Scheduler[T]
	waiting *T
}

/// New builds a Waiter bound to the scheduler's big kernel lock. lock
/// must be the exact lock Scheduler's methods expect held/not held as
/// documented below; sched's own Lock is typically IRQ-disabling, not
/// a plain sync.Mutex, so this takes sync.Locker rather than a
/// concrete mutex type.
func New[T any](lock sync.Locker, sched Scheduler[T]) *Waiter[T] {
	return &Waiter[T]{mu: lock, sched: sched}
}

/// Wait blocks the current task until NotifyLocked wakes it. It must
/// be called while the big kernel lock is NOT held: it acquires the
/// lock itself, records the current task, and blocks,
/// which releases the lock for the duration of the reschedule.
func (w *Waiter[T]) Wait() {
	w.mu.Lock()
	w.waiting = w.sched.Current()
	w.sched.BlockCurrent() // blocks with the lock held; sched releases it across the switch
	w.mu.Unlock()
}

/// NotifyLocked wakes the waiter, if any, and clears the slot. It must
/// be called while the big kernel lock IS held.
func (w *Waiter[T]) NotifyLocked() {
	if w.waiting == nil {
		return
	}
	w.sched.Unblock(w.waiting)
	w.waiting = nil
}
